package models

import (
	"fmt"
	"slices"
)

// ListParams controls pagination and ordering of list queries.
type ListParams struct {
	Offset  int    `query:"offset" json:"offset" validate:"gte=0"`
	Limit   int    `query:"limit" json:"limit" validate:"gte=0,lte=100"`
	OrderBy string `query:"order_by" json:"order_by"`
	Desc    bool   `query:"desc" json:"desc"`
}

// Page is the body of every list endpoint.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// Sortable columns per entity. Names match both the JSON field and the SQL column.
var (
	MachineOrderColumns     = []string{"name", "mac", "status", "created_at", "updated_at"}
	PickupPointOrderColumns = []string{"created_at", "updated_at"}
	VisitOrderColumns       = []string{"arrival_at", "departure_at", "created_at"}
	MedicineOrderColumns    = []string{"name", "type", "price", "created_at"}
	SlotOrderColumns        = []string{"total_count", "reserved_count", "created_at"}
	OrderOrderColumns       = []string{"status", "payment_amount", "created_at", "updated_at"}
	StatisticOrderColumns   = []string{"created_at"}
)

// OrderClause returns "<column> ASC|DESC" for p, using def when OrderBy is
// empty. Columns outside allowed yield ErrInvalidOrderColumn.
func (p ListParams) OrderClause(allowed []string, def string) (string, error) {
	col := p.OrderBy
	if col == "" {
		col = def
	}
	if !slices.Contains(allowed, col) {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderColumn, col)
	}
	dir := "ASC"
	if p.Desc {
		dir = "DESC"
	}
	return col + " " + dir, nil
}

// Window applies Offset and Limit to a slice length n and returns the bounds.
// A zero Limit means no limit.
func (p ListParams) Window(n int) (int, int) {
	lo := min(max(p.Offset, 0), n)
	hi := n
	if p.Limit > 0 {
		hi = min(lo+p.Limit, n)
	}
	return lo, hi
}
