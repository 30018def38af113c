// Package memory is an in-process implementation of every repository used
// by the services. It backs tests and the "memory" database driver.
package memory

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"medicine-dispatch/internal/models"
)

// Store keeps all entities in maps guarded by mu. Slot counters are
// additionally guarded by a mutex per slot so reservations on different
// slots do not contend.
type Store struct {
	mu sync.RWMutex

	machines     map[string]*models.Machine
	machineByMAC map[string]string
	statistics   map[string][]models.MachineStatistic

	points map[string]*models.PickupPoint
	visits map[string]*models.PickupPointVisit

	medicines map[string]*models.Medicine

	slots        map[string]*slotEntry
	slotByKey    map[string]string
	reservations map[string]*reservationEntry

	orders map[string]*models.Order

	now func() time.Time
}

type slotEntry struct {
	mu      sync.Mutex
	slot    models.InventorySlot
	removed bool
}

type reservationEntry struct {
	slot  *slotEntry
	token models.ReservationToken
}

func NewStore() *Store {
	return &Store{
		machines:     make(map[string]*models.Machine),
		machineByMAC: make(map[string]string),
		statistics:   make(map[string][]models.MachineStatistic),
		points:       make(map[string]*models.PickupPoint),
		visits:       make(map[string]*models.PickupPointVisit),
		medicines:    make(map[string]*models.Medicine),
		slots:        make(map[string]*slotEntry),
		slotByKey:    make(map[string]string),
		reservations: make(map[string]*reservationEntry),
		orders:       make(map[string]*models.Order),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func slotKey(machineID, medicineID string) string {
	return machineID + "/" + medicineID
}

// page sorts items by the requested column and applies the offset/limit window.
func page[T any](items []T, p models.ListParams, allowed []string, def string, key func(T, string) string) ([]T, int, error) {
	if _, err := p.OrderClause(allowed, def); err != nil {
		return nil, 0, err
	}
	col := p.OrderBy
	if col == "" {
		col = def
	}
	slices.SortStableFunc(items, func(a, b T) int {
		c := strings.Compare(key(a, col), key(b, col))
		if p.Desc {
			return -c
		}
		return c
	})
	lo, hi := p.Window(len(items))
	return items[lo:hi], len(items), nil
}

func timeKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000")
}

func numKey(f float64) string {
	return fmt.Sprintf("%020.4f", f)
}
