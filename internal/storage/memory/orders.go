package memory

import (
	"context"
	"slices"
	"strings"

	"medicine-dispatch/internal/models"
)

func (s *Store) CreateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.points[o.PickupPointID]; !ok {
		return models.ErrPickupPointNotFound
	}
	if o.MachineID != nil {
		if _, ok := s.machines[*o.MachineID]; !ok {
			return models.ErrMachineNotFound
		}
	}
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string, p models.ListParams) ([]models.Order, int, error) {
	return s.listOrders(p, func(o *models.Order) bool { return o.UserID == userID })
}

func (s *Store) ListOrders(_ context.Context, p models.ListParams) ([]models.Order, int, error) {
	return s.listOrders(p, func(*models.Order) bool { return true })
}

// TransitionOrder applies upd when the stored status is one of upd.From.
func (s *Store) TransitionOrder(_ context.Context, id string, upd models.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, models.ErrOrderNotFound
	}
	if !slices.Contains(upd.From, o.Status) {
		return false, nil
	}
	o.Status = upd.To
	if upd.MachineID != nil {
		m := *upd.MachineID
		o.MachineID = &m
	}
	if upd.PaymentDate != nil {
		t := *upd.PaymentDate
		o.PaymentDate = &t
	}
	if upd.CompletionDate != nil {
		t := *upd.CompletionDate
		o.CompletionDate = &t
	}
	o.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) listOrders(p models.ListParams, keep func(*models.Order) bool) ([]models.Order, int, error) {
	s.mu.RLock()
	var items []models.Order
	for _, o := range s.orders {
		if keep(o) {
			items = append(items, *cloneOrder(o))
		}
	}
	s.mu.RUnlock()

	return page(items, p, models.OrderOrderColumns, "created_at", func(o models.Order, col string) string {
		switch col {
		case "status":
			return string(o.Status)
		case "payment_amount":
			return numKey(o.PaymentAmount)
		case "updated_at":
			return timeKey(o.UpdatedAt)
		default:
			return timeKey(o.CreatedAt) + o.ID
		}
	})
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	if o.MachineID != nil {
		m := *o.MachineID
		cp.MachineID = &m
	}
	return &cp
}

func sortTokens(ts []models.ReservationToken) {
	slices.SortStableFunc(ts, func(a, b models.ReservationToken) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
