package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"medicine-dispatch/internal/models"
)

func (s *Store) CreatePickupPoint(_ context.Context, p *models.PickupPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	s.points[p.ID] = &cp
	return nil
}

func (s *Store) GetPickupPointByID(_ context.Context, id string) (*models.PickupPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.points[id]
	if !ok {
		return nil, models.ErrPickupPointNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPickupPoints(_ context.Context, p models.ListParams) ([]models.PickupPoint, int, error) {
	s.mu.RLock()
	items := make([]models.PickupPoint, 0, len(s.points))
	for _, pt := range s.points {
		items = append(items, *pt)
	}
	s.mu.RUnlock()

	return page(items, p, models.PickupPointOrderColumns, "created_at", func(pt models.PickupPoint, col string) string {
		if col == "updated_at" {
			return timeKey(pt.UpdatedAt)
		}
		return timeKey(pt.CreatedAt)
	})
}

func (s *Store) DeletePickupPoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.points[id]; !ok {
		return models.ErrPickupPointNotFound
	}
	delete(s.points, id)
	for vid, v := range s.visits {
		if v.PickupPointID == id {
			delete(s.visits, vid)
		}
	}
	return nil
}

func (s *Store) CreateVisit(_ context.Context, v *models.PickupPointVisit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.machines[v.MachineID]; !ok {
		return models.ErrMachineNotFound
	}
	if _, ok := s.points[v.PickupPointID]; !ok {
		return models.ErrPickupPointNotFound
	}
	for _, cur := range s.visits {
		if cur.MachineID == v.MachineID && cur.PickupPointID == v.PickupPointID && cur.ArrivalAt.Equal(v.ArrivalAt) {
			return models.ErrDuplicateStop
		}
	}
	v.CreatedAt = s.now()
	cp := *v
	cp.PickupPoint = nil
	s.visits[v.ID] = &cp
	return nil
}

func (s *Store) GetVisitByID(_ context.Context, id string) (*models.PickupPointVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.visits[id]
	if !ok {
		return nil, models.ErrVisitNotFound
	}
	return s.joinVisitLocked(v), nil
}

func (s *Store) ListVisitsByMachine(_ context.Context, machineID string, p models.ListParams) ([]models.PickupPointVisit, int, error) {
	s.mu.RLock()
	var items []models.PickupPointVisit
	for _, v := range s.visits {
		if v.MachineID == machineID {
			items = append(items, *s.joinVisitLocked(v))
		}
	}
	s.mu.RUnlock()

	return page(items, p, models.VisitOrderColumns, "arrival_at", func(v models.PickupPointVisit, col string) string {
		switch col {
		case "departure_at":
			return timeKey(v.DepartureAt)
		case "created_at":
			return timeKey(v.CreatedAt)
		default:
			return timeKey(v.ArrivalAt)
		}
	})
}

// ListVisitsInWindow returns visits whose [arrival, departure] intersects
// [start, end], ordered by arrival, with the pickup point joined.
func (s *Store) ListVisitsInWindow(_ context.Context, machineID string, start, end time.Time) ([]models.PickupPointVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PickupPointVisit
	for _, v := range s.visits {
		if v.MachineID != machineID || v.DepartureAt.Before(start) || v.ArrivalAt.After(end) {
			continue
		}
		out = append(out, *s.joinVisitLocked(v))
	}
	sortByArrival(out)
	return out, nil
}

// ListDeliverableVisits returns deliver_orders visits at a pickup point arriving after t.
func (s *Store) ListDeliverableVisits(_ context.Context, pickupPointID string, after time.Time) ([]models.PickupPointVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PickupPointVisit
	for _, v := range s.visits {
		if v.PickupPointID == pickupPointID && v.DeliverOrders && v.ArrivalAt.After(after) {
			out = append(out, *s.joinVisitLocked(v))
		}
	}
	sortByArrival(out)
	return out, nil
}

func (s *Store) DeleteVisit(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.visits[id]; !ok {
		return models.ErrVisitNotFound
	}
	delete(s.visits, id)
	return nil
}

func (s *Store) joinVisitLocked(v *models.PickupPointVisit) *models.PickupPointVisit {
	cp := *v
	if p, ok := s.points[v.PickupPointID]; ok {
		pt := *p
		cp.PickupPoint = &pt
	}
	return &cp
}

func sortByArrival(vs []models.PickupPointVisit) {
	slices.SortStableFunc(vs, func(a, b models.PickupPointVisit) int {
		if c := a.ArrivalAt.Compare(b.ArrivalAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
