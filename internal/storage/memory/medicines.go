package memory

import (
	"context"
	"strconv"

	"medicine-dispatch/internal/models"
)

func (s *Store) CreateMedicine(_ context.Context, m *models.Medicine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cur := range s.medicines {
		if cur.Name == m.Name && cur.Type == m.Type {
			return models.ErrDuplicateMedicine
		}
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.medicines[m.ID] = &cp
	return nil
}

func (s *Store) GetMedicineByID(_ context.Context, id string) (*models.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.medicines[id]
	if !ok {
		return nil, models.ErrMedicineNotFound
	}
	cp := *m
	return &cp, nil
}

// GetMedicinesByIDs returns the medicines found; missing ids are simply absent.
func (s *Store) GetMedicinesByIDs(_ context.Context, ids []string) (map[string]models.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Medicine, len(ids))
	for _, id := range ids {
		if m, ok := s.medicines[id]; ok {
			out[id] = *m
		}
	}
	return out, nil
}

func (s *Store) ListMedicines(_ context.Context, p models.ListParams) ([]models.Medicine, int, error) {
	s.mu.RLock()
	items := make([]models.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		items = append(items, *m)
	}
	s.mu.RUnlock()

	return page(items, p, models.MedicineOrderColumns, "name", func(m models.Medicine, col string) string {
		switch col {
		case "type":
			return strconv.Itoa(100 + int(m.Type))
		case "price":
			return numKey(m.Price)
		case "created_at":
			return timeKey(m.CreatedAt)
		default:
			return m.Name
		}
	})
}
