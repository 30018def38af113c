package memory

import (
	"context"
	"slices"

	"medicine-dispatch/internal/models"
)

func (s *Store) CreateMachine(_ context.Context, m *models.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.machineByMAC[m.MAC]; ok {
		return models.ErrDuplicateMachine
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.machines[m.ID] = &cp
	s.machineByMAC[m.MAC] = m.ID
	return nil
}

func (s *Store) GetMachineByID(_ context.Context, id string) (*models.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.machines[id]
	if !ok {
		return nil, models.ErrMachineNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetMachineByMAC(_ context.Context, mac string) (*models.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.machineByMAC[mac]
	if !ok {
		return nil, models.ErrMachineNotFound
	}
	cp := *s.machines[m]
	return &cp, nil
}

func (s *Store) ListMachines(_ context.Context, p models.ListParams) ([]models.Machine, int, error) {
	s.mu.RLock()
	items := make([]models.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		items = append(items, *m)
	}
	s.mu.RUnlock()

	return page(items, p, models.MachineOrderColumns, "created_at", func(m models.Machine, col string) string {
		switch col {
		case "name":
			return m.Name
		case "mac":
			return m.MAC
		case "status":
			return string(m.Status)
		case "updated_at":
			return timeKey(m.UpdatedAt)
		default:
			return timeKey(m.CreatedAt)
		}
	})
}

func (s *Store) UpdateMachine(_ context.Context, id string, upd models.UpdateMachineRequest) (*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.machines[id]
	if !ok {
		return nil, models.ErrMachineNotFound
	}
	if upd.Name != nil {
		cur.Name = *upd.Name
	}
	if upd.Location != nil {
		cur.Location = *upd.Location
	}
	if upd.LastMaintenanceAt != nil {
		at := upd.LastMaintenanceAt.UTC()
		cur.LastMaintenanceAt = &at
	}
	cur.UpdatedAt = s.now()
	cp := *cur
	return &cp, nil
}

func (s *Store) SetMachineStatus(_ context.Context, id string, from []models.MachineStatus, to models.MachineStatus) (*models.Machine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.machines[id]
	if !ok {
		return nil, false, models.ErrMachineNotFound
	}
	if !slices.Contains(from, cur.Status) {
		return nil, false, nil
	}
	cur.Status = to
	cur.UpdatedAt = s.now()
	cp := *cur
	return &cp, true, nil
}

// DeleteMachine removes the machine with its slots, visits and statistics
// and detaches it from orders.
func (s *Store) DeleteMachine(_ context.Context, id string) (*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[id]
	if !ok {
		return nil, models.ErrMachineNotFound
	}
	delete(s.machines, id)
	delete(s.machineByMAC, m.MAC)
	delete(s.statistics, id)

	for vid, v := range s.visits {
		if v.MachineID == id {
			delete(s.visits, vid)
		}
	}
	for sid, e := range s.slots {
		if e.slot.MachineID == id {
			s.removeSlotLocked(sid, e)
		}
	}
	for _, o := range s.orders {
		if o.MachineID != nil && *o.MachineID == id {
			o.MachineID = nil
		}
	}
	return m, nil
}

func (s *Store) SetMachineOnline(_ context.Context, mac string, online bool) (*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.machineByMAC[mac]
	if !ok {
		return nil, models.ErrMachineNotFound
	}
	m := s.machines[id]
	m.IsOnline = online
	m.UpdatedAt = s.now()
	cp := *m
	return &cp, nil
}

func (s *Store) PromoteMachine(_ context.Context, mac string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.machineByMAC[mac]
	if !ok {
		return false, models.ErrMachineNotFound
	}
	m := s.machines[id]
	if m.Status != models.MachineUnregistered {
		return false, nil
	}
	m.Status = models.MachineRegistered
	m.IsOnline = true
	m.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) UpdateMachineLocation(_ context.Context, mac string, loc models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.machineByMAC[mac]
	if !ok {
		return models.ErrMachineNotFound
	}
	s.machines[id].Location = loc
	s.machines[id].UpdatedAt = s.now()
	return nil
}

func (s *Store) CreateStatistic(_ context.Context, st *models.MachineStatistic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.machines[st.MachineID]; !ok {
		return models.ErrMachineNotFound
	}
	st.CreatedAt = s.now()
	s.statistics[st.MachineID] = append(s.statistics[st.MachineID], *st)
	return nil
}

func (s *Store) ListStatistics(_ context.Context, machineID string, p models.ListParams) ([]models.MachineStatistic, int, error) {
	s.mu.RLock()
	if _, ok := s.machines[machineID]; !ok {
		s.mu.RUnlock()
		return nil, 0, models.ErrMachineNotFound
	}
	items := slices.Clone(s.statistics[machineID])
	s.mu.RUnlock()

	return page(items, p, models.StatisticOrderColumns, "created_at", func(st models.MachineStatistic, _ string) string {
		return timeKey(st.CreatedAt)
	})
}
