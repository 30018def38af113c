package memory

import (
	"context"
	"fmt"

	"medicine-dispatch/internal/models"
)

func (s *Store) CreateSlot(_ context.Context, slot *models.InventorySlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.machines[slot.MachineID]; !ok {
		return models.ErrMachineNotFound
	}
	if _, ok := s.medicines[slot.MedicineID]; !ok {
		return models.ErrMedicineNotFound
	}
	key := slotKey(slot.MachineID, slot.MedicineID)
	if _, ok := s.slotByKey[key]; ok {
		return models.ErrDuplicateSlot
	}
	now := s.now()
	slot.ReservedCount = 0
	slot.CreatedAt, slot.UpdatedAt = now, now

	e := &slotEntry{slot: *slot}
	e.slot.Medicine = nil
	s.slots[slot.ID] = e
	s.slotByKey[key] = slot.ID
	return nil
}

func (s *Store) GetSlotByID(_ context.Context, id string) (*models.InventorySlot, error) {
	s.mu.RLock()
	e, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrSlotNotFound
	}
	return s.snapshot(e), nil
}

func (s *Store) ListSlotsByMachine(_ context.Context, machineID string, p models.ListParams) ([]models.InventorySlot, int, error) {
	s.mu.RLock()
	if _, ok := s.machines[machineID]; !ok {
		s.mu.RUnlock()
		return nil, 0, models.ErrMachineNotFound
	}
	var entries []*slotEntry
	for _, e := range s.slots {
		if e.slot.MachineID == machineID {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	items := make([]models.InventorySlot, 0, len(entries))
	for _, e := range entries {
		items = append(items, *s.snapshot(e))
	}
	return page(items, p, models.SlotOrderColumns, "created_at", func(sl models.InventorySlot, col string) string {
		switch col {
		case "total_count":
			return numKey(float64(sl.TotalCount))
		case "reserved_count":
			return numKey(float64(sl.ReservedCount))
		default:
			return timeKey(sl.CreatedAt)
		}
	})
}

func (s *Store) ListSlotsByMedicine(_ context.Context, medicineID string) ([]models.InventorySlot, error) {
	s.mu.RLock()
	var entries []*slotEntry
	for _, e := range s.slots {
		if e.slot.MedicineID == medicineID {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	out := make([]models.InventorySlot, 0, len(entries))
	for _, e := range entries {
		out = append(out, *s.snapshot(e))
	}
	return out, nil
}

// SetSlotTotal replaces total_count. A total below the reserved count is a conflict.
func (s *Store) SetSlotTotal(_ context.Context, id string, total int) (*models.InventorySlot, error) {
	s.mu.RLock()
	e, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrSlotNotFound
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, models.ErrSlotNotFound
	}
	if total < e.slot.ReservedCount {
		reserved := e.slot.ReservedCount
		e.mu.Unlock()
		return nil, fmt.Errorf("total %d below reserved %d: %w", total, reserved, models.ErrConflict)
	}
	e.slot.TotalCount = total
	e.slot.UpdatedAt = s.now()
	e.mu.Unlock()

	return s.snapshot(e), nil
}

// DeleteSlot removes a slot that has nothing reserved.
func (s *Store) DeleteSlot(_ context.Context, id string) (*models.InventorySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.slots[id]
	if !ok {
		return nil, models.ErrSlotNotFound
	}
	// Check and flag under one hold of e.mu.
	e.mu.Lock()
	if reserved := e.slot.ReservedCount; reserved > 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("slot has %d reserved units: %w", reserved, models.ErrConflict)
	}
	e.removed = true
	deleted := e.slot
	e.mu.Unlock()

	s.dropSlotLocked(id, e)
	return &deleted, nil
}

// ReserveStock atomically moves token.Count units of the (machine, medicine)
// slot into reserved and records the held token.
func (s *Store) ReserveStock(_ context.Context, token *models.ReservationToken) error {
	s.mu.RLock()
	id, ok := s.slotByKey[slotKey(token.MachineID, token.MedicineID)]
	var e *slotEntry
	if ok {
		e = s.slots[id]
	}
	s.mu.RUnlock()
	if !ok {
		return models.ErrSlotNotFound
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return models.ErrSlotNotFound
	}
	if e.slot.Available() < token.Count {
		e.mu.Unlock()
		return models.ErrInsufficientStock
	}
	e.slot.ReservedCount += token.Count
	e.slot.UpdatedAt = s.now()
	e.mu.Unlock()

	token.SlotID = id
	token.State = models.ReservationHeld
	token.CreatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	// The machine may have been deleted with all its slots meanwhile.
	e.mu.Lock()
	removed := e.removed
	e.mu.Unlock()
	if removed {
		return models.ErrSlotNotFound
	}
	s.reservations[token.ID] = &reservationEntry{slot: e, token: *token}
	return nil
}

// SettleReservation moves a held token to committed or released and applies
// the slot arithmetic. It reports false when the token already left held.
func (s *Store) SettleReservation(_ context.Context, tokenID string, to models.ReservationState) (bool, error) {
	s.mu.RLock()
	r, ok := s.reservations[tokenID]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("reservation %s: %w", tokenID, models.ErrNotFound)
	}

	r.slot.mu.Lock()
	defer r.slot.mu.Unlock()

	if r.token.State != models.ReservationHeld {
		return false, nil
	}
	n := r.token.Count
	switch to {
	case models.ReservationCommitted:
		r.slot.slot.TotalCount -= n
		r.slot.slot.ReservedCount -= n
	case models.ReservationReleased:
		r.slot.slot.ReservedCount -= n
	default:
		return false, fmt.Errorf("cannot settle reservation to %q: %w", to, models.ErrValidation)
	}
	r.slot.slot.UpdatedAt = s.now()
	r.token.State = to
	return true, nil
}

func (s *Store) ListReservationsByOrder(_ context.Context, orderID string) ([]models.ReservationToken, error) {
	s.mu.RLock()
	var entries []*reservationEntry
	for _, r := range s.reservations {
		if r.token.OrderID == orderID {
			entries = append(entries, r)
		}
	}
	s.mu.RUnlock()

	out := make([]models.ReservationToken, 0, len(entries))
	for _, r := range entries {
		r.slot.mu.Lock()
		out = append(out, r.token)
		r.slot.mu.Unlock()
	}
	sortTokens(out)
	return out, nil
}

// ApplySlotCount overwrites total_count with a device reported value,
// never below reserved_count. Returns the stored total and reserved counts.
func (s *Store) ApplySlotCount(_ context.Context, machineID, slotID string, reported int) (int, int, error) {
	s.mu.RLock()
	e, ok := s.slots[slotID]
	s.mu.RUnlock()
	if !ok || e.slot.MachineID != machineID {
		return 0, 0, models.ErrSlotNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0, 0, models.ErrSlotNotFound
	}
	e.slot.TotalCount = max(reported, e.slot.ReservedCount)
	e.slot.UpdatedAt = s.now()
	return e.slot.TotalCount, e.slot.ReservedCount, nil
}

// snapshot copies the slot under its lock and joins the medicine.
func (s *Store) snapshot(e *slotEntry) *models.InventorySlot {
	e.mu.Lock()
	cp := e.slot
	e.mu.Unlock()

	s.mu.RLock()
	if m, ok := s.medicines[cp.MedicineID]; ok {
		med := *m
		cp.Medicine = &med
	}
	s.mu.RUnlock()
	return &cp
}

// removeSlotLocked requires s.mu held for writing.
func (s *Store) removeSlotLocked(id string, e *slotEntry) {
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	s.dropSlotLocked(id, e)
}

// dropSlotLocked unlinks a slot already flagged removed, with its reservations.
func (s *Store) dropSlotLocked(id string, e *slotEntry) {
	delete(s.slots, id)
	delete(s.slotByKey, slotKey(e.slot.MachineID, e.slot.MedicineID))
	for rid, r := range s.reservations {
		if r.slot == e {
			delete(s.reservations, rid)
		}
	}
}
