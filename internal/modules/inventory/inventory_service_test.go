package inventory

import (
	"context"
	"sync"
	"testing"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestServiceSlotLifecycle(t *testing.T) {
	f := newFixture(t, 10)
	pub := &recordingPublisher{}
	logger, _ := test.NewNullLogger()
	svc := NewService(f.store, pub, logger)
	ctx := context.Background()

	_, err := svc.CreateSlot(ctx, f.machine.ID, models.CreateSlotRequest{MedicineID: f.medicine.ID, TotalCount: 1})
	assert.ErrorIs(t, err, models.ErrDuplicateSlot)
	assert.ErrorIs(t, err, models.ErrConflict)

	other := &models.Medicine{ID: "2f1c6f0e-0000-4000-8000-000000000010", Name: "Ibuprofen", Type: models.MedicineCapsules, Price: 3}
	require.NoError(t, f.store.CreateMedicine(ctx, other))

	slot, err := svc.CreateSlot(ctx, f.machine.ID, models.CreateSlotRequest{MedicineID: other.ID, TotalCount: 6})
	require.NoError(t, err)
	require.NotNil(t, slot.Medicine)
	assert.Equal(t, "Ibuprofen", slot.Medicine.Name)

	ledger := NewLedger(f.store, logger)
	_, err = ledger.Reserve(ctx, f.machine.ID, other.ID, 4, "order-1")
	require.NoError(t, err)

	_, err = svc.AdjustSlot(ctx, slot.ID, models.AdjustSlotRequest{TotalCount: 3})
	assert.ErrorIs(t, err, models.ErrConflict)

	adjusted, err := svc.AdjustSlot(ctx, slot.ID, models.AdjustSlotRequest{TotalCount: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, adjusted.TotalCount)
	assert.Equal(t, 4, adjusted.ReservedCount)

	assert.ErrorIs(t, svc.DeleteSlot(ctx, slot.ID), models.ErrConflict)
	require.NoError(t, svc.DeleteSlot(ctx, f.slot.ID))

	slots, total, err := svc.ListSlots(ctx, f.machine.ID, models.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, slot.ID, slots[0].ID)

	require.Len(t, pub.events, 3)
	assert.IsType(t, events.SlotChanged{}, pub.events[0])
	assert.IsType(t, events.SlotChanged{}, pub.events[1])
	assert.Equal(t, events.SlotRemoved{SlotID: f.slot.ID, MachineID: f.machine.ID}, pub.events[2])
}

func TestServiceListSlotsUnknownMachine(t *testing.T) {
	f := newFixture(t, 1)
	logger, _ := test.NewNullLogger()
	svc := NewService(f.store, &recordingPublisher{}, logger)

	_, _, err := svc.ListSlots(context.Background(), "missing", models.ListParams{})
	assert.ErrorIs(t, err, models.ErrMachineNotFound)

	_, _, err = svc.ListSlots(context.Background(), f.machine.ID, models.ListParams{OrderBy: "secret"})
	assert.ErrorIs(t, err, models.ErrInvalidOrderColumn)
}
