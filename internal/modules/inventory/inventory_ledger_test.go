package inventory

import (
	"context"
	"sync"
	"testing"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/storage/memory"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	machine  *models.Machine
	medicine *models.Medicine
	slot     *models.InventorySlot
}

func newFixture(t *testing.T, total int) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	machine := &models.Machine{ID: "2f1c6f0e-0000-4000-8000-000000000001", Name: "m-1", MAC: "aa:bb", Status: models.MachineRegistered}
	require.NoError(t, store.CreateMachine(ctx, machine))
	medicine := &models.Medicine{ID: "2f1c6f0e-0000-4000-8000-000000000002", Name: "Aspirin", Type: models.MedicineTablet, Price: 5}
	require.NoError(t, store.CreateMedicine(ctx, medicine))
	slot := &models.InventorySlot{ID: "2f1c6f0e-0000-4000-8000-000000000003", MachineID: machine.ID, MedicineID: medicine.ID, TotalCount: total}
	require.NoError(t, store.CreateSlot(ctx, slot))

	return fixture{store: store, machine: machine, medicine: medicine, slot: slot}
}

func (f fixture) counts(t *testing.T) (int, int) {
	t.Helper()
	s, err := f.store.GetSlotByID(context.Background(), f.slot.ID)
	require.NoError(t, err)
	return s.TotalCount, s.ReservedCount
}

func newTestLedger(f fixture) (*Ledger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewLedger(f.store, logger), hook
}

func TestReserveNeverOverReservesUnderConcurrency(t *testing.T) {
	f := newFixture(t, 10)
	ledger, _ := newTestLedger(f)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(context.Background(), f.machine.ID, f.medicine.ID, 1, "order")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, models.ErrInsufficientStock)
			rejected++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 40, rejected)
	total, reserved := f.counts(t)
	assert.Equal(t, 10, total)
	assert.Equal(t, 10, reserved)
}

func TestCommitDeductsStockExactlyOnce(t *testing.T) {
	f := newFixture(t, 10)
	ledger, _ := newTestLedger(f)
	ctx := context.Background()

	token, err := ledger.Reserve(ctx, f.machine.ID, f.medicine.ID, 3, "order-1")
	require.NoError(t, err)
	assert.Equal(t, f.slot.ID, token.SlotID)
	assert.Equal(t, models.ReservationHeld, token.State)

	total, reserved := f.counts(t)
	assert.Equal(t, 10, total)
	assert.Equal(t, 3, reserved)

	applied, err := ledger.Commit(ctx, token)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.ReservationCommitted, token.State)

	total, reserved = f.counts(t)
	assert.Equal(t, 7, total)
	assert.Equal(t, 0, reserved)

	again, err := ledger.Commit(ctx, token)
	require.NoError(t, err)
	assert.False(t, again)
	released, err := ledger.Release(ctx, token)
	require.NoError(t, err)
	assert.False(t, released)

	total, reserved = f.counts(t)
	assert.Equal(t, 7, total)
	assert.Equal(t, 0, reserved)
}

func TestReleaseRestoresHeadroom(t *testing.T) {
	f := newFixture(t, 5)
	ledger, _ := newTestLedger(f)
	ctx := context.Background()

	token, err := ledger.Reserve(ctx, f.machine.ID, f.medicine.ID, 5, "order-1")
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, f.machine.ID, f.medicine.ID, 1, "order-2")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	applied, err := ledger.Release(ctx, token)
	require.NoError(t, err)
	assert.True(t, applied)

	total, reserved := f.counts(t)
	assert.Equal(t, 5, total)
	assert.Equal(t, 0, reserved)

	tokens, err := ledger.ReservationsForOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, models.ReservationReleased, tokens[0].State)
}

func TestReserveRejectsBadInput(t *testing.T) {
	f := newFixture(t, 5)
	ledger, _ := newTestLedger(f)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, f.machine.ID, f.medicine.ID, 0, "order")
	assert.ErrorIs(t, err, models.ErrInvalidCount)

	_, err = ledger.Reserve(ctx, f.machine.ID, "unknown-medicine", 1, "order")
	assert.ErrorIs(t, err, models.ErrSlotNotFound)
}

func TestApplyDeviceSnapshot(t *testing.T) {
	f := newFixture(t, 10)
	ledger, hook := newTestLedger(f)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, f.machine.ID, f.medicine.ID, 4, "order-1")
	require.NoError(t, err)

	err = ledger.ApplyDeviceSnapshot(ctx, f.machine.ID, map[string]models.SlotReport{
		f.slot.ID: {LeftAmount: 8},
	})
	require.NoError(t, err)
	total, reserved := f.counts(t)
	assert.Equal(t, 8, total)
	assert.Equal(t, 4, reserved)

	hook.Reset()
	err = ledger.ApplyDeviceSnapshot(ctx, f.machine.ID, map[string]models.SlotReport{
		f.slot.ID:      {LeftAmount: 2},
		"unknown-slot": {LeftAmount: 3},
	})
	require.NoError(t, err)

	total, reserved = f.counts(t)
	assert.Equal(t, 4, total, "clamped to reserved")
	assert.Equal(t, 4, reserved)

	require.Len(t, hook.AllEntries(), 2)
	for _, e := range hook.AllEntries() {
		assert.Equal(t, logrus.WarnLevel, e.Level)
	}
}

func TestApplyDeviceSnapshotIgnoresOtherMachinesSlots(t *testing.T) {
	f := newFixture(t, 10)
	ledger, _ := newTestLedger(f)

	err := ledger.ApplyDeviceSnapshot(context.Background(), "another-machine", map[string]models.SlotReport{
		f.slot.ID: {LeftAmount: 1},
	})
	require.NoError(t, err)

	total, _ := f.counts(t)
	assert.Equal(t, 10, total)
}
