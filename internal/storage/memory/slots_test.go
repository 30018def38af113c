package memory

import (
	"context"
	"sync"
	"testing"

	"medicine-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteSlotRacingReserveLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	machine := &models.Machine{ID: uuid.NewString(), Name: "kiosk", MAC: "CC:00:00:00:00:01", Status: models.MachineRegistered}
	require.NoError(t, s.CreateMachine(ctx, machine))
	med := &models.Medicine{ID: uuid.NewString(), Name: "Ibuprofen", Type: models.MedicineTablet, Price: 4, Currency: "USD"}
	require.NoError(t, s.CreateMedicine(ctx, med))

	for i := 0; i < 300; i++ {
		slot := &models.InventorySlot{ID: uuid.NewString(), MachineID: machine.ID, MedicineID: med.ID, TotalCount: 5}
		require.NoError(t, s.CreateSlot(ctx, slot))
		token := &models.ReservationToken{
			ID: uuid.NewString(), MachineID: machine.ID, MedicineID: med.ID, OrderID: uuid.NewString(), Count: 1,
		}

		var wg sync.WaitGroup
		var reserveErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			reserveErr = s.ReserveStock(ctx, token)
		}()
		go func() {
			defer wg.Done()
			_, deleteErr = s.DeleteSlot(ctx, slot.ID)
		}()
		wg.Wait()

		held, err := s.ListReservationsByOrder(ctx, token.OrderID)
		require.NoError(t, err)

		if deleteErr == nil {
			require.ErrorIs(t, reserveErr, models.ErrSlotNotFound, "iteration %d", i)
			require.Empty(t, held, "iteration %d", i)
			continue
		}
		require.ErrorIs(t, deleteErr, models.ErrConflict, "iteration %d", i)
		require.NoError(t, reserveErr)
		require.Len(t, held, 1)

		// Clean up for the next round.
		ok, err := s.SettleReservation(ctx, token.ID, models.ReservationReleased)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = s.DeleteSlot(ctx, slot.ID)
		require.NoError(t, err)
	}
}

func TestDeleteMachineDropsSlotsAndReservations(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	machine := &models.Machine{ID: uuid.NewString(), Name: "kiosk", MAC: "CC:00:00:00:00:02"}
	require.NoError(t, s.CreateMachine(ctx, machine))
	med := &models.Medicine{ID: uuid.NewString(), Name: "Aspirin", Type: models.MedicineTablet, Price: 2, Currency: "USD"}
	require.NoError(t, s.CreateMedicine(ctx, med))
	slot := &models.InventorySlot{ID: uuid.NewString(), MachineID: machine.ID, MedicineID: med.ID, TotalCount: 3}
	require.NoError(t, s.CreateSlot(ctx, slot))

	token := &models.ReservationToken{ID: uuid.NewString(), MachineID: machine.ID, MedicineID: med.ID, OrderID: "o-1", Count: 2}
	require.NoError(t, s.ReserveStock(ctx, token))

	_, err := s.DeleteMachine(ctx, machine.ID)
	require.NoError(t, err)

	_, err = s.GetSlotByID(ctx, slot.ID)
	assert.ErrorIs(t, err, models.ErrSlotNotFound)
	held, err := s.ListReservationsByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, held)

	err = s.ReserveStock(ctx, &models.ReservationToken{ID: uuid.NewString(), MachineID: machine.ID, MedicineID: med.ID, OrderID: "o-2", Count: 1})
	assert.ErrorIs(t, err, models.ErrSlotNotFound)
}
