package logistics

import (
	"context"
	"testing"
	"time"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/storage/memory"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assignFixture struct {
	store    *memory.Store
	svc      *AssignService
	point    string
	medicine string
	near     *models.Machine
	far      *models.Machine
	pending  *models.Machine
}

func newAssignFixture(t *testing.T) *assignFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	logger, _ := test.NewNullLogger()

	f := &assignFixture{store: store, svc: NewAssignService(store, store, store, logger)}

	p := &models.PickupPoint{ID: uuid.NewString(), Location: models.Location{Latitude: 50.0, Longitude: 30.01}, IsAvailable: true}
	require.NoError(t, store.CreatePickupPoint(ctx, p))
	f.point = p.ID

	med := &models.Medicine{ID: uuid.NewString(), Name: "Paracetamol", Type: models.MedicineTablet, Price: 5, Currency: "USD", IsAvailable: true}
	require.NoError(t, store.CreateMedicine(ctx, med))
	f.medicine = med.ID

	machine := func(mac string, status models.MachineStatus, lat float64) *models.Machine {
		m := &models.Machine{
			ID:       uuid.NewString(),
			Name:     mac,
			MAC:      mac,
			Status:   status,
			Location: models.Location{Latitude: lat, Longitude: 30.0},
		}
		require.NoError(t, store.CreateMachine(ctx, m))
		require.NoError(t, store.CreateSlot(ctx, &models.InventorySlot{
			ID: uuid.NewString(), MachineID: m.ID, MedicineID: med.ID, TotalCount: 5,
		}))
		arrival := time.Now().UTC().Add(time.Hour)
		require.NoError(t, store.CreateVisit(ctx, &models.PickupPointVisit{
			ID: uuid.NewString(), MachineID: m.ID, PickupPointID: p.ID,
			ArrivalAt: arrival, DepartureAt: arrival.Add(time.Hour), DeliverOrders: true,
		}))
		return m
	}
	f.near = machine("AA:00:00:00:00:01", models.MachineRegistered, 50.0)
	f.far = machine("AA:00:00:00:00:02", models.MachineRegistered, 50.3)
	f.pending = machine("AA:00:00:00:00:03", models.MachineUnregistered, 50.0)
	return f
}

func TestChooseMachine_ClosestWithStock(t *testing.T) {
	f := newAssignFixture(t)
	ctx := context.Background()
	lines := []models.OrderLine{{MedicineID: f.medicine, Count: 2}}

	m, err := f.svc.ChooseMachine(ctx, f.point, lines)
	require.NoError(t, err)
	assert.Equal(t, f.near.ID, m.ID)

	// Reserved units are not available to new orders.
	require.NoError(t, f.store.ReserveStock(ctx, &models.ReservationToken{
		ID: uuid.NewString(), MachineID: f.near.ID, MedicineID: f.medicine, OrderID: uuid.NewString(), Count: 4,
	}))
	m, err = f.svc.ChooseMachine(ctx, f.point, lines)
	require.NoError(t, err)
	assert.Equal(t, f.far.ID, m.ID)
}

func TestChooseMachine_NoMachineAvailable(t *testing.T) {
	f := newAssignFixture(t)
	ctx := context.Background()

	_, err := f.svc.ChooseMachine(ctx, f.point, []models.OrderLine{{MedicineID: f.medicine, Count: 6}})
	assert.ErrorIs(t, err, models.ErrNoMachineAvailable)

	_, err = f.svc.ChooseMachine(ctx, f.point, []models.OrderLine{{MedicineID: uuid.NewString(), Count: 1}})
	assert.ErrorIs(t, err, models.ErrNoMachineAvailable)

	_, err = f.svc.ChooseMachine(ctx, uuid.NewString(), []models.OrderLine{{MedicineID: f.medicine, Count: 1}})
	assert.ErrorIs(t, err, models.ErrPickupPointNotFound)
}

func TestChooseMachine_SumsRepeatedLines(t *testing.T) {
	f := newAssignFixture(t)

	_, err := f.svc.ChooseMachine(context.Background(), f.point, []models.OrderLine{
		{MedicineID: f.medicine, Count: 3},
		{MedicineID: f.medicine, Count: 3},
	})
	assert.ErrorIs(t, err, models.ErrNoMachineAvailable)
}
