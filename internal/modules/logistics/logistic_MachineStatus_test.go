package logistics

import (
	"context"
	"sync"
	"testing"
	"time"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/storage/memory"

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

func newFleetService(t *testing.T) (*assignFixture, ServiceInterface, *recordingPublisher) {
	t.Helper()
	f := newAssignFixture(t)
	logger, _ := test.NewNullLogger()
	pub := &recordingPublisher{}
	return f, NewService(f.store, f.svc, pub, logger), pub
}

func TestFleetService_CreateStartsUnregistered(t *testing.T) {
	_, svc, _ := newFleetService(t)
	ctx := context.Background()

	m, err := svc.CreateMachine(ctx, models.CreateMachineRequest{
		Name:     "kiosk",
		MAC:      "BB:00:00:00:00:01",
		Location: models.Location{Latitude: 49.8, Longitude: 24.0},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MachineUnregistered, m.Status)
	assert.False(t, m.IsOnline)

	_, err = svc.CreateMachine(ctx, models.CreateMachineRequest{Name: "dup", MAC: "BB:00:00:00:00:01"})
	assert.ErrorIs(t, err, models.ErrDuplicateMachine)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestFleetService_UpdateAndSetStatus(t *testing.T) {
	f, svc, _ := newFleetService(t)
	ctx := context.Background()

	name := "renamed"
	maintained := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	m, err := svc.UpdateMachine(ctx, f.near.ID, models.UpdateMachineRequest{Name: &name, LastMaintenanceAt: &maintained})
	require.NoError(t, err)
	assert.Equal(t, "renamed", m.Name)
	assert.Equal(t, f.near.Location, m.Location)
	require.NotNil(t, m.LastMaintenanceAt)
	assert.True(t, m.LastMaintenanceAt.Equal(maintained))

	m, err = svc.SetStatus(ctx, f.near.ID, models.MachineStatusUpdateRequest{Status: "dysfunctional"})
	require.NoError(t, err)
	assert.Equal(t, models.MachineDysfunctional, m.Status)

	_, err = svc.SetStatus(ctx, f.near.ID, models.MachineStatusUpdateRequest{Status: "broken"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.UpdateMachine(ctx, "missing", models.UpdateMachineRequest{Name: &name})
	assert.ErrorIs(t, err, models.ErrMachineNotFound)
}

// deviceRacingStore applies a registration and a location report from the
// device right before the operator's write lands.
type deviceRacingStore struct {
	*memory.Store
	mac string
	loc models.Location
}

func (s *deviceRacingStore) UpdateMachine(ctx context.Context, id string, upd models.UpdateMachineRequest) (*models.Machine, error) {
	if _, err := s.PromoteMachine(ctx, s.mac); err != nil {
		return nil, err
	}
	if err := s.UpdateMachineLocation(ctx, s.mac, s.loc); err != nil {
		return nil, err
	}
	return s.Store.UpdateMachine(ctx, id, upd)
}

func TestFleetService_UpdateKeepsDeviceState(t *testing.T) {
	f := newAssignFixture(t)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	reported := models.Location{Latitude: 50.2, Longitude: 30.4}
	repo := &deviceRacingStore{Store: f.store, mac: f.pending.MAC, loc: reported}
	svc := NewService(repo, f.svc, &recordingPublisher{}, logger)

	name := "renamed"
	m, err := svc.UpdateMachine(ctx, f.pending.ID, models.UpdateMachineRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", m.Name)
	assert.Equal(t, models.MachineRegistered, m.Status)
	assert.True(t, m.IsOnline)
	assert.Equal(t, reported, m.Location)

	stored, err := f.store.GetMachineByID(ctx, f.pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MachineRegistered, stored.Status)
	assert.Equal(t, reported, stored.Location)
}

func TestFleetService_SetStatusTransitions(t *testing.T) {
	f, svc, _ := newFleetService(t)
	ctx := context.Background()

	set := func(id string, status models.MachineStatus) (*models.Machine, error) {
		return svc.SetStatus(ctx, id, models.MachineStatusUpdateRequest{Status: string(status)})
	}

	// Registration is reserved to the device handshake.
	_, err := set(f.pending.ID, models.MachineRegistered)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = set(f.far.ID, models.MachineUnregistered)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	m, err := set(f.near.ID, models.MachineDysfunctional)
	require.NoError(t, err)
	assert.Equal(t, models.MachineDysfunctional, m.Status)

	_, err = set(f.near.ID, models.MachineDysfunctional)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = set(f.near.ID, models.MachineRegistered)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.ErrorIs(t, err, models.ErrConflict)

	m, err = set(f.near.ID, models.MachineUnregistered)
	require.NoError(t, err)
	assert.Equal(t, models.MachineUnregistered, m.Status)

	m, err = set(f.pending.ID, models.MachineDysfunctional)
	require.NoError(t, err)
	assert.Equal(t, models.MachineDysfunctional, m.Status)

	_, err = set("missing", models.MachineDysfunctional)
	assert.ErrorIs(t, err, models.ErrMachineNotFound)
}

func TestFleetService_DeletePublishesEvent(t *testing.T) {
	f, svc, pub := newFleetService(t)
	ctx := context.Background()

	require.NoError(t, svc.DeleteMachine(ctx, f.far.ID))
	require.Len(t, pub.events, 1)
	deleted, ok := pub.events[0].(events.MachineDeleted)
	require.True(t, ok)
	assert.Equal(t, f.far.MAC, deleted.Machine.MAC)

	_, err := svc.GetMachine(ctx, f.far.ID)
	assert.ErrorIs(t, err, models.ErrMachineNotFound)

	err = svc.DeleteMachine(ctx, f.far.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Len(t, pub.events, 1)
}

func TestFleetService_Search(t *testing.T) {
	f, svc, _ := newFleetService(t)
	ctx := context.Background()
	registered := models.MachineRegistered

	all, total, err := svc.SearchMachines(ctx, models.SearchMachinesRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	found, total, err := svc.SearchMachines(ctx, models.SearchMachinesRequest{
		Medicines:       map[string]int{f.medicine: 5},
		PickupPointStop: f.point,
		Status:          &registered,
		ListParams:      models.ListParams{OrderBy: "name"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, found, 2)
	assert.Equal(t, f.near.ID, found[0].ID)
	assert.Equal(t, f.far.ID, found[1].ID)

	paged, total, err := svc.SearchMachines(ctx, models.SearchMachinesRequest{
		Status:     &registered,
		ListParams: models.ListParams{OrderBy: "name", Offset: 1, Limit: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, paged, 1)
	assert.Equal(t, f.far.ID, paged[0].ID)

	none, total, err := svc.SearchMachines(ctx, models.SearchMachinesRequest{Medicines: map[string]int{f.medicine: 6}})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}
