package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/modules/inventory"
	"medicine-dispatch/internal/modules/logistics"
	"medicine-dispatch/internal/storage/memory"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
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

func (r *recordingPublisher) statuses(orderID string) []models.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OrderStatus
	for _, ev := range r.events {
		if c, ok := ev.(events.OrderStatusChanged); ok && c.Order.ID == orderID {
			out = append(out, c.Order.Status)
		}
	}
	return out
}

func (r *recordingPublisher) anomalies() []events.DeviceAnomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.DeviceAnomaly
	for _, ev := range r.events {
		if a, ok := ev.(events.DeviceAnomaly); ok {
			out = append(out, a)
		}
	}
	return out
}

type sentOrder struct {
	mac string
	msg models.NewOrderMessage
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentOrder
	err  error
}

func (n *recordingNotifier) SendNewOrder(_ context.Context, mac string, msg models.NewOrderMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return fmt.Errorf("%w: %s", models.ErrTransportFailure, n.err)
	}
	n.sent = append(n.sent, sentOrder{mac: mac, msg: msg})
	return nil
}

type orderFixture struct {
	store    *memory.Store
	svc      *Service
	pub      *recordingPublisher
	notifier *recordingNotifier
	hook     *test.Hook

	machine *models.Machine
	point   string
	aspirin *models.Medicine
	ibuprom *models.Medicine
	slotA   string
	slotB   string
}

const machineMAC = "AA:BB:CC:00:00:01"

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &orderFixture{store: store, pub: &recordingPublisher{}, notifier: &recordingNotifier{}, hook: hook}

	f.machine = &models.Machine{
		ID:       uuid.NewString(),
		Name:     "kiosk-1",
		MAC:      machineMAC,
		Status:   models.MachineRegistered,
		Location: models.Location{Latitude: 50.0, Longitude: 30.0},
	}
	require.NoError(t, store.CreateMachine(ctx, f.machine))

	p := &models.PickupPoint{ID: uuid.NewString(), Location: models.Location{Latitude: 50.01, Longitude: 30.0}, IsAvailable: true}
	require.NoError(t, store.CreatePickupPoint(ctx, p))
	f.point = p.ID

	f.aspirin = &models.Medicine{ID: uuid.NewString(), Name: "Aspirin", Type: models.MedicineTablet, Price: 5.00, Currency: "USD", IsAvailable: true}
	f.ibuprom = &models.Medicine{ID: uuid.NewString(), Name: "Ibuprom", Type: models.MedicineCapsules, Price: 3.00, Currency: "USD", IsAvailable: true}
	require.NoError(t, store.CreateMedicine(ctx, f.aspirin))
	require.NoError(t, store.CreateMedicine(ctx, f.ibuprom))

	f.slotA = uuid.NewString()
	f.slotB = uuid.NewString()
	require.NoError(t, store.CreateSlot(ctx, &models.InventorySlot{ID: f.slotA, MachineID: f.machine.ID, MedicineID: f.aspirin.ID, TotalCount: 10}))
	require.NoError(t, store.CreateSlot(ctx, &models.InventorySlot{ID: f.slotB, MachineID: f.machine.ID, MedicineID: f.ibuprom.ID, TotalCount: 10}))

	arrival := time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.CreateVisit(ctx, &models.PickupPointVisit{
		ID: uuid.NewString(), MachineID: f.machine.ID, PickupPointID: p.ID,
		ArrivalAt: arrival, DepartureAt: arrival.Add(time.Hour), DeliverOrders: true,
	}))

	f.svc = NewService(store, Dependencies{
		Medicines: store,
		Machines:  store,
		Ledger:    inventory.NewLedger(store, logger),
		Notifier:  f.notifier,
		Assigner:  logistics.NewAssignService(store, store, store, logger),
	}, f.pub, logger)
	return f
}

func (f *orderFixture) request(machine bool, aspirin, ibuprom int) models.CreateOrderRequest {
	req := models.CreateOrderRequest{PickupPointID: f.point}
	if machine {
		id := f.machine.ID
		req.MachineID = &id
	}
	if aspirin > 0 {
		req.Medicines = append(req.Medicines, models.OrderLine{MedicineID: f.aspirin.ID, Count: aspirin})
	}
	if ibuprom > 0 {
		req.Medicines = append(req.Medicines, models.OrderLine{MedicineID: f.ibuprom.ID, Count: ibuprom})
	}
	return req
}

func (f *orderFixture) counts(t *testing.T, slotID string) (int, int) {
	t.Helper()
	s, err := f.store.GetSlotByID(context.Background(), slotID)
	require.NoError(t, err)
	return s.TotalCount, s.ReservedCount
}

func TestCreateOrderDispatchAndComplete(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 2, 1))
	require.NoError(t, err)

	assert.InDelta(t, 13.00, order.PaymentAmount, 1e-9)
	assert.Equal(t, "USD", order.PaymentCurrency)
	assert.Equal(t, models.OrderInDelivery, order.Status)
	require.NotNil(t, order.PaymentDate)
	require.NotNil(t, order.MachineID)
	assert.Equal(t, f.machine.ID, *order.MachineID)

	total, reserved := f.counts(t, f.slotA)
	assert.Equal(t, 10, total)
	assert.Equal(t, 2, reserved)
	total, reserved = f.counts(t, f.slotB)
	assert.Equal(t, 10, total)
	assert.Equal(t, 1, reserved)

	require.Len(t, f.notifier.sent, 1)
	sent := f.notifier.sent[0]
	assert.Equal(t, machineMAC, sent.mac)
	assert.Equal(t, order.ID, sent.msg.OrderID)
	assert.ElementsMatch(t, []models.NewOrderMedicine{
		{MedicineType: models.MedicineTablet, MedicineName: "Aspirin", Count: 2},
		{MedicineType: models.MedicineCapsules, MedicineName: "Ibuprom", Count: 1},
	}, sent.msg.OrderMedicines)

	require.NoError(t, f.svc.OnDeviceOrderEvent(ctx, order.ID, machineMAC, models.OrderEvent{Status: models.OrderEventStart}))
	require.NoError(t, f.svc.OnDeviceOrderEvent(ctx, order.ID, machineMAC, models.OrderEvent{Status: models.OrderEventSuccess}))

	done, err := f.svc.GetOrder(ctx, order.ID, "user-1", models.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, done.Status)
	assert.NotNil(t, done.CompletionDate)

	total, reserved = f.counts(t, f.slotA)
	assert.Equal(t, 8, total)
	assert.Equal(t, 0, reserved)
	total, reserved = f.counts(t, f.slotB)
	assert.Equal(t, 9, total)
	assert.Equal(t, 0, reserved)

	assert.Equal(t, []models.OrderStatus{
		models.OrderCreated, models.OrderPaid, models.OrderInDelivery, models.OrderCompleted,
	}, f.pub.statuses(order.ID))
}

func TestFailEventRestoresReservedCounts(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 2, 1))
	require.NoError(t, err)

	reason := "dispenser jammed"
	require.NoError(t, f.svc.OnDeviceOrderEvent(ctx, order.ID, machineMAC, models.OrderEvent{Status: models.OrderEventFail, Reason: &reason}))

	failed, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, failed.Status)

	for _, slot := range []string{f.slotA, f.slotB} {
		total, reserved := f.counts(t, slot)
		assert.Equal(t, 10, total)
		assert.Equal(t, 0, reserved)
	}

	last := f.pub.events[len(f.pub.events)-1].(events.OrderStatusChanged)
	assert.Equal(t, models.OrderInDelivery, last.Previous)
	assert.Equal(t, reason, last.Reason)
}

func TestDuplicateSuccessCommitsOnce(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 3, 0))
	require.NoError(t, err)

	success := models.OrderEvent{Status: models.OrderEventSuccess}
	require.NoError(t, f.svc.OnDeviceOrderEvent(ctx, order.ID, machineMAC, success))
	require.NoError(t, f.svc.OnDeviceOrderEvent(ctx, order.ID, machineMAC, success))

	// A late fail after completion is a replay as well.
	require.NoError(t, f.svc.OnDeviceOrderEvent(ctx, order.ID, machineMAC, models.OrderEvent{Status: models.OrderEventFail}))

	total, reserved := f.counts(t, f.slotA)
	assert.Equal(t, 7, total)
	assert.Equal(t, 0, reserved)

	got, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, got.Status)
}

func TestOrderEventFromUnassignedMachine(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 1, 0))
	require.NoError(t, err)

	err = f.svc.OnDeviceOrderEvent(ctx, order.ID, "FF:FF:FF:FF:FF:FF", models.OrderEvent{Status: models.OrderEventSuccess})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	got, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderInDelivery, got.Status)

	anomalies := f.pub.anomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, "FF:FF:FF:FF:FF:FF", anomalies[0].MAC)
	assert.Equal(t, order.ID, anomalies[0].OrderID)

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["anomaly"] == true {
			warned = true
		}
	}
	assert.True(t, warned, "anomaly must be logged at warn level")

	err = f.svc.OnDeviceOrderEvent(ctx, uuid.NewString(), machineMAC, models.OrderEvent{Status: models.OrderEventStart})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	err = f.svc.OnDeviceOrderEvent(ctx, order.ID, machineMAC, models.OrderEvent{Status: "exploded"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateOrderInsufficientStockBecomesPreorder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 1, 11))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPreorder, order.Status)

	for _, slot := range []string{f.slotA, f.slotB} {
		_, reserved := f.counts(t, slot)
		assert.Equal(t, 0, reserved)
	}
	assert.Empty(t, f.notifier.sent)
}

func TestCreateOrderWithoutMachineStaysPaid(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), "user-1", f.request(false, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Nil(t, order.MachineID)
	assert.Empty(t, f.notifier.sent)
}

func TestCreateOrderMergesRepeatedLines(t *testing.T) {
	f := newOrderFixture(t)
	req := f.request(false, 1, 0)
	req.Medicines = append(req.Medicines, models.OrderLine{MedicineID: f.aspirin.ID, Count: 2})

	order, err := f.svc.CreateOrder(context.Background(), "user-1", req)
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 3, order.Lines[0].Count)
	assert.InDelta(t, 15.00, order.PaymentAmount, 1e-9)
}

func TestCreateOrderUnknownMedicine(t *testing.T) {
	f := newOrderFixture(t)
	req := f.request(true, 1, 0)
	req.Medicines = append(req.Medicines, models.OrderLine{MedicineID: uuid.NewString(), Count: 1})

	_, err := f.svc.CreateOrder(context.Background(), "user-1", req)
	assert.ErrorIs(t, err, models.ErrMedicineNotFound)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTransportFailureRevertsToPaid(t *testing.T) {
	f := newOrderFixture(t)
	f.notifier.err = errors.New("broker unreachable")
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 2, 1))
	assert.ErrorIs(t, err, models.ErrTransportFailure)

	list, total, err := f.svc.ListUserOrders(ctx, "user-1", models.ListParams{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, models.OrderPaid, list[0].Status)

	for _, slot := range []string{f.slotA, f.slotB} {
		_, reserved := f.counts(t, slot)
		assert.Equal(t, 0, reserved)
	}
	assert.Equal(t, []models.OrderStatus{
		models.OrderCreated, models.OrderPaid, models.OrderInDelivery, models.OrderPaid,
	}, f.pub.statuses(list[0].ID))
}

func TestCancelOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	preorder, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 20, 0))
	require.NoError(t, err)
	require.Equal(t, models.OrderPreorder, preorder.Status)

	_, err = f.svc.CancelOrder(ctx, preorder.ID, "user-2", models.RoleCustomer)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	canceled, err := f.svc.CancelOrder(ctx, preorder.ID, "user-1", models.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCanceled, canceled.Status)

	_, err = f.svc.CancelOrder(ctx, preorder.ID, "user-1", models.RoleCustomer)
	assert.ErrorIs(t, err, models.ErrOrderCannotBeCancelled)

	delivering, err := f.svc.CreateOrder(ctx, "user-1", f.request(true, 1, 0))
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, delivering.ID, "admin-1", models.RoleAdmin)
	assert.ErrorIs(t, err, models.ErrOrderCannotBeCancelled)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestReassignOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, "user-1", f.request(false, 2, 0))
	require.NoError(t, err)

	dispatched, err := f.svc.ReassignOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderInDelivery, dispatched.Status)
	require.NotNil(t, dispatched.MachineID)
	assert.Equal(t, f.machine.ID, *dispatched.MachineID)
	require.Len(t, f.notifier.sent, 1)

	_, err = f.svc.ReassignOrder(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	tooLarge, err := f.svc.CreateOrder(ctx, "user-1", f.request(false, 50, 0))
	require.NoError(t, err)
	kept, err := f.svc.ReassignOrder(ctx, tooLarge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPreorder, kept.Status)
}

func TestDelayedPaymentRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DelayedPayment{Delay: time.Hour}.Charge(ctx, &models.Order{})
	assert.ErrorIs(t, err, context.Canceled)

	at, err := DelayedPayment{Delay: time.Millisecond}.Charge(context.Background(), &models.Order{})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), at, time.Second)
}
