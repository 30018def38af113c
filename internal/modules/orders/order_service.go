package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultCurrency = "USD"

// MedicineCatalog resolves the medicines an order refers to.
type MedicineCatalog interface {
	GetMedicinesByIDs(ctx context.Context, ids []string) (map[string]models.Medicine, error)
}

// MachineLookup resolves a machine id to its record.
type MachineLookup interface {
	GetMachineByID(ctx context.Context, id string) (*models.Machine, error)
}

// StockLedger is the part of the inventory ledger the dispatcher drives.
type StockLedger interface {
	Reserve(ctx context.Context, machineID, medicineID string, count int, orderID string) (*models.ReservationToken, error)
	Commit(ctx context.Context, token *models.ReservationToken) (bool, error)
	Release(ctx context.Context, token *models.ReservationToken) (bool, error)
	ReservationsForOrder(ctx context.Context, orderID string) ([]models.ReservationToken, error)
}

// OrderNotifier sends the order to the machine that will hand it out.
type OrderNotifier interface {
	SendNewOrder(ctx context.Context, mac string, msg models.NewOrderMessage) error
}

// MachineAssigner picks a machine for an order that has none.
type MachineAssigner interface {
	ChooseMachine(ctx context.Context, pickupPointID string, lines []models.OrderLine) (*models.Machine, error)
}

// PaymentServiceInterface charges an order and returns the payment time.
type PaymentServiceInterface interface {
	Charge(ctx context.Context, order *models.Order) (time.Time, error)
}

// DelayedPayment is the payment stub: every charge succeeds after Delay.
type DelayedPayment struct {
	Delay time.Duration
}

func (p DelayedPayment) Charge(ctx context.Context, _ *models.Order) (time.Time, error) {
	if p.Delay <= 0 {
		return time.Now().UTC(), nil
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case now := <-t.C:
		return now.UTC(), nil
	}
}

// ServiceInterface defines the contract for the order service.
type ServiceInterface interface {
	CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID, userID, role string) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID string, p models.ListParams) ([]models.Order, int, error)
	ListAllOrders(ctx context.Context, p models.ListParams) ([]models.Order, int, error)
	CancelOrder(ctx context.Context, orderID, userID, role string) (*models.Order, error)
	ReassignOrder(ctx context.Context, orderID string) (*models.Order, error)
	OnDeviceOrderEvent(ctx context.Context, orderID, mac string, ev models.OrderEvent) error
}

// Dependencies groups the collaborators of the order service.
type Dependencies struct {
	Medicines MedicineCatalog
	Machines  MachineLookup
	Ledger    StockLedger
	Notifier  OrderNotifier
	Assigner  MachineAssigner
	Payment   PaymentServiceInterface
}

// Service implements the order lifecycle: pricing, payment, dispatch to a
// machine and the device events that complete or fail the order.
type Service struct {
	repo      RepositoryInterface
	medicines MedicineCatalog
	machines  MachineLookup
	ledger    StockLedger
	notifier  OrderNotifier
	assigner  MachineAssigner
	payment   PaymentServiceInterface
	events    events.Publisher
	logger    logrus.FieldLogger
}

// NewService creates a new order service.
func NewService(repo RepositoryInterface, deps Dependencies, pub events.Publisher, logger logrus.FieldLogger) *Service {
	payment := deps.Payment
	if payment == nil {
		payment = DelayedPayment{}
	}
	return &Service{
		repo:      repo,
		medicines: deps.Medicines,
		machines:  deps.Machines,
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		assigner:  deps.Assigner,
		payment:   payment,
		events:    pub,
		logger:    logger,
	}
}

// CreateOrder prices and stores the order, charges it and, when a machine was
// chosen, dispatches it. Without a machine the order stays paid.
func (s *Service) CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (*models.Order, error) {
	lines := mergeLines(req.Medicines)
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.MedicineID
	}
	meds, err := s.medicines.GetMedicinesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service.CreateOrder: %w", err)
	}

	var amount float64
	for _, l := range lines {
		m, ok := meds[l.MedicineID]
		if !ok {
			return nil, fmt.Errorf("service.CreateOrder: %s: %w", l.MedicineID, models.ErrMedicineNotFound)
		}
		amount += m.Price * float64(l.Count)
	}

	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	order := &models.Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		MachineID:       req.MachineID,
		PickupPointID:   req.PickupPointID,
		Status:          models.OrderCreated,
		PaymentAmount:   amount,
		PaymentCurrency: currency,
		Lines:           lines,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("service.CreateOrder: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"order_id": order.ID, "amount": amount}).Info("order created")
	s.publishChange(ctx, *order, "", "")

	paidAt, err := s.payment.Charge(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("service.CreateOrder: payment: %w", err)
	}
	order, err = s.transition(ctx, order.ID, models.StatusUpdate{
		From:        []models.OrderStatus{models.OrderCreated},
		To:          models.OrderPaid,
		PaymentDate: &paidAt,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("service.CreateOrder: %w", err)
	}

	if order.MachineID == nil {
		return order, nil
	}
	machine, err := s.machines.GetMachineByID(ctx, *order.MachineID)
	if err != nil {
		return nil, fmt.Errorf("service.CreateOrder: %w", err)
	}
	order, err = s.dispatch(ctx, order, machine)
	if err != nil {
		return nil, fmt.Errorf("service.CreateOrder: %w", err)
	}
	return order, nil
}

// GetOrder hides orders of other users behind ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, orderID, userID, role string) (*models.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.GetOrder: %w", err)
	}
	if order.UserID != userID && role != models.RoleAdmin {
		return nil, fmt.Errorf("service.GetOrder: %w", models.ErrOrderNotFound)
	}
	return order, nil
}

func (s *Service) ListUserOrders(ctx context.Context, userID string, p models.ListParams) ([]models.Order, int, error) {
	orders, total, err := s.repo.ListOrdersByUser(ctx, userID, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListUserOrders: %w", err)
	}
	return orders, total, nil
}

func (s *Service) ListAllOrders(ctx context.Context, p models.ListParams) ([]models.Order, int, error) {
	orders, total, err := s.repo.ListOrders(ctx, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListAllOrders: %w", err)
	}
	return orders, total, nil
}

// CancelOrder cancels an order that has not left for a machine yet and
// returns any stock held for it.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID, role string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID, userID, role)
	if err != nil {
		return nil, fmt.Errorf("service.CancelOrder: %w", err)
	}
	if !order.Status.Cancellable() {
		return nil, fmt.Errorf("service.CancelOrder: %s: %w", order.Status, models.ErrOrderCannotBeCancelled)
	}

	updated, err := s.transition(ctx, orderID, models.StatusUpdate{
		From: []models.OrderStatus{models.OrderCreated, models.OrderPaid, models.OrderPreorder},
		To:   models.OrderCanceled,
	}, "canceled by user")
	if errors.Is(err, models.ErrInvalidTransition) {
		return nil, fmt.Errorf("service.CancelOrder: %w", models.ErrOrderCannotBeCancelled)
	}
	if err != nil {
		return nil, fmt.Errorf("service.CancelOrder: %w", err)
	}

	s.settleHeld(ctx, orderID, s.ledger.Release)
	return updated, nil
}

// ReassignOrder lets the assign service pick a machine for a paid or
// preordered order and dispatches it there.
func (s *Service) ReassignOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.ReassignOrder: %w", err)
	}
	if order.Status != models.OrderPaid && order.Status != models.OrderPreorder {
		return nil, fmt.Errorf("service.ReassignOrder: %s: %w", order.Status, models.ErrInvalidTransition)
	}

	machine, err := s.assigner.ChooseMachine(ctx, order.PickupPointID, order.Lines)
	if errors.Is(err, models.ErrNoMachineAvailable) {
		s.logger.WithField("order_id", orderID).Info("no machine can serve order, kept as preorder")
		order, err = s.toPreorder(ctx, order, "no machine available")
		if err != nil {
			return nil, fmt.Errorf("service.ReassignOrder: %w", err)
		}
		return order, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service.ReassignOrder: %w", err)
	}

	order, err = s.dispatch(ctx, order, machine)
	if err != nil {
		return nil, fmt.Errorf("service.ReassignOrder: %w", err)
	}
	return order, nil
}

// dispatch reserves every line on machine and sends the order to it. A line
// that cannot be reserved turns the order into a preorder; that is not an error.
func (s *Service) dispatch(ctx context.Context, order *models.Order, machine *models.Machine) (*models.Order, error) {
	log := s.logger.WithFields(logrus.Fields{"order_id": order.ID, "machine_mac": machine.MAC})

	if machine.Status != models.MachineRegistered {
		log.WithField("machine_status", machine.Status).Info("machine cannot take orders, order kept as preorder")
		return s.toPreorder(ctx, order, "machine "+string(machine.Status))
	}

	ids := make([]string, len(order.Lines))
	for i, l := range order.Lines {
		ids[i] = l.MedicineID
	}
	meds, err := s.medicines.GetMedicinesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	tokens := make([]*models.ReservationToken, 0, len(order.Lines))
	for _, l := range order.Lines {
		token, err := s.ledger.Reserve(ctx, machine.ID, l.MedicineID, l.Count, order.ID)
		if err == nil {
			tokens = append(tokens, token)
			continue
		}

		s.releaseAll(ctx, tokens)
		if errors.Is(err, models.ErrInsufficientStock) || errors.Is(err, models.ErrSlotNotFound) {
			log.WithField("medicine_id", l.MedicineID).WithError(err).Info("stock unavailable, order kept as preorder")
			return s.toPreorder(ctx, order, "insufficient stock")
		}
		return nil, err
	}

	machineID := machine.ID
	updated, err := s.transition(ctx, order.ID, models.StatusUpdate{
		From:      []models.OrderStatus{models.OrderPaid, models.OrderPreorder},
		To:        models.OrderInDelivery,
		MachineID: &machineID,
	}, "")
	if err != nil {
		s.releaseAll(ctx, tokens)
		return nil, err
	}

	msg := models.NewOrderMessage{OrderID: order.ID, OrderMedicines: make([]models.NewOrderMedicine, 0, len(order.Lines))}
	for _, l := range order.Lines {
		m := meds[l.MedicineID]
		msg.OrderMedicines = append(msg.OrderMedicines, models.NewOrderMedicine{
			MedicineType: m.Type,
			MedicineName: m.Name,
			Count:        l.Count,
		})
	}
	if err := s.notifier.SendNewOrder(ctx, machine.MAC, msg); err != nil {
		log.WithError(err).Error("order not delivered to machine, reverting to paid")
		if _, revertErr := s.transition(ctx, order.ID, models.StatusUpdate{
			From: []models.OrderStatus{models.OrderInDelivery},
			To:   models.OrderPaid,
		}, "machine unreachable"); revertErr != nil {
			log.WithError(revertErr).Error("failed to revert order to paid")
		}
		s.releaseAll(ctx, tokens)
		return nil, err
	}

	log.Info("order dispatched")
	return updated, nil
}

// OnDeviceOrderEvent applies a lifecycle event reported by the machine that
// holds the order. Events from any other machine are treated as unknown orders.
func (s *Service) OnDeviceOrderEvent(ctx context.Context, orderID, mac string, ev models.OrderEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("service.OnDeviceOrderEvent: %w", err)
	}
	log := s.logger.WithFields(logrus.Fields{"order_id": orderID, "machine_mac": mac})

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("service.OnDeviceOrderEvent: %w", err)
	}
	if !s.ownedBy(ctx, order, mac) {
		log.WithFields(logrus.Fields{"anomaly": true, "event_status": ev.Status}).
			Warn("order event from a machine the order is not assigned to")
		s.events.Publish(ctx, events.DeviceAnomaly{
			MAC:        mac,
			OrderID:    orderID,
			Reason:     "order event from unassigned machine",
			DetectedAt: time.Now().UTC(),
		})
		return fmt.Errorf("service.OnDeviceOrderEvent: %w", models.ErrOrderNotFound)
	}

	switch ev.Status {
	case models.OrderEventStart:
		log.Info("machine started handing out order")
		return nil

	case models.OrderEventSuccess:
		now := time.Now().UTC()
		applied, err := s.applyEvent(ctx, orderID, models.StatusUpdate{
			From:           []models.OrderStatus{models.OrderInDelivery},
			To:             models.OrderCompleted,
			CompletionDate: &now,
		}, "")
		if err != nil || !applied {
			return err
		}
		s.settleHeld(ctx, orderID, s.ledger.Commit)
		log.Info("order completed")
		return nil

	case models.OrderEventFail:
		reason := ""
		if ev.Reason != nil {
			reason = *ev.Reason
		}
		applied, err := s.applyEvent(ctx, orderID, models.StatusUpdate{
			From: []models.OrderStatus{models.OrderInDelivery},
			To:   models.OrderFailed,
		}, reason)
		if err != nil || !applied {
			return err
		}
		s.settleHeld(ctx, orderID, s.ledger.Release)
		log.WithField("reason", reason).Warn("machine failed to hand out order")
		return nil
	}
	return nil
}

// applyEvent is transition for device events, where a status that no longer
// matches means the event was a replay.
func (s *Service) applyEvent(ctx context.Context, orderID string, upd models.StatusUpdate, reason string) (bool, error) {
	_, err := s.transition(ctx, orderID, upd, reason)
	if errors.Is(err, models.ErrInvalidTransition) {
		s.logger.WithFields(logrus.Fields{"order_id": orderID, "to": upd.To}).Debug("order event replay ignored")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("service.OnDeviceOrderEvent: %w", err)
	}
	return true, nil
}

func (s *Service) ownedBy(ctx context.Context, order *models.Order, mac string) bool {
	if order.MachineID == nil {
		return false
	}
	m, err := s.machines.GetMachineByID(ctx, *order.MachineID)
	if err != nil {
		return false
	}
	return m.MAC == mac
}

func (s *Service) toPreorder(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	if order.Status == models.OrderPreorder {
		return order, nil
	}
	return s.transition(ctx, order.ID, models.StatusUpdate{
		From: []models.OrderStatus{models.OrderPaid},
		To:   models.OrderPreorder,
	}, reason)
}

// transition applies upd and publishes the change. A status that does not
// match upd.From is ErrInvalidTransition.
func (s *Service) transition(ctx context.Context, orderID string, upd models.StatusUpdate, reason string) (*models.Order, error) {
	before, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.TransitionOrder(ctx, orderID, upd)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%s -> %s: %w", before.Status, upd.To, models.ErrInvalidTransition)
	}
	after, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.publishChange(ctx, *after, before.Status, reason)
	return after, nil
}

func (s *Service) publishChange(ctx context.Context, order models.Order, previous models.OrderStatus, reason string) {
	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"from":     previous,
		"to":       order.Status,
	}).Debug("order status changed")
	s.events.Publish(ctx, events.OrderStatusChanged{
		Order:     order,
		Previous:  previous,
		Reason:    reason,
		ChangedAt: order.UpdatedAt,
	})
}

// settleHeld commits or releases every reservation of the order that is
// still held. Failures are logged; the order status is already final.
func (s *Service) settleHeld(ctx context.Context, orderID string, settle func(context.Context, *models.ReservationToken) (bool, error)) {
	tokens, err := s.ledger.ReservationsForOrder(ctx, orderID)
	if err != nil {
		s.logger.WithField("order_id", orderID).WithError(err).Error("failed to load reservations")
		return
	}
	for i := range tokens {
		if tokens[i].State != models.ReservationHeld {
			continue
		}
		if _, err := settle(ctx, &tokens[i]); err != nil {
			s.logger.WithFields(logrus.Fields{"order_id": orderID, "slot_id": tokens[i].SlotID}).
				WithError(err).Error("failed to settle reservation")
		}
	}
}

func (s *Service) releaseAll(ctx context.Context, tokens []*models.ReservationToken) {
	for _, t := range tokens {
		if _, err := s.ledger.Release(ctx, t); err != nil {
			s.logger.WithFields(logrus.Fields{"order_id": t.OrderID, "slot_id": t.SlotID}).
				WithError(err).Error("failed to release reservation")
		}
	}
}

// mergeLines sums counts of repeated medicines and sorts lines by medicine id.
func mergeLines(in []models.OrderLine) []models.OrderLine {
	counts := make(map[string]int, len(in))
	for _, l := range in {
		counts[l.MedicineID] += l.Count
	}
	out := make([]models.OrderLine, 0, len(counts))
	for id, n := range counts {
		out = append(out, models.OrderLine{MedicineID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MedicineID < out[j].MedicineID })
	return out
}
