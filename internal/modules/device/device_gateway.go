package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"medicine-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MachineStore is the machine state the gateway reads and mutates.
type MachineStore interface {
	GetMachineByMAC(ctx context.Context, mac string) (*models.Machine, error)
	SetMachineOnline(ctx context.Context, mac string, online bool) (*models.Machine, error)
	PromoteMachine(ctx context.Context, mac string) (bool, error)
	UpdateMachineLocation(ctx context.Context, mac string, loc models.Location) error
	CreateStatistic(ctx context.Context, st *models.MachineStatistic) error
}

// SnapshotApplier reconciles physical slot counts.
type SnapshotApplier interface {
	ApplyDeviceSnapshot(ctx context.Context, machineID string, reports map[string]models.SlotReport) error
}

// OrderEventHandler receives order lifecycle signals from machines.
type OrderEventHandler interface {
	OnDeviceOrderEvent(ctx context.Context, orderID, mac string, ev models.OrderEvent) error
}

// RegistrationResponder answers a registration request.
type RegistrationResponder interface {
	SendRegistrationResponse(ctx context.Context, mac string, status models.RegistrationStatus) error
}

// Gateway applies inbound device messages. Messages for the same MAC are
// handled one at a time; different MACs proceed in parallel.
type Gateway struct {
	machines  MachineStore
	inventory SnapshotApplier
	orders    OrderEventHandler
	responder RegistrationResponder
	logger    logrus.FieldLogger
	locks     keyedMutex
}

func NewGateway(machines MachineStore, inventory SnapshotApplier, orders OrderEventHandler, responder RegistrationResponder, logger logrus.FieldLogger) *Gateway {
	return &Gateway{
		machines:  machines,
		inventory: inventory,
		orders:    orders,
		responder: responder,
		logger:    logger,
		locks:     keyedMutex{locks: make(map[string]*keyedLock)},
	}
}

// Handle routes env by its topic.
func (g *Gateway) Handle(ctx context.Context, env models.Envelope) error {
	topic, err := ParseTopic(env.Topic)
	if err != nil {
		g.logger.WithField("topic", env.Topic).Warn("dropping message on unknown topic")
		return err
	}

	switch topic.Kind {
	case KindRegisterRequest:
		var req models.RegistrationRequest
		if err := decodePayload(env, &req); err != nil {
			return err
		}
		if req.MAC == "" {
			return fmt.Errorf("%w: registration without mac", models.ErrValidation)
		}
		defer g.locks.lock(req.MAC)()
		return g.handleRegistration(ctx, req.MAC)

	case KindConnection:
		var msg models.ConnectionMessage
		if err := decodePayload(env, &msg); err != nil {
			return err
		}
		defer g.locks.lock(topic.MAC)()
		return g.handleConnection(ctx, topic.MAC, msg)

	case KindStatus:
		var report models.MachineStatusReport
		if err := decodePayload(env, &report); err != nil {
			return err
		}
		defer g.locks.lock(topic.MAC)()
		return g.handleStatus(ctx, topic.MAC, report, env.Payload)

	case KindOrderEvent:
		var ev models.OrderEvent
		if err := decodePayload(env, &ev); err != nil {
			return err
		}
		if err := ev.Validate(); err != nil {
			return err
		}
		defer g.locks.lock(topic.MAC)()
		return g.orders.OnDeviceOrderEvent(ctx, topic.OrderID, topic.MAC, ev)
	}
	return fmt.Errorf("%w: %q", models.ErrUnknownTopic, env.Topic)
}

// handleRegistration never provisions: an unknown MAC gets a failure reply.
func (g *Gateway) handleRegistration(ctx context.Context, mac string) error {
	log := g.logger.WithField("machine_mac", mac)

	_, err := g.machines.GetMachineByMAC(ctx, mac)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn("registration request from unknown machine")
		return g.responder.SendRegistrationResponse(ctx, mac, models.RegistrationFailure)
	}
	if err != nil {
		return fmt.Errorf("gateway.Registration: %w", err)
	}

	replyErr := g.responder.SendRegistrationResponse(ctx, mac, models.RegistrationSuccess)
	promoted, err := g.machines.PromoteMachine(ctx, mac)
	if err != nil {
		return fmt.Errorf("gateway.Registration: %w", err)
	}
	if promoted {
		log.Info("machine registered")
	}
	return replyErr
}

func (g *Gateway) handleConnection(ctx context.Context, mac string, msg models.ConnectionMessage) error {
	if _, err := g.machines.SetMachineOnline(ctx, mac, msg.Online); err != nil {
		return fmt.Errorf("gateway.Connection: %w", err)
	}
	g.logger.WithFields(logrus.Fields{"machine_mac": mac, "online": msg.Online}).Debug("machine connection changed")
	return nil
}

// handleStatus stores the report, moves the machine, finishes a pending
// registration and reconciles slot counts.
func (g *Gateway) handleStatus(ctx context.Context, mac string, report models.MachineStatusReport, raw json.RawMessage) error {
	log := g.logger.WithField("machine_mac", mac)

	machine, err := g.machines.GetMachineByMAC(ctx, mac)
	if err != nil {
		log.Debug("status report from unknown machine")
		return fmt.Errorf("gateway.Status: %w", err)
	}

	st := &models.MachineStatistic{ID: uuid.NewString(), MachineID: machine.ID, Info: raw}
	if err := g.machines.CreateStatistic(ctx, st); err != nil {
		return fmt.Errorf("gateway.Status: %w", err)
	}
	if err := g.machines.UpdateMachineLocation(ctx, mac, report.Location); err != nil {
		return fmt.Errorf("gateway.Status: %w", err)
	}
	if machine.Status == models.MachineUnregistered {
		promoted, err := g.machines.PromoteMachine(ctx, mac)
		if err != nil {
			return fmt.Errorf("gateway.Status: %w", err)
		}
		if promoted {
			log.Info("machine registered by first status report")
		}
	}

	if len(report.Inventory) > 0 {
		reports := make(map[string]models.SlotReport, len(report.Inventory))
		for slotID, info := range report.Inventory {
			reports[slotID] = info
		}
		if err := g.inventory.ApplyDeviceSnapshot(ctx, machine.ID, reports); err != nil {
			return fmt.Errorf("gateway.Status: %w", err)
		}
	}
	return nil
}

func decodePayload(env models.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: empty payload on %s", models.ErrValidation, env.Topic)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: payload on %s: %v", models.ErrValidation, env.Topic, err)
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
