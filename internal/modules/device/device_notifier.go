package device

import (
	"context"
	"encoding/json"
	"fmt"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"

	"github.com/sirupsen/logrus"
)

// Publisher hands a message to the broker. Implementations must not retry.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MachineLookup resolves a machine id to its record.
type MachineLookup interface {
	GetMachineByID(ctx context.Context, id string) (*models.Machine, error)
}

// Notifier publishes commands to machines. Every send is fire-and-forget: a
// failure is logged and returned as models.ErrTransportFailure.
type Notifier struct {
	pub      Publisher
	machines MachineLookup
	logger   logrus.FieldLogger
}

func NewNotifier(pub Publisher, machines MachineLookup, logger logrus.FieldLogger) *Notifier {
	return &Notifier{pub: pub, machines: machines, logger: logger}
}

func (n *Notifier) SendNewOrder(ctx context.Context, mac string, msg models.NewOrderMessage) error {
	return n.publish(ctx, NewOrderTopic(mac), msg)
}

func (n *Notifier) SendUnregister(ctx context.Context, mac string) error {
	return n.publish(ctx, UnregisterTopic(mac), struct{}{})
}

func (n *Notifier) SendInventoryUpdate(ctx context.Context, mac string, update models.InventoryUpdate) error {
	return n.publish(ctx, InventoryUpdateTopic(mac), update)
}

func (n *Notifier) SendRegistrationResponse(ctx context.Context, mac string, status models.RegistrationStatus) error {
	return n.publish(ctx, RegisterResponseTopic(mac), models.RegistrationResponse{Status: status})
}

func (n *Notifier) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("notifier: encode %s: %w", topic, err)
	}
	if err := n.pub.Publish(ctx, topic, payload); err != nil {
		n.logger.WithField("topic", topic).WithError(err).Error("device publish failed")
		return fmt.Errorf("%w: %s: %w", models.ErrTransportFailure, topic, err)
	}
	n.logger.WithField("topic", topic).Debug("device message published")
	return nil
}

// HandleEvent is the hub subscriber for slot and machine changes.
func (n *Notifier) HandleEvent(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.SlotChanged:
		info := &models.InventoryItemInfo{LeftAmount: e.Slot.TotalCount}
		if e.Slot.Medicine != nil {
			info.MedicineType = e.Slot.Medicine.Type
			info.MedicineName = e.Slot.Medicine.Name
		}
		return n.sendToMachine(ctx, e.Slot.MachineID, models.InventoryUpdate{e.Slot.ID: info})
	case events.SlotRemoved:
		return n.sendToMachine(ctx, e.MachineID, models.InventoryUpdate{e.SlotID: nil})
	case events.MachineDeleted:
		return n.SendUnregister(ctx, e.Machine.MAC)
	}
	return nil
}

func (n *Notifier) sendToMachine(ctx context.Context, machineID string, update models.InventoryUpdate) error {
	m, err := n.machines.GetMachineByID(ctx, machineID)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	return n.SendInventoryUpdate(ctx, m.MAC, update)
}
