// Package events carries post-commit notifications from services to
// side-effect subscribers (device notifications, Kafka, websockets, email).
package events

import (
	"time"

	"medicine-dispatch/internal/models"
)

// Event is anything published on the Hub.
type Event interface {
	EventName() string
}

const (
	NameOrderStatusChanged = "order.status_changed"
	NameSlotChanged        = "inventory.slot_changed"
	NameSlotRemoved        = "inventory.slot_removed"
	NameMachineDeleted     = "machine.deleted"
	NameDeviceAnomaly      = "device.anomaly"
)

// OrderStatusChanged is emitted after an order status update is stored.
type OrderStatusChanged struct {
	Order     models.Order       `json:"order"`
	Previous  models.OrderStatus `json:"previous"`
	Reason    string             `json:"reason,omitempty"`
	ChangedAt time.Time          `json:"changed_at"`
}

func (OrderStatusChanged) EventName() string { return NameOrderStatusChanged }

// SlotChanged is emitted after a slot is created or its total adjusted by an operator.
type SlotChanged struct {
	Slot models.InventorySlot
}

func (SlotChanged) EventName() string { return NameSlotChanged }

// SlotRemoved is emitted after a slot is deleted.
type SlotRemoved struct {
	SlotID    string
	MachineID string
}

func (SlotRemoved) EventName() string { return NameSlotRemoved }

// MachineDeleted is emitted after a machine row is removed.
type MachineDeleted struct {
	Machine models.Machine
}

func (MachineDeleted) EventName() string { return NameMachineDeleted }

// DeviceAnomaly reports a device message that did not match backend state,
// e.g. an order event from a machine the order is not assigned to.
type DeviceAnomaly struct {
	MAC        string    `json:"mac"`
	OrderID    string    `json:"order_id,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

func (DeviceAnomaly) EventName() string { return NameDeviceAnomaly }
