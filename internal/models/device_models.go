package models

import (
	"encoding/json"
	"time"
)

// Envelope wraps every inbound device message. Timestamp is the backend
// receipt time and MsgTimestamp the device-local send time, both unix seconds.
type Envelope struct {
	Topic        string          `json:"topic" validate:"required"`
	QoS          byte            `json:"qos"`
	Timestamp    float64         `json:"timestamp"`
	MsgTimestamp float64         `json:"msg_timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

// ReceivedAt converts the receipt timestamp.
func (e Envelope) ReceivedAt() time.Time {
	sec := int64(e.Timestamp)
	return time.Unix(sec, int64((e.Timestamp-float64(sec))*1e9)).UTC()
}

type RegistrationRequest struct {
	MAC string `json:"mac" validate:"required"`
}

type RegistrationStatus string

const (
	RegistrationSuccess RegistrationStatus = "success"
	RegistrationFailure RegistrationStatus = "failure"
)

type RegistrationResponse struct {
	Status RegistrationStatus `json:"status"`
}

type ConnectionMessage struct {
	Online bool `json:"online"`
}

// MachineStatusReport is the periodic telemetry of a machine.
// Inventory is keyed by slot id.
type MachineStatusReport struct {
	MAC             string                       `json:"mac"`
	Temperature     int                          `json:"temperature"`
	Humidity        int                          `json:"humidity"`
	FirmwareVersion string                       `json:"firmware_version"`
	HardwareVersion string                       `json:"hardware_version"`
	Location        Location                     `json:"location"`
	Inventory       map[string]InventoryItemInfo `json:"inventory"`
}

type NewOrderMedicine struct {
	MedicineType MedicineType `json:"medicine_type"`
	MedicineName string       `json:"medicine_name"`
	Count        int          `json:"count"`
}

// NewOrderMessage is published on machine/{mac}/orders/new.
type NewOrderMessage struct {
	OrderID        string             `json:"order_id"`
	OrderMedicines []NewOrderMedicine `json:"order_medicines"`
}

// InventoryUpdate is published on machine/{mac}/inventory/update.
// A nil entry tells the device the slot was removed.
type InventoryUpdate map[string]*InventoryItemInfo
