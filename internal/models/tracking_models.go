package models

import (
	"encoding/json"
	"time"
)

// MachineStatistic is a timestamped telemetry record reported by a machine.
type MachineStatistic struct {
	ID        string          `json:"id"`
	MachineID string          `json:"machine_id"`
	Info      json.RawMessage `json:"info"`
	CreatedAt time.Time       `json:"created_at"`
}

// TrackingMessage is pushed to websocket subscribers of an order.
type TrackingMessage struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	MachineID *string     `json:"machine_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
