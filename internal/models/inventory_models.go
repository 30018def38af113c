package models

import "time"

// InventorySlot holds one medicine inside one machine.
// Invariant: 0 <= ReservedCount <= TotalCount.
type InventorySlot struct {
	ID            string    `json:"id"`
	MachineID     string    `json:"machine_id"`
	MedicineID    string    `json:"medicine_id"`
	TotalCount    int       `json:"total_count"`
	ReservedCount int       `json:"reserved_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Medicine is populated by joined reads (device notifications, dispatch).
	Medicine *Medicine `json:"medicine,omitempty"`
}

// Available returns the headroom that can still be reserved.
func (s InventorySlot) Available() int {
	return s.TotalCount - s.ReservedCount
}

// CreateSlotRequest is the body for stocking a new medicine in a machine.
type CreateSlotRequest struct {
	MedicineID string `json:"medicine_id" validate:"required,uuid"`
	TotalCount int    `json:"total_count" validate:"gte=0"`
}

// AdjustSlotRequest replaces the total count of a slot.
type AdjustSlotRequest struct {
	TotalCount int `json:"total_count" validate:"gte=0"`
}

// ReservationState tracks the lifecycle of a reservation token.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// ReservationToken proves that Count units of a slot were set aside for an order.
// It leaves the held state exactly once.
type ReservationToken struct {
	ID         string           `json:"id"`
	SlotID     string           `json:"slot_id"`
	MachineID  string           `json:"machine_id"`
	MedicineID string           `json:"medicine_id"`
	OrderID    string           `json:"order_id"`
	Count      int              `json:"count"`
	State      ReservationState `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
}

// InventoryItemInfo describes a slot's content as seen by device firmware.
type InventoryItemInfo struct {
	MedicineType MedicineType `json:"medicine_type"`
	MedicineName string       `json:"medicine_name"`
	LeftAmount   int          `json:"left_amount"`
}

// SlotReport is the count a device reports for one of its slots.
type SlotReport = InventoryItemInfo
