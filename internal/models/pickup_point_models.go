package models

import "time"

// PickupPoint is a place where machines stop and customers collect orders.
type PickupPoint struct {
	ID          string    `json:"id"`
	Location    Location  `json:"location"`
	IsAvailable bool      `json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreatePickupPointRequest is the body for adding a pickup point.
type CreatePickupPointRequest struct {
	Location    Location `json:"location" validate:"required"`
	IsAvailable *bool    `json:"is_available,omitempty"`
}

// PickupPointVisit is a scheduled stop of a machine at a pickup point.
// The order of stops in a schedule is defined by ArrivalAt.
type PickupPointVisit struct {
	ID            string    `json:"id"`
	MachineID     string    `json:"machine_id"`
	PickupPointID string    `json:"pickup_point_id"`
	ArrivalAt     time.Time `json:"arrival_at"`
	DepartureAt   time.Time `json:"departure_at"`
	DeliverOrders bool      `json:"deliver_orders"`
	CreatedAt     time.Time `json:"created_at"`

	// PickupPoint is populated by queries that join the point, e.g. route planning.
	PickupPoint *PickupPoint `json:"pickup_point,omitempty"`
}

// CreateVisitRequest is the body for scheduling a stop. MachineID comes
// from the route.
type CreateVisitRequest struct {
	MachineID     string    `json:"-" validate:"required,uuid"`
	PickupPointID string    `json:"pickup_point_id" validate:"required,uuid"`
	ArrivalAt     time.Time `json:"arrival_at" validate:"required"`
	DepartureAt   time.Time `json:"departure_at" validate:"required,gtfield=ArrivalAt"`
	DeliverOrders bool      `json:"deliver_orders"`
}
