package models

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderCreated    OrderStatus = "created"
	OrderPaid       OrderStatus = "paid"
	OrderPreorder   OrderStatus = "preorder"
	OrderInDelivery OrderStatus = "in_delivery"
	OrderCompleted  OrderStatus = "completed"
	OrderCanceled   OrderStatus = "canceled"
	OrderFailed     OrderStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderCompleted, OrderCanceled, OrderFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the order state machine allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderCreated:
		return next == OrderPaid || next == OrderCanceled
	case OrderPaid:
		return next == OrderInDelivery || next == OrderPreorder || next == OrderCanceled
	case OrderPreorder:
		return next == OrderPaid || next == OrderInDelivery || next == OrderCanceled
	case OrderInDelivery:
		return next == OrderCompleted || next == OrderFailed || next == OrderPaid
	case OrderCompleted, OrderCanceled, OrderFailed:
		return false
	}
	return false
}

// Cancellable reports whether a customer may still cancel the order.
func (s OrderStatus) Cancellable() bool {
	return s == OrderCreated || s == OrderPaid || s == OrderPreorder
}

// OrderLine is one medicine and count inside an order.
type OrderLine struct {
	MedicineID string `json:"id" validate:"required,uuid"`
	Count      int    `json:"count" validate:"required,gt=0"`
}

// Order represents a customer's medicine order.
type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	MachineID       *string     `json:"machine_id,omitempty"`
	PickupPointID   string      `json:"pickup_point_id"`
	Status          OrderStatus `json:"status"`
	PaymentAmount   float64     `json:"payment_amount"`
	PaymentCurrency string      `json:"payment_currency"`
	PaymentDate     *time.Time  `json:"payment_date,omitempty"`
	CompletionDate  *time.Time  `json:"completion_date,omitempty"`
	Lines           []OrderLine `json:"medicines"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// StatusUpdate is a compare-and-set on Order.Status: it applies only when the
// stored status is one of From. Optional fields are written with the status.
type StatusUpdate struct {
	From           []OrderStatus
	To             OrderStatus
	MachineID      *string
	PaymentDate    *time.Time
	CompletionDate *time.Time
}

// CreateOrderRequest represents the data needed to place a new order.
type CreateOrderRequest struct {
	PickupPointID string      `json:"pickup_point_id" validate:"required,uuid"`
	MachineID     *string     `json:"machine_id,omitempty" validate:"omitempty,uuid"`
	Currency      string      `json:"currency" validate:"omitempty,oneof=USD EUR UAH"`
	Medicines     []OrderLine `json:"medicines" validate:"required,min=1,dive"`
}

// OrderEventStatus is the lifecycle signal a machine reports for an order.
type OrderEventStatus string

const (
	OrderEventStart   OrderEventStatus = "start"
	OrderEventSuccess OrderEventStatus = "success"
	OrderEventFail    OrderEventStatus = "fail"
)

// OrderEvent is the payload of machine/{mac}/orders/{orderId}/event.
type OrderEvent struct {
	Status OrderEventStatus `json:"status"`
	Reason *string          `json:"reason,omitempty"`
}

// Validate rejects event statuses outside the closed set.
func (e OrderEvent) Validate() error {
	switch e.Status {
	case OrderEventStart, OrderEventSuccess, OrderEventFail:
		return nil
	}
	return fmt.Errorf("%w: unknown order event status %q", ErrValidation, e.Status)
}
