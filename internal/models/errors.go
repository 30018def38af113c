package models

import (
	"errors"
	"fmt"

	"medicine-dispatch/pkg/geo"
)

// Categories. Specific errors below wrap one of these so callers can match
// either the precise error or its category with errors.Is.
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a write collides with existing state.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed input that passed decoding.
	ErrValidation = errors.New("validation failed")
)

var (
	ErrMachineNotFound     = fmt.Errorf("machine: %w", ErrNotFound)
	ErrPickupPointNotFound = fmt.Errorf("pickup point: %w", ErrNotFound)
	ErrMedicineNotFound    = fmt.Errorf("medicine: %w", ErrNotFound)
	ErrOrderNotFound       = fmt.Errorf("order: %w", ErrNotFound)
	ErrSlotNotFound        = fmt.Errorf("inventory slot: %w", ErrNotFound)
	ErrVisitNotFound       = fmt.Errorf("pickup point visit: %w", ErrNotFound)

	ErrDuplicateSlot     = fmt.Errorf("slot for this medicine already exists: %w", ErrConflict)
	ErrDuplicateStop     = fmt.Errorf("visit already scheduled: %w", ErrConflict)
	ErrDuplicateMachine  = fmt.Errorf("machine with this mac already exists: %w", ErrConflict)
	ErrDuplicateMedicine = fmt.Errorf("medicine with this name and type already exists: %w", ErrConflict)

	// ErrOrderCannotBeCancelled is returned when the order already left the
	// created/paid/preorder states.
	ErrOrderCannotBeCancelled = fmt.Errorf("order cannot be cancelled: %w", ErrConflict)

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the current state.
	ErrInvalidTransition = fmt.Errorf("status transition not allowed: %w", ErrConflict)

	ErrInvalidCount       = fmt.Errorf("count must be positive: %w", ErrValidation)
	ErrInvalidTimeWindow  = fmt.Errorf("window start must be before end: %w", ErrValidation)
	ErrInvalidOrderColumn = fmt.Errorf("unsupported order column: %w", ErrValidation)
)

var (
	// ErrInsufficientStock is returned when a slot has less headroom than requested.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNoStopsInWindow is returned when a machine has no visits in the requested window.
	ErrNoStopsInWindow = errors.New("no stops in the requested window")

	// ErrNoFeasibleRoute is returned when no visiting order satisfies every time window.
	ErrNoFeasibleRoute = errors.New("no feasible route")

	// ErrTransportFailure is returned when a message could not be handed to the broker.
	ErrTransportFailure = errors.New("transport failure")

	// ErrUnknownTopic is returned for device topics outside the contract.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrInvalidCoordinate is returned for latitudes or longitudes out of range.
	ErrInvalidCoordinate = geo.ErrInvalidCoordinate

	// ErrNoMachineAvailable is returned by machine assignment when no machine can serve an order.
	ErrNoMachineAvailable = errors.New("no machine can serve this order")
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
