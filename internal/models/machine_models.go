// Package models defines the data structures shared by the dispatch backend:
// machines, their schedules and inventory, orders, and device messages.
package models

import (
	"fmt"
	"time"
)

// MachineStatus is the registration state of a vending machine.
type MachineStatus string

const (
	MachineUnregistered  MachineStatus = "unregistered"
	MachineRegistered    MachineStatus = "registered"
	MachineDysfunctional MachineStatus = "dysfunctional"
)

// ParseMachineStatus validates a raw status value.
func ParseMachineStatus(s string) (MachineStatus, error) {
	switch MachineStatus(s) {
	case MachineUnregistered, MachineRegistered, MachineDysfunctional:
		return MachineStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown machine status %q", ErrValidation, s)
}

// OperatorSources lists the states an operator may move a machine out of
// to reach to. Registered is reached only through the device handshake, so
// operators can mark a machine dysfunctional or send a dysfunctional one
// back to unregistered, nothing else.
func OperatorSources(to MachineStatus) []MachineStatus {
	switch to {
	case MachineDysfunctional:
		return []MachineStatus{MachineUnregistered, MachineRegistered}
	case MachineUnregistered:
		return []MachineStatus{MachineDysfunctional}
	case MachineRegistered:
		return nil
	}
	return nil
}

// Location is a point on the map. Country and Address are informational.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Country   string  `json:"country,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Machine represents a mobile vending machine travelling between pickup points.
type Machine struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	MAC               string        `json:"mac"`
	Status            MachineStatus `json:"status"`
	IsOnline          bool          `json:"is_online"`
	Location          Location      `json:"location"`
	LastMaintenanceAt *time.Time    `json:"last_maintenance_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// CreateMachineRequest is the body for registering a machine administratively.
type CreateMachineRequest struct {
	Name     string   `json:"name" validate:"required,min=2,max=100"`
	MAC      string   `json:"mac" validate:"required,max=100"`
	Location Location `json:"location" validate:"required"`
}

// UpdateMachineRequest carries the operator-editable fields of a machine.
type UpdateMachineRequest struct {
	Name              *string    `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Location          *Location  `json:"location,omitempty"`
	LastMaintenanceAt *time.Time `json:"last_maintenance_at,omitempty"`
}

// MachineStatusUpdateRequest contains the operator's status change.
type MachineStatusUpdateRequest struct {
	Status string `json:"status" validate:"required"`
}

// SearchMachinesRequest filters machines able to serve an order.
// Medicines maps medicine id to the count that must be available.
type SearchMachinesRequest struct {
	Medicines       map[string]int `json:"medicines,omitempty"`
	PickupPointStop string         `json:"pickup_point_stop,omitempty"`
	Status          *MachineStatus `json:"status,omitempty"`
	ListParams
}

// AssignRequest asks which machine could serve the given lines at a pickup point.
type AssignRequest struct {
	PickupPointID string      `json:"pickup_point_id" validate:"required,uuid"`
	Medicines     []OrderLine `json:"medicines" validate:"required,min=1,dive"`
}
