package models

import "time"

// MedicineType enumerates dosage forms. Values are shared with device firmware.
type MedicineType int

const (
	MedicineLiquid MedicineType = iota + 1
	MedicineTablet
	MedicineCapsules
	MedicineTopical
	MedicineSuppositories
	MedicineDrops
	MedicineInhalers
	MedicineInjections
	MedicinePatches
	MedicineSublingual
)

// Medicine is a product that can be stocked in machine slots.
type Medicine struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Type               MedicineType `json:"type"`
	Description        string       `json:"description"`
	Price              float64      `json:"price"`
	Currency           string       `json:"currency"`
	PrescriptionNeeded bool         `json:"prescription_needed"`
	IsAvailable        bool         `json:"is_available"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// CreateMedicineRequest is the body for adding a medicine to the catalogue.
type CreateMedicineRequest struct {
	Name               string       `json:"name" validate:"required,max=100"`
	Type               MedicineType `json:"type" validate:"required,min=1,max=10"`
	Description        string       `json:"description"`
	Price              float64      `json:"price" validate:"gte=0"`
	Currency           string       `json:"currency" validate:"omitempty,oneof=USD EUR UAH"`
	PrescriptionNeeded bool         `json:"prescription_needed"`
}
