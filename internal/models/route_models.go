package models

import "time"

// RouteOptimizationRequest asks for the best visiting order of a machine's
// scheduled stops within [Start, End].
type RouteOptimizationRequest struct {
	MachineID string    `json:"machine_id" validate:"required,uuid"`
	Start     time.Time `json:"start" validate:"required"`
	End       time.Time `json:"end" validate:"required"`
}

// RouteStop is one leg of an optimized route. TravelTime is in minutes,
// TravelDistance in meters, both measured from the previous stop.
type RouteStop struct {
	PickupPointID  string    `json:"id"`
	VisitID        string    `json:"visit_id"`
	TravelTime     float64   `json:"travel_time"`
	TravelDistance float64   `json:"travel_distance"`
	ArriveAt       time.Time `json:"arrive_at"`
}

// RouteOptimizationResult is derived on demand and never persisted.
// TotalDistance is in meters, TotalTime in hours.
type RouteOptimizationResult struct {
	MachineID     string      `json:"machine_id"`
	Route         []RouteStop `json:"route"`
	TotalDistance float64     `json:"total_distance"`
	TotalTime     float64     `json:"total_time"`
	CreatedAt     time.Time   `json:"created_at"`
}

// DistanceRequest compares two pickup points.
type DistanceRequest struct {
	PickupPoint1ID string `json:"pickup_point1_id" validate:"required,uuid"`
	PickupPoint2ID string `json:"pickup_point2_id" validate:"required,uuid"`
}

// DistanceResponse has Distance in kilometers.
type DistanceResponse struct {
	Distance  float64 `json:"distance"`
	TimeHours float64 `json:"time_hours"`
}
