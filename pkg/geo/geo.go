// Package geo provides great-circle distance and travel time estimates
// between geographic points.
package geo

import (
	"errors"
	"fmt"
	"math"
)

const (
	// EarthRadiusKm is the mean earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0

	// PointToPointSpeedKmh is the average speed assumed for a single A->B estimate.
	PointToPointSpeedKmh = 45.0
	// RouteLegSpeedKmh is the average speed assumed between two stops of a route.
	RouteLegSpeedKmh = 60.0
)

// ErrInvalidCoordinate is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Validate checks that the point lies within [-90,90] x [-180,180].
func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, p.Longitude)
	}
	return nil
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	lat1, lon1 := radians(a.Latitude), radians(a.Longitude)
	lat2, lon2 := radians(b.Latitude), radians(b.Longitude)

	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c * 1000, nil
}

// TravelTime estimates hours needed to cover distanceMeters at a constant speed.
func TravelTime(distanceMeters, speedKmh float64) float64 {
	if speedKmh <= 0 {
		return 0
	}
	return distanceMeters / 1000 / speedKmh
}

// DistanceMatrix builds the symmetric NxN distance grid in meters.
func DistanceMatrix(points []Point) ([][]float64, error) {
	n := len(points)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, err := Distance(points[i], points[j])
			if err != nil {
				return nil, fmt.Errorf("geo.DistanceMatrix: points %d,%d: %w", i, j, err)
			}
			matrix[i][j] = d
			matrix[j][i] = d
		}
	}
	return matrix, nil
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
