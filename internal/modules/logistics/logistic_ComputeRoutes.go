package logistics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/geo"
	"medicine-dispatch/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// ------------------- Repository Layer -------------------

// MachineFinder looks machines up by id.
type MachineFinder interface {
	GetMachineByID(ctx context.Context, id string) (*models.Machine, error)
}

// ScheduleReader gives read access to pickup points and machine visits.
type ScheduleReader interface {
	GetPickupPointByID(ctx context.Context, id string) (*models.PickupPoint, error)
	ListVisitsInWindow(ctx context.Context, machineID string, start, end time.Time) ([]models.PickupPointVisit, error)
	ListDeliverableVisits(ctx context.Context, pickupPointID string, after time.Time) ([]models.PickupPointVisit, error)
}

// ------------------- Service Layer -------------------

// RouteServiceInterface defines route planning over a machine's schedule.
type RouteServiceInterface interface {
	OptimizeRoute(ctx context.Context, req models.RouteOptimizationRequest) (*models.RouteOptimizationResult, error)
	CalculateDistance(ctx context.Context, req models.DistanceRequest) (*models.DistanceResponse, error)
}

// RouteService implements RouteServiceInterface. It only reads and may be
// called concurrently.
type RouteService struct {
	machines MachineFinder
	schedule ScheduleReader
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewRouteService(machines MachineFinder, schedule ScheduleReader, logger logrus.FieldLogger) *RouteService {
	return &RouteService{
		machines: machines,
		schedule: schedule,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OptimizeRoute orders the machine's visits inside [Start, End] so that every
// stop is reached within its window while the total distance is minimal.
// The earliest scheduled visit is the fixed starting point.
func (s *RouteService) OptimizeRoute(ctx context.Context, req models.RouteOptimizationRequest) (*models.RouteOptimizationResult, error) {
	if !req.Start.Before(req.End) {
		return nil, fmt.Errorf("service.OptimizeRoute: %w", models.ErrInvalidTimeWindow)
	}
	machine, err := s.machines.GetMachineByID(ctx, req.MachineID)
	if err != nil {
		return nil, fmt.Errorf("service.OptimizeRoute: %w", err)
	}

	visits, err := s.schedule.ListVisitsInWindow(ctx, machine.ID, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("service.OptimizeRoute: %w", err)
	}
	if len(visits) == 0 {
		return nil, fmt.Errorf("service.OptimizeRoute: %w", models.ErrNoStopsInWindow)
	}

	problem, err := buildRouteProblem(visits)
	if err != nil {
		return nil, fmt.Errorf("service.OptimizeRoute: %w", err)
	}
	order, ok := problem.solve()
	if !ok {
		return nil, fmt.Errorf("service.OptimizeRoute: %d stops: %w", len(visits), models.ErrNoFeasibleRoute)
	}
	at, _ := problem.schedule(order)

	result := &models.RouteOptimizationResult{
		MachineID: machine.ID,
		Route:     make([]models.RouteStop, 0, len(order)),
		CreatedAt: s.now(),
	}
	var totalSeconds int64
	for k, node := range order {
		stop := models.RouteStop{
			PickupPointID: visits[node].PickupPointID,
			VisitID:       visits[node].ID,
			ArriveAt:      time.Unix(at[k], 0).UTC(),
		}
		if k > 0 {
			prev := order[k-1]
			secs := problem.travel[prev][node]
			stop.TravelTime = float64(secs) / 60
			stop.TravelDistance = problem.dist[prev][node]
			totalSeconds += secs
			result.TotalDistance += stop.TravelDistance
		}
		result.Route = append(result.Route, stop)
	}
	result.TotalTime = float64(totalSeconds) / 3600

	s.logger.WithFields(logrus.Fields{
		"machine_id":     machine.ID,
		"stops":          len(order),
		"total_distance": math.Round(result.TotalDistance),
	}).Debug("route optimized")
	return result, nil
}

// CalculateDistance returns the great-circle distance between two pickup
// points in kilometers and the time needed at the point-to-point speed.
func (s *RouteService) CalculateDistance(ctx context.Context, req models.DistanceRequest) (*models.DistanceResponse, error) {
	a, err := s.schedule.GetPickupPointByID(ctx, req.PickupPoint1ID)
	if err != nil {
		return nil, fmt.Errorf("service.CalculateDistance: %w", err)
	}
	b, err := s.schedule.GetPickupPointByID(ctx, req.PickupPoint2ID)
	if err != nil {
		return nil, fmt.Errorf("service.CalculateDistance: %w", err)
	}

	meters, err := geo.Distance(toPoint(a.Location), toPoint(b.Location))
	if err != nil {
		return nil, fmt.Errorf("service.CalculateDistance: %w", err)
	}
	return &models.DistanceResponse{
		Distance:  meters / 1000,
		TimeHours: geo.TravelTime(meters, geo.PointToPointSpeedKmh),
	}, nil
}

// buildRouteProblem turns visits sorted by arrival into solver input. Each
// stop is open from its arrival for its scheduled stay, at least 30 minutes.
func buildRouteProblem(visits []models.PickupPointVisit) (*routeProblem, error) {
	points := make([]geo.Point, len(visits))
	windows := make([]timeWindow, len(visits))
	for i, v := range visits {
		if v.PickupPoint == nil {
			return nil, fmt.Errorf("visit %s: %w", v.ID, models.ErrPickupPointNotFound)
		}
		points[i] = toPoint(v.PickupPoint.Location)

		open := v.ArrivalAt.Unix()
		stay := max(int64(v.DepartureAt.Sub(v.ArrivalAt).Seconds()), minStopSeconds)
		windows[i] = timeWindow{open: open, close: open + stay}
	}

	dist, err := geo.DistanceMatrix(points)
	if err != nil {
		return nil, err
	}
	travel := make([][]int64, len(dist))
	for i := range dist {
		travel[i] = make([]int64, len(dist))
		for j := range dist[i] {
			travel[i][j] = int64(math.Round(geo.TravelTime(dist[i][j], geo.RouteLegSpeedKmh) * 3600))
		}
	}
	return &routeProblem{windows: windows, dist: dist, travel: travel}, nil
}

func toPoint(l models.Location) geo.Point {
	return geo.Point{Latitude: l.Latitude, Longitude: l.Longitude}
}

// ------------------- HTTP Handler -------------------

// OptimizeRoute handles POST /routes/optimize.
func (h *Handler) OptimizeRoute(c echo.Context) error {
	var req models.RouteOptimizationRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	result, err := h.routes.OptimizeRoute(c.Request().Context(), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, result)
}

// CalculateDistance handles POST /routes/distance.
func (h *Handler) CalculateDistance(c echo.Context) error {
	var req models.DistanceRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	resp, err := h.routes.CalculateDistance(c.Request().Context(), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, resp)
}
