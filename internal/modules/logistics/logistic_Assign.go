package logistics

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"time"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/geo"
	"medicine-dispatch/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// ------------------- Repository Layer -------------------

// MachineLister lists machines of the fleet.
type MachineLister interface {
	ListMachines(ctx context.Context, p models.ListParams) ([]models.Machine, int, error)
}

// SlotReader finds every slot that holds a medicine.
type SlotReader interface {
	ListSlotsByMedicine(ctx context.Context, medicineID string) ([]models.InventorySlot, error)
}

// ------------------- Service Layer -------------------

// AssignServiceInterface defines how an order finds a machine.
type AssignServiceInterface interface {
	// ChooseMachine returns the machine that should serve lines at the pickup point.
	ChooseMachine(ctx context.Context, pickupPointID string, lines []models.OrderLine) (*models.Machine, error)
}

// AssignService implements AssignServiceInterface.
type AssignService struct {
	machines MachineLister
	slots    SlotReader
	schedule ScheduleReader
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewAssignService constructs a service over the fleet, inventory and schedule stores.
func NewAssignService(machines MachineLister, slots SlotReader, schedule ScheduleReader, logger logrus.FieldLogger) *AssignService {
	return &AssignService{
		machines: machines,
		slots:    slots,
		schedule: schedule,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ChooseMachine picks among registered machines that have enough unreserved
// stock for every line and an upcoming deliverable visit at the pickup point.
// The machine closest to the pickup point wins, ties go to the lower id.
func (s *AssignService) ChooseMachine(ctx context.Context, pickupPointID string, lines []models.OrderLine) (*models.Machine, error) {
	point, err := s.schedule.GetPickupPointByID(ctx, pickupPointID)
	if err != nil {
		return nil, fmt.Errorf("service.ChooseMachine: %w", err)
	}

	need := make(map[string]int, len(lines))
	for _, l := range lines {
		need[l.MedicineID] += l.Count
	}
	stocked, err := s.machinesWithStock(ctx, need)
	if err != nil {
		return nil, fmt.Errorf("service.ChooseMachine: %w", err)
	}
	stopping, err := s.machinesStoppingAt(ctx, point.ID)
	if err != nil {
		return nil, fmt.Errorf("service.ChooseMachine: %w", err)
	}

	fleet, _, err := s.machines.ListMachines(ctx, models.ListParams{})
	if err != nil {
		return nil, fmt.Errorf("service.ChooseMachine: %w", err)
	}

	var (
		best     *models.Machine
		bestDist float64
	)
	target := toPoint(point.Location)
	for i := range fleet {
		m := &fleet[i]
		if m.Status != models.MachineRegistered || !stocked[m.ID] || !stopping[m.ID] {
			continue
		}
		d, err := geo.Distance(toPoint(m.Location), target)
		if err != nil {
			s.logger.WithField("machine_id", m.ID).WithError(err).Warn("machine has an invalid location")
			continue
		}
		if best == nil || d < bestDist || (d == bestDist && cmp.Less(m.ID, best.ID)) {
			best, bestDist = m, d
		}
	}
	if best == nil {
		return nil, fmt.Errorf("service.ChooseMachine: pickup point %s: %w", point.ID, models.ErrNoMachineAvailable)
	}

	s.logger.WithFields(logrus.Fields{
		"machine_id":      best.ID,
		"pickup_point_id": point.ID,
		"distance_m":      int(bestDist),
	}).Info("machine chosen for order")
	return best, nil
}

// machinesWithStock returns the ids of machines whose slots have at least
// need[medicine] unreserved units of every medicine.
func (s *AssignService) machinesWithStock(ctx context.Context, need map[string]int) (map[string]bool, error) {
	var result map[string]bool
	for medicineID, count := range need {
		slots, err := s.slots.ListSlotsByMedicine(ctx, medicineID)
		if err != nil {
			return nil, err
		}
		ok := make(map[string]bool, len(slots))
		for _, slot := range slots {
			if slot.Available() < count {
				continue
			}
			if result == nil || result[slot.MachineID] {
				ok[slot.MachineID] = true
			}
		}
		result = ok
		if len(result) == 0 {
			break
		}
	}
	if result == nil {
		result = map[string]bool{}
	}
	return result, nil
}

// machinesStoppingAt returns the ids of machines with a future visit at the
// pickup point that delivers orders.
func (s *AssignService) machinesStoppingAt(ctx context.Context, pickupPointID string) (map[string]bool, error) {
	visits, err := s.schedule.ListDeliverableVisits(ctx, pickupPointID, s.now())
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(visits))
	for _, v := range visits {
		result[v.MachineID] = true
	}
	return result, nil
}

// ------------------- HTTP Handler -------------------

// AssignHandler exposes the machine choice to operators.
type AssignHandler struct {
	svc AssignServiceInterface
}

// NewAssignHandler creates a new handler with the given service.
func NewAssignHandler(svc AssignServiceInterface) *AssignHandler {
	return &AssignHandler{svc: svc}
}

// SuggestMachine handles POST /admin/assign requests. Nothing is reserved.
func (h *AssignHandler) SuggestMachine(c echo.Context) error {
	var req models.AssignRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	machine, err := h.svc.ChooseMachine(c.Request().Context(), req.PickupPointID, req.Medicines)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, machine)
}

// RegisterAdminRoutesAssign attaches the assign endpoint to an Echo group.
func RegisterAdminRoutesAssign(g *echo.Group, h *AssignHandler) {
	g.POST("/assign", h.SuggestMachine)
}
