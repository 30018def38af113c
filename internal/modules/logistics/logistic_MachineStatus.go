// Package logistics manages the machine fleet: machine records, route
// planning over their schedules, assignment of orders and live tracking.
package logistics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/platform/db"
	"medicine-dispatch/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// ------------------- Repository Layer -------------------

// RepositoryInterface declares database operations for machine records and
// the statistics machines report.
type RepositoryInterface interface {
	CreateMachine(ctx context.Context, m *models.Machine) error
	GetMachineByID(ctx context.Context, id string) (*models.Machine, error)
	GetMachineByMAC(ctx context.Context, mac string) (*models.Machine, error)
	ListMachines(ctx context.Context, p models.ListParams) ([]models.Machine, int, error)
	// UpdateMachine writes only the fields set in upd. Status and online
	// state belong to the device and are never touched.
	UpdateMachine(ctx context.Context, id string, upd models.UpdateMachineRequest) (*models.Machine, error)
	// SetMachineStatus moves the machine to `to` only if its current status is
	// one of from. It reports false when the status did not match.
	SetMachineStatus(ctx context.Context, id string, from []models.MachineStatus, to models.MachineStatus) (*models.Machine, bool, error)
	// DeleteMachine removes the machine and returns the deleted row.
	DeleteMachine(ctx context.Context, id string) (*models.Machine, error)

	SetMachineOnline(ctx context.Context, mac string, online bool) (*models.Machine, error)
	// PromoteMachine moves an unregistered machine to registered and online.
	// It reports false when the machine was already past unregistered.
	PromoteMachine(ctx context.Context, mac string) (bool, error)
	UpdateMachineLocation(ctx context.Context, mac string, loc models.Location) error

	CreateStatistic(ctx context.Context, st *models.MachineStatistic) error
	ListStatistics(ctx context.Context, machineID string, p models.ListParams) ([]models.MachineStatistic, int, error)
}

// Repository implements RepositoryInterface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository instance.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const machineColumns = `id, name, mac, status, is_online, latitude, longitude, last_maintenance_at, created_at, updated_at`

func scanMachine(row pgx.Row) (*models.Machine, error) {
	m := &models.Machine{}
	err := row.Scan(&m.ID, &m.Name, &m.MAC, &m.Status, &m.IsOnline,
		&m.Location.Latitude, &m.Location.Longitude, &m.LastMaintenanceAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, models.ErrMachineNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *Repository) CreateMachine(ctx context.Context, m *models.Machine) error {
	query := `
        INSERT INTO machines (id, name, mac, status, is_online, latitude, longitude)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query, m.ID, m.Name, m.MAC, m.Status, m.IsOnline,
		m.Location.Latitude, m.Location.Longitude).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return models.ErrDuplicateMachine
		}
		return fmt.Errorf("repository.CreateMachine: %w", err)
	}
	return nil
}

// GetMachineByID fetches a single machine. Returns models.ErrMachineNotFound if none exist.
func (r *Repository) GetMachineByID(ctx context.Context, id string) (*models.Machine, error) {
	if uuid.Validate(id) != nil {
		return nil, models.ErrMachineNotFound
	}
	m, err := scanMachine(r.db.QueryRow(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("repository.GetMachineByID: %w", err)
	}
	return m, nil
}

func (r *Repository) GetMachineByMAC(ctx context.Context, mac string) (*models.Machine, error) {
	m, err := scanMachine(r.db.QueryRow(ctx, `SELECT `+machineColumns+` FROM machines WHERE mac = $1`, mac))
	if err != nil {
		return nil, fmt.Errorf("repository.GetMachineByMAC: %w", err)
	}
	return m, nil
}

func (r *Repository) ListMachines(ctx context.Context, p models.ListParams) ([]models.Machine, int, error) {
	order, err := p.OrderClause(models.MachineOrderColumns, "created_at")
	if err != nil {
		return nil, 0, err
	}
	var limit any
	if p.Limit > 0 {
		limit = p.Limit
	}

	rows, err := r.db.Query(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY `+order+` LIMIT $1 OFFSET $2`, limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListMachines: %w", err)
	}
	defer rows.Close()

	var machines []models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.ListMachines scan: %w", err)
		}
		machines = append(machines, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListMachines rows: %w", err)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM machines`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.ListMachines count: %w", err)
	}
	return machines, total, nil
}

// UpdateMachine writes the operator-editable fields present in upd.
func (r *Repository) UpdateMachine(ctx context.Context, id string, upd models.UpdateMachineRequest) (*models.Machine, error) {
	if uuid.Validate(id) != nil {
		return nil, models.ErrMachineNotFound
	}
	var lat, lon *float64
	if upd.Location != nil {
		lat, lon = &upd.Location.Latitude, &upd.Location.Longitude
	}
	var maintained *time.Time
	if upd.LastMaintenanceAt != nil {
		at := upd.LastMaintenanceAt.UTC()
		maintained = &at
	}

	query := `
        UPDATE machines
        SET name = COALESCE($2::text, name),
            latitude = COALESCE($3::double precision, latitude),
            longitude = COALESCE($4::double precision, longitude),
            last_maintenance_at = COALESCE($5::timestamptz, last_maintenance_at),
            updated_at = now()
        WHERE id = $1
        RETURNING ` + machineColumns
	m, err := scanMachine(r.db.QueryRow(ctx, query, id, upd.Name, lat, lon, maintained))
	if err != nil {
		return nil, fmt.Errorf("repository.UpdateMachine: %w", err)
	}
	return m, nil
}

// SetMachineStatus is a compare-and-set on status.
func (r *Repository) SetMachineStatus(ctx context.Context, id string, from []models.MachineStatus, to models.MachineStatus) (*models.Machine, bool, error) {
	if uuid.Validate(id) != nil {
		return nil, false, models.ErrMachineNotFound
	}
	sources := make([]string, len(from))
	for i, st := range from {
		sources[i] = string(st)
	}

	query := `
        UPDATE machines
        SET status = $2, updated_at = now()
        WHERE id = $1 AND status = ANY($3::text[])
        RETURNING ` + machineColumns
	m, err := scanMachine(r.db.QueryRow(ctx, query, id, string(to), sources))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, models.ErrMachineNotFound) {
		return nil, false, fmt.Errorf("repository.SetMachineStatus: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM machines WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, false, fmt.Errorf("repository.SetMachineStatus.Exists: %w", err)
	}
	if !exists {
		return nil, false, models.ErrMachineNotFound
	}
	return nil, false, nil
}

// DeleteMachine relies on ON DELETE CASCADE for slots, visits and statistics.
func (r *Repository) DeleteMachine(ctx context.Context, id string) (*models.Machine, error) {
	if uuid.Validate(id) != nil {
		return nil, models.ErrMachineNotFound
	}
	m, err := scanMachine(r.db.QueryRow(ctx, `DELETE FROM machines WHERE id = $1 RETURNING `+machineColumns, id))
	if err != nil {
		return nil, fmt.Errorf("repository.DeleteMachine: %w", err)
	}
	return m, nil
}

func (r *Repository) SetMachineOnline(ctx context.Context, mac string, online bool) (*models.Machine, error) {
	query := `UPDATE machines SET is_online = $2, updated_at = now() WHERE mac = $1 RETURNING ` + machineColumns
	m, err := scanMachine(r.db.QueryRow(ctx, query, mac, online))
	if err != nil {
		return nil, fmt.Errorf("repository.SetMachineOnline: %w", err)
	}
	return m, nil
}

func (r *Repository) PromoteMachine(ctx context.Context, mac string) (bool, error) {
	var promoted bool
	query := `
        WITH target AS (SELECT id, status FROM machines WHERE mac = $1),
        upd AS (
            UPDATE machines m
            SET status = 'registered', is_online = TRUE, updated_at = now()
            FROM target t
            WHERE m.id = t.id AND m.status = 'unregistered'
            RETURNING m.id
        )
        SELECT EXISTS (SELECT 1 FROM upd) FROM target`
	if err := r.db.QueryRow(ctx, query, mac).Scan(&promoted); err != nil {
		if db.IsNoRows(err) {
			return false, models.ErrMachineNotFound
		}
		return false, fmt.Errorf("repository.PromoteMachine: %w", err)
	}
	return promoted, nil
}

func (r *Repository) UpdateMachineLocation(ctx context.Context, mac string, loc models.Location) error {
	cmd, err := r.db.Exec(ctx,
		`UPDATE machines SET latitude = $2, longitude = $3, updated_at = now() WHERE mac = $1`,
		mac, loc.Latitude, loc.Longitude)
	if err != nil {
		return fmt.Errorf("repository.UpdateMachineLocation: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return models.ErrMachineNotFound
	}
	return nil
}

func (r *Repository) CreateStatistic(ctx context.Context, st *models.MachineStatistic) error {
	query := `
        INSERT INTO machine_statistics (id, machine_id, info)
        VALUES ($1, $2, $3)
        RETURNING created_at`
	err := r.db.QueryRow(ctx, query, st.ID, st.MachineID, []byte(st.Info)).Scan(&st.CreatedAt)
	if err != nil {
		if _, ok := db.ForeignKeyViolation(err); ok {
			return models.ErrMachineNotFound
		}
		return fmt.Errorf("repository.CreateStatistic: %w", err)
	}
	return nil
}

func (r *Repository) ListStatistics(ctx context.Context, machineID string, p models.ListParams) ([]models.MachineStatistic, int, error) {
	if _, err := r.GetMachineByID(ctx, machineID); err != nil {
		return nil, 0, err
	}
	order, err := p.OrderClause(models.StatisticOrderColumns, "created_at")
	if err != nil {
		return nil, 0, err
	}
	var limit any
	if p.Limit > 0 {
		limit = p.Limit
	}

	rows, err := r.db.Query(ctx, `
        SELECT id, machine_id, info, created_at
        FROM machine_statistics
        WHERE machine_id = $1
        ORDER BY `+order+`
        LIMIT $2 OFFSET $3`, machineID, limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListStatistics: %w", err)
	}
	defer rows.Close()

	var stats []models.MachineStatistic
	for rows.Next() {
		var st models.MachineStatistic
		var info []byte
		if err := rows.Scan(&st.ID, &st.MachineID, &info, &st.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("repository.ListStatistics scan: %w", err)
		}
		st.Info = json.RawMessage(info)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListStatistics rows: %w", err)
	}

	var total int
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM machine_statistics WHERE machine_id = $1`, machineID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListStatistics count: %w", err)
	}
	return stats, total, nil
}

// ------------------- Service Layer -------------------

// ServiceInterface describes operator management of the fleet.
type ServiceInterface interface {
	CreateMachine(ctx context.Context, req models.CreateMachineRequest) (*models.Machine, error)
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	ListMachines(ctx context.Context, p models.ListParams) ([]models.Machine, int, error)
	UpdateMachine(ctx context.Context, id string, req models.UpdateMachineRequest) (*models.Machine, error)
	// SetStatus is the operator override, e.g. marking a machine dysfunctional.
	SetStatus(ctx context.Context, id string, req models.MachineStatusUpdateRequest) (*models.Machine, error)
	DeleteMachine(ctx context.Context, id string) error
	SearchMachines(ctx context.Context, req models.SearchMachinesRequest) ([]models.Machine, int, error)
}

// Service implements ServiceInterface.
type Service struct {
	repo     RepositoryInterface
	eligible *AssignService
	events   events.Publisher
	logger   logrus.FieldLogger
}

// NewService creates a fleet service. The assign service supplies the
// stock and schedule filters used by SearchMachines.
func NewService(repo RepositoryInterface, assign *AssignService, pub events.Publisher, logger logrus.FieldLogger) ServiceInterface {
	return &Service{repo: repo, eligible: assign, events: pub, logger: logger}
}

// CreateMachine stores a new machine. It stays unregistered and offline
// until the device itself completes the registration handshake.
func (s *Service) CreateMachine(ctx context.Context, req models.CreateMachineRequest) (*models.Machine, error) {
	m := &models.Machine{
		ID:       uuid.NewString(),
		Name:     req.Name,
		MAC:      req.MAC,
		Status:   models.MachineUnregistered,
		Location: req.Location,
	}
	if err := s.repo.CreateMachine(ctx, m); err != nil {
		return nil, fmt.Errorf("service.CreateMachine: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"machine_id": m.ID, "machine_mac": m.MAC}).Info("machine created")
	return m, nil
}

func (s *Service) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	m, err := s.repo.GetMachineByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.GetMachine: %w", err)
	}
	return m, nil
}

func (s *Service) ListMachines(ctx context.Context, p models.ListParams) ([]models.Machine, int, error) {
	machines, total, err := s.repo.ListMachines(ctx, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListMachines: %w", err)
	}
	return machines, total, nil
}

func (s *Service) UpdateMachine(ctx context.Context, id string, req models.UpdateMachineRequest) (*models.Machine, error) {
	m, err := s.repo.UpdateMachine(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("service.UpdateMachine: %w", err)
	}
	return m, nil
}

// SetStatus applies an operator status change. Only the moves allowed by
// models.OperatorSources are accepted; the check and the write are one
// conditional update, so a concurrent registration is never overwritten.
func (s *Service) SetStatus(ctx context.Context, id string, req models.MachineStatusUpdateRequest) (*models.Machine, error) {
	status, err := models.ParseMachineStatus(req.Status)
	if err != nil {
		return nil, fmt.Errorf("service.SetStatus: %w", err)
	}
	from := models.OperatorSources(status)
	if len(from) == 0 {
		return nil, fmt.Errorf("service.SetStatus: %w: operators cannot set %s", models.ErrInvalidTransition, status)
	}

	m, applied, err := s.repo.SetMachineStatus(ctx, id, from, status)
	if err != nil {
		return nil, fmt.Errorf("service.SetStatus: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("service.SetStatus: %w: machine is not in %v", models.ErrInvalidTransition, from)
	}
	s.logger.WithFields(logrus.Fields{
		"machine_id": m.ID,
		"to":         status,
	}).Info("machine status set by operator")
	return m, nil
}

// DeleteMachine removes the machine; subscribers tell the device to unregister.
func (s *Service) DeleteMachine(ctx context.Context, id string) error {
	m, err := s.repo.DeleteMachine(ctx, id)
	if err != nil {
		return fmt.Errorf("service.DeleteMachine: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"machine_id": m.ID, "machine_mac": m.MAC}).Info("machine deleted")
	s.events.Publish(ctx, events.MachineDeleted{Machine: *m})
	return nil
}

// SearchMachines filters the fleet by status, by stock for every requested
// medicine and by an upcoming deliverable stop at a pickup point. Ordering
// and pagination apply to the filtered set.
func (s *Service) SearchMachines(ctx context.Context, req models.SearchMachinesRequest) ([]models.Machine, int, error) {
	all, _, err := s.repo.ListMachines(ctx, models.ListParams{OrderBy: req.OrderBy, Desc: req.Desc})
	if err != nil {
		return nil, 0, fmt.Errorf("service.SearchMachines: %w", err)
	}

	var stocked, stopping map[string]bool
	if len(req.Medicines) > 0 {
		if stocked, err = s.eligible.machinesWithStock(ctx, req.Medicines); err != nil {
			return nil, 0, fmt.Errorf("service.SearchMachines: %w", err)
		}
	}
	if req.PickupPointStop != "" {
		if stopping, err = s.eligible.machinesStoppingAt(ctx, req.PickupPointStop); err != nil {
			return nil, 0, fmt.Errorf("service.SearchMachines: %w", err)
		}
	}

	matched := make([]models.Machine, 0, len(all))
	for _, m := range all {
		if req.Status != nil && m.Status != *req.Status {
			continue
		}
		if stocked != nil && !stocked[m.ID] {
			continue
		}
		if stopping != nil && !stopping[m.ID] {
			continue
		}
		matched = append(matched, m)
	}

	lo, hi := req.ListParams.Window(len(matched))
	return matched[lo:hi], len(matched), nil
}

// ------------------- HTTP Handler -------------------

// Handler exposes HTTP endpoints for the fleet, routes and tracking.
type Handler struct {
	svc      ServiceInterface
	routes   RouteServiceInterface
	tracking TrackingServiceInterface
}

// NewHandler constructs a Handler with the provided services.
func NewHandler(svc ServiceInterface, routes RouteServiceInterface, tracking TrackingServiceInterface) *Handler {
	return &Handler{svc: svc, routes: routes, tracking: tracking}
}

func (h *Handler) CreateMachine(c echo.Context) error {
	var req models.CreateMachineRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	m, err := h.svc.CreateMachine(c.Request().Context(), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusCreated, m)
}

func (h *Handler) GetMachine(c echo.Context) error {
	m, err := h.svc.GetMachine(c.Request().Context(), c.Param("machineId"))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, m)
}

// GetFleet returns the fleet with the current status of every machine.
func (h *Handler) GetFleet(c echo.Context) error {
	machines, total, err := h.svc.ListMachines(c.Request().Context(), utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.Machine]{Items: machines, Total: total})
}

func (h *Handler) UpdateMachine(c echo.Context) error {
	var req models.UpdateMachineRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	m, err := h.svc.UpdateMachine(c.Request().Context(), c.Param("machineId"), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, m)
}

// SetMachineStatus handles PUT /fleet/:machineId/status requests.
func (h *Handler) SetMachineStatus(c echo.Context) error {
	var req models.MachineStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	m, err := h.svc.SetStatus(c.Request().Context(), c.Param("machineId"), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, m)
}

func (h *Handler) DeleteMachine(c echo.Context) error {
	if err := h.svc.DeleteMachine(c.Request().Context(), c.Param("machineId")); err != nil {
		return utils.HandleServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SearchMachines handles POST /machines/search.
func (h *Handler) SearchMachines(c echo.Context) error {
	var req models.SearchMachinesRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	machines, total, err := h.svc.SearchMachines(c.Request().Context(), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.Machine]{Items: machines, Total: total})
}

// RegisterAdminRoutes attaches fleet management routes to the given Echo group.
// Mutations additionally pass through mutate, the API key check.
func RegisterAdminRoutes(g *echo.Group, h *Handler, mutate echo.MiddlewareFunc) {
	g.GET("/fleet", h.GetFleet)
	g.PUT("/fleet/:machineId/status", h.SetMachineStatus, mutate)
}
