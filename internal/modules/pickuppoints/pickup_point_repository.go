package pickuppoints

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/platform/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface covers pickup points and the visits machines make to them.
type RepositoryInterface interface {
	CreatePickupPoint(ctx context.Context, p *models.PickupPoint) error
	GetPickupPointByID(ctx context.Context, id string) (*models.PickupPoint, error)
	ListPickupPoints(ctx context.Context, p models.ListParams) ([]models.PickupPoint, int, error)
	DeletePickupPoint(ctx context.Context, id string) error

	CreateVisit(ctx context.Context, v *models.PickupPointVisit) error
	GetVisitByID(ctx context.Context, id string) (*models.PickupPointVisit, error)
	ListVisitsByMachine(ctx context.Context, machineID string, p models.ListParams) ([]models.PickupPointVisit, int, error)
	ListVisitsInWindow(ctx context.Context, machineID string, start, end time.Time) ([]models.PickupPointVisit, error)
	ListDeliverableVisits(ctx context.Context, pickupPointID string, after time.Time) ([]models.PickupPointVisit, error)
	DeleteVisit(ctx context.Context, id string) error
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const pointColumns = `id, latitude, longitude, country, address, is_available, created_at, updated_at`

func scanPoint(row pgx.Row) (*models.PickupPoint, error) {
	var p models.PickupPoint
	err := row.Scan(&p.ID, &p.Location.Latitude, &p.Location.Longitude, &p.Location.Country,
		&p.Location.Address, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, models.ErrPickupPointNotFound
		}
		return nil, fmt.Errorf("failed to scan pickup point: %w", err)
	}
	return &p, nil
}

func (r *Repository) CreatePickupPoint(ctx context.Context, p *models.PickupPoint) error {
	query := `
		INSERT INTO pickup_points (id, latitude, longitude, country, address, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.Location.Latitude, p.Location.Longitude,
		p.Location.Country, p.Location.Address, p.IsAvailable).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.CreatePickupPoint: %w", err)
	}
	return nil
}

func (r *Repository) GetPickupPointByID(ctx context.Context, id string) (*models.PickupPoint, error) {
	p, err := scanPoint(r.db.QueryRow(ctx, `SELECT `+pointColumns+` FROM pickup_points WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("repository.GetPickupPointByID: %w", err)
	}
	return p, nil
}

func (r *Repository) ListPickupPoints(ctx context.Context, p models.ListParams) ([]models.PickupPoint, int, error) {
	order, err := p.OrderClause(models.PickupPointOrderColumns, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+pointColumns+` FROM pickup_points ORDER BY `+order+` LIMIT $1 OFFSET $2`,
		limitArg(p), p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListPickupPoints.Query: %w", err)
	}
	defer rows.Close()

	var items []models.PickupPoint
	for rows.Next() {
		pt, err := scanPoint(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.ListPickupPoints.Scan: %w", err)
		}
		items = append(items, *pt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListPickupPoints: %w", err)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM pickup_points`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.ListPickupPoints.Count: %w", err)
	}
	return items, total, nil
}

func (r *Repository) DeletePickupPoint(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pickup_points WHERE id = $1`, id)
	if err != nil {
		if _, ok := db.ForeignKeyViolation(err); ok {
			return fmt.Errorf("pickup point is referenced by orders: %w", models.ErrConflict)
		}
		return fmt.Errorf("repository.DeletePickupPoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrPickupPointNotFound
	}
	return nil
}

const visitColumns = `
	v.id, v.machine_id, v.pickup_point_id, v.arrival_at, v.departure_at, v.deliver_orders, v.created_at,
	p.id, p.latitude, p.longitude, p.country, p.address, p.is_available, p.created_at, p.updated_at`

const visitFrom = `
	FROM pickup_point_visits v
	JOIN pickup_points p ON p.id = v.pickup_point_id`

func scanVisit(row pgx.Row) (*models.PickupPointVisit, error) {
	var v models.PickupPointVisit
	var p models.PickupPoint
	err := row.Scan(
		&v.ID, &v.MachineID, &v.PickupPointID, &v.ArrivalAt, &v.DepartureAt, &v.DeliverOrders, &v.CreatedAt,
		&p.ID, &p.Location.Latitude, &p.Location.Longitude, &p.Location.Country, &p.Location.Address,
		&p.IsAvailable, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, models.ErrVisitNotFound
		}
		return nil, fmt.Errorf("failed to scan visit: %w", err)
	}
	v.PickupPoint = &p
	return &v, nil
}

func (r *Repository) CreateVisit(ctx context.Context, v *models.PickupPointVisit) error {
	query := `
		INSERT INTO pickup_point_visits (id, machine_id, pickup_point_id, arrival_at, departure_at, deliver_orders)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, v.ID, v.MachineID, v.PickupPointID, v.ArrivalAt, v.DepartureAt, v.DeliverOrders).
		Scan(&v.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return models.ErrDuplicateStop
		}
		if constraint, ok := db.ForeignKeyViolation(err); ok {
			if strings.Contains(constraint, "machine") {
				return models.ErrMachineNotFound
			}
			return models.ErrPickupPointNotFound
		}
		return fmt.Errorf("repository.CreateVisit: %w", err)
	}
	return nil
}

func (r *Repository) GetVisitByID(ctx context.Context, id string) (*models.PickupPointVisit, error) {
	v, err := scanVisit(r.db.QueryRow(ctx, `SELECT `+visitColumns+visitFrom+` WHERE v.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("repository.GetVisitByID: %w", err)
	}
	return v, nil
}

func (r *Repository) ListVisitsByMachine(ctx context.Context, machineID string, p models.ListParams) ([]models.PickupPointVisit, int, error) {
	order, err := p.OrderClause(models.VisitOrderColumns, "arrival_at")
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collectVisits(ctx, `SELECT `+visitColumns+visitFrom+`
		WHERE v.machine_id = $1
		ORDER BY v.`+order+`
		LIMIT $2 OFFSET $3`, machineID, limitArg(p), p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListVisitsByMachine: %w", err)
	}

	var total int
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM pickup_point_visits WHERE machine_id = $1`, machineID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListVisitsByMachine.Count: %w", err)
	}
	return items, total, nil
}

// ListVisitsInWindow returns visits whose stay intersects [start, end].
func (r *Repository) ListVisitsInWindow(ctx context.Context, machineID string, start, end time.Time) ([]models.PickupPointVisit, error) {
	items, err := r.collectVisits(ctx, `SELECT `+visitColumns+visitFrom+`
		WHERE v.machine_id = $1 AND v.departure_at >= $2 AND v.arrival_at <= $3
		ORDER BY v.arrival_at, v.id`, machineID, start, end)
	if err != nil {
		return nil, fmt.Errorf("repository.ListVisitsInWindow: %w", err)
	}
	return items, nil
}

func (r *Repository) ListDeliverableVisits(ctx context.Context, pickupPointID string, after time.Time) ([]models.PickupPointVisit, error) {
	items, err := r.collectVisits(ctx, `SELECT `+visitColumns+visitFrom+`
		WHERE v.pickup_point_id = $1 AND v.deliver_orders AND v.arrival_at > $2
		ORDER BY v.arrival_at, v.id`, pickupPointID, after)
	if err != nil {
		return nil, fmt.Errorf("repository.ListDeliverableVisits: %w", err)
	}
	return items, nil
}

func (r *Repository) DeleteVisit(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pickup_point_visits WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository.DeleteVisit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrVisitNotFound
	}
	return nil
}

func (r *Repository) collectVisits(ctx context.Context, query string, args ...any) ([]models.PickupPointVisit, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.PickupPointVisit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	return items, rows.Err()
}

// limitArg maps a zero limit to SQL NULL, i.e. no limit.
func limitArg(p models.ListParams) any {
	if p.Limit > 0 {
		return p.Limit
	}
	return nil
}
