package orders

import (
	"context"
	"fmt"
	"strings"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the contract for the order repository.
// TransitionOrder is a compare-and-set on the stored status.
type RepositoryInterface interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string, p models.ListParams) ([]models.Order, int, error)
	ListOrders(ctx context.Context, p models.ListParams) ([]models.Order, int, error)
	TransitionOrder(ctx context.Context, id string, upd models.StatusUpdate) (bool, error)
}

// Repository implements the RepositoryInterface.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new order repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const orderColumns = `
	id, user_id, machine_id, pickup_point_id, status, payment_amount::float8, payment_currency,
	payment_date, completion_date, created_at, updated_at`

// scanOrder is a helper function to scan a row into an Order model.
func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.MachineID,
		&o.PickupPointID,
		&o.Status,
		&o.PaymentAmount,
		&o.PaymentCurrency,
		&o.PaymentDate,
		&o.CompletionDate,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}

// CreateOrder inserts the order and its lines in one transaction.
func (r *Repository) CreateOrder(ctx context.Context, o *models.Order) error {
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO orders (id, user_id, machine_id, pickup_point_id, status, payment_amount, payment_currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at`

		err := tx.QueryRow(ctx, query, o.ID, o.UserID, o.MachineID, o.PickupPointID, o.Status, o.PaymentAmount, o.PaymentCurrency).
			Scan(&o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, l := range o.Lines {
			batch.Queue(`INSERT INTO order_medicines (order_id, medicine_id, count) VALUES ($1, $2, $3)`, o.ID, l.MedicineID, l.Count)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if constraint, ok := db.ForeignKeyViolation(err); ok {
			switch {
			case strings.Contains(constraint, "machine"):
				return models.ErrMachineNotFound
			case strings.Contains(constraint, "pickup_point"):
				return models.ErrPickupPointNotFound
			default:
				return models.ErrMedicineNotFound
			}
		}
		return fmt.Errorf("repository.CreateOrder: %w", err)
	}
	return nil
}

// GetOrderByID retrieves a single order with its lines.
func (r *Repository) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, models.ErrOrderNotFound
	}
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("repository.GetOrderByID: %w", err)
	}
	if err := r.loadLines(ctx, []*models.Order{o}); err != nil {
		return nil, fmt.Errorf("repository.GetOrderByID: %w", err)
	}
	return o, nil
}

// ListOrdersByUser retrieves the orders of one user with pagination.
func (r *Repository) ListOrdersByUser(ctx context.Context, userID string, p models.ListParams) ([]models.Order, int, error) {
	return r.list(ctx, "repository.ListOrdersByUser", `WHERE user_id = $1`, p, userID)
}

// ListOrders retrieves all orders in the system with pagination (for admin use).
func (r *Repository) ListOrders(ctx context.Context, p models.ListParams) ([]models.Order, int, error) {
	return r.list(ctx, "repository.ListOrders", ``, p)
}

func (r *Repository) list(ctx context.Context, op, where string, p models.ListParams, args ...any) ([]models.Order, int, error) {
	order, err := p.OrderClause(models.OrderOrderColumns, "created_at")
	if err != nil {
		return nil, 0, err
	}

	var limit any
	if p.Limit > 0 {
		limit = p.Limit
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY %s, id LIMIT $%d OFFSET $%d`, orderColumns, where, order, n+1, n+2)

	rows, err := r.db.Query(ctx, query, append(append([]any{}, args...), limit, p.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s.Query: %w", op, err)
	}
	defer rows.Close()

	var ptrs []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%s.Scan: %w", op, err)
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s.Rows: %w", op, err)
	}
	rows.Close()

	if err := r.loadLines(ctx, ptrs); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s.Count: %w", op, err)
	}

	out := make([]models.Order, len(ptrs))
	for i, o := range ptrs {
		out[i] = *o
	}
	return out, total, nil
}

func (r *Repository) loadLines(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*models.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT order_id, medicine_id, count
		FROM order_medicines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, medicine_id`, ids)
	if err != nil {
		return fmt.Errorf("loadLines.Query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var l models.OrderLine
		if err := rows.Scan(&orderID, &l.MedicineID, &l.Count); err != nil {
			return fmt.Errorf("loadLines.Scan: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

// TransitionOrder writes upd only when the stored status is one of upd.From.
// A missing order is ErrOrderNotFound; a status mismatch is (false, nil).
func (r *Repository) TransitionOrder(ctx context.Context, id string, upd models.StatusUpdate) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, models.ErrOrderNotFound
	}
	from := make([]string, len(upd.From))
	for i, s := range upd.From {
		from[i] = string(s)
	}

	query := `
		UPDATE orders
		SET status = $1,
			machine_id = COALESCE($2, machine_id),
			payment_date = COALESCE($3, payment_date),
			completion_date = COALESCE($4, completion_date),
			updated_at = NOW()
		WHERE id = $5 AND status = ANY($6::text[])`

	cmdTag, err := r.db.Exec(ctx, query, upd.To, upd.MachineID, upd.PaymentDate, upd.CompletionDate, id, from)
	if err != nil {
		if _, ok := db.ForeignKeyViolation(err); ok {
			return false, models.ErrMachineNotFound
		}
		return false, fmt.Errorf("repository.TransitionOrder: %w", err)
	}
	if cmdTag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("repository.TransitionOrder.Exists: %w", err)
	}
	if !exists {
		return false, models.ErrOrderNotFound
	}
	return false, nil
}
