package medicines

import (
	"context"
	"fmt"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/internal/platform/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RepositoryInterface interface {
	CreateMedicine(ctx context.Context, m *models.Medicine) error
	GetMedicineByID(ctx context.Context, id string) (*models.Medicine, error)
	GetMedicinesByIDs(ctx context.Context, ids []string) (map[string]models.Medicine, error)
	ListMedicines(ctx context.Context, p models.ListParams) ([]models.Medicine, int, error)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const medicineColumns = `id, name, type, description, price::float8, currency, prescription_needed, is_available, created_at, updated_at`

func scanMedicine(row pgx.Row) (*models.Medicine, error) {
	var m models.Medicine
	err := row.Scan(&m.ID, &m.Name, &m.Type, &m.Description, &m.Price, &m.Currency,
		&m.PrescriptionNeeded, &m.IsAvailable, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, models.ErrMedicineNotFound
		}
		return nil, fmt.Errorf("failed to scan medicine: %w", err)
	}
	return &m, nil
}

func (r *Repository) CreateMedicine(ctx context.Context, m *models.Medicine) error {
	query := `
		INSERT INTO medicines (id, name, type, description, price, currency, prescription_needed, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, m.ID, m.Name, m.Type, m.Description, m.Price, m.Currency,
		m.PrescriptionNeeded, m.IsAvailable).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return models.ErrDuplicateMedicine
		}
		return fmt.Errorf("repository.CreateMedicine: %w", err)
	}
	return nil
}

func (r *Repository) GetMedicineByID(ctx context.Context, id string) (*models.Medicine, error) {
	m, err := scanMedicine(r.db.QueryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("repository.GetMedicineByID: %w", err)
	}
	return m, nil
}

func (r *Repository) GetMedicinesByIDs(ctx context.Context, ids []string) (map[string]models.Medicine, error) {
	rows, err := r.db.Query(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("repository.GetMedicinesByIDs.Query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Medicine, len(ids))
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.GetMedicinesByIDs.Scan: %w", err)
		}
		out[m.ID] = *m
	}
	return out, rows.Err()
}

func (r *Repository) ListMedicines(ctx context.Context, p models.ListParams) ([]models.Medicine, int, error) {
	order, err := p.OrderClause(models.MedicineOrderColumns, "name")
	if err != nil {
		return nil, 0, err
	}
	limit := any(nil)
	if p.Limit > 0 {
		limit = p.Limit
	}

	rows, err := r.db.Query(ctx, `SELECT `+medicineColumns+` FROM medicines ORDER BY `+order+` LIMIT $1 OFFSET $2`, limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListMedicines.Query: %w", err)
	}
	defer rows.Close()

	var items []models.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.ListMedicines.Scan: %w", err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListMedicines: %w", err)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM medicines`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.ListMedicines.Count: %w", err)
	}
	return items, total, nil
}
