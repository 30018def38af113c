package inventory

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

// RepositoryInterface defines the contract for slot and reservation storage.
// ReserveStock, SettleReservation and ApplySlotCount must be atomic per slot.
type RepositoryInterface interface {
	CreateSlot(ctx context.Context, slot *models.InventorySlot) error
	GetSlotByID(ctx context.Context, id string) (*models.InventorySlot, error)
	ListSlotsByMachine(ctx context.Context, machineID string, p models.ListParams) ([]models.InventorySlot, int, error)
	ListSlotsByMedicine(ctx context.Context, medicineID string) ([]models.InventorySlot, error)
	SetSlotTotal(ctx context.Context, id string, total int) (*models.InventorySlot, error)
	DeleteSlot(ctx context.Context, id string) (*models.InventorySlot, error)

	ReserveStock(ctx context.Context, token *models.ReservationToken) error
	SettleReservation(ctx context.Context, tokenID string, to models.ReservationState) (bool, error)
	ListReservationsByOrder(ctx context.Context, orderID string) ([]models.ReservationToken, error)
	ApplySlotCount(ctx context.Context, machineID, slotID string, reported int) (int, int, error)
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new inventory repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const slotColumns = `
	s.id, s.machine_id, s.medicine_id, s.total_count, s.reserved_count, s.created_at, s.updated_at,
	m.id, m.name, m.type, m.description, m.price::float8, m.currency, m.prescription_needed, m.is_available, m.created_at, m.updated_at`

const slotFrom = `
	FROM inventory_slots s
	JOIN medicines m ON m.id = s.medicine_id`

func scanSlot(row pgx.Row) (*models.InventorySlot, error) {
	var s models.InventorySlot
	var m models.Medicine
	err := row.Scan(
		&s.ID, &s.MachineID, &s.MedicineID, &s.TotalCount, &s.ReservedCount, &s.CreatedAt, &s.UpdatedAt,
		&m.ID, &m.Name, &m.Type, &m.Description, &m.Price, &m.Currency, &m.PrescriptionNeeded, &m.IsAvailable, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, models.ErrSlotNotFound
		}
		return nil, fmt.Errorf("failed to scan slot: %w", err)
	}
	s.Medicine = &m
	return &s, nil
}

func (r *Repository) CreateSlot(ctx context.Context, slot *models.InventorySlot) error {
	query := `
		INSERT INTO inventory_slots (id, machine_id, medicine_id, total_count, reserved_count)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING reserved_count, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, slot.ID, slot.MachineID, slot.MedicineID, slot.TotalCount).
		Scan(&slot.ReservedCount, &slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return models.ErrDuplicateSlot
		}
		if constraint, ok := db.ForeignKeyViolation(err); ok {
			if strings.Contains(constraint, "machine") {
				return models.ErrMachineNotFound
			}
			return models.ErrMedicineNotFound
		}
		return fmt.Errorf("repository.CreateSlot: %w", err)
	}
	return nil
}

func (r *Repository) GetSlotByID(ctx context.Context, id string) (*models.InventorySlot, error) {
	if uuid.Validate(id) != nil {
		return nil, models.ErrSlotNotFound
	}
	slot, err := scanSlot(r.db.QueryRow(ctx, `SELECT `+slotColumns+slotFrom+` WHERE s.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("repository.GetSlotByID: %w", err)
	}
	return slot, nil
}

func (r *Repository) ListSlotsByMachine(ctx context.Context, machineID string, p models.ListParams) ([]models.InventorySlot, int, error) {
	order, err := p.OrderClause(models.SlotOrderColumns, "created_at")
	if err != nil {
		return nil, 0, err
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM machines WHERE id = $1)`, machineID).Scan(&exists); err != nil {
		return nil, 0, fmt.Errorf("repository.ListSlotsByMachine.Exists: %w", err)
	}
	if !exists {
		return nil, 0, models.ErrMachineNotFound
	}

	limit := any(nil)
	if p.Limit > 0 {
		limit = p.Limit
	}
	query := `SELECT ` + slotColumns + slotFrom + `
		WHERE s.machine_id = $1
		ORDER BY s.` + order + `
		LIMIT $2 OFFSET $3`

	slots, err := r.collectSlots(ctx, query, machineID, limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListSlotsByMachine: %w", err)
	}

	var total int
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_slots WHERE machine_id = $1`, machineID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListSlotsByMachine.Count: %w", err)
	}
	return slots, total, nil
}

func (r *Repository) ListSlotsByMedicine(ctx context.Context, medicineID string) ([]models.InventorySlot, error) {
	slots, err := r.collectSlots(ctx, `SELECT `+slotColumns+slotFrom+` WHERE s.medicine_id = $1`, medicineID)
	if err != nil {
		return nil, fmt.Errorf("repository.ListSlotsByMedicine: %w", err)
	}
	return slots, nil
}

func (r *Repository) SetSlotTotal(ctx context.Context, id string, total int) (*models.InventorySlot, error) {
	var reserved int
	err := r.db.QueryRow(ctx, `
		UPDATE inventory_slots SET total_count = $2, updated_at = NOW()
		WHERE id = $1 AND reserved_count <= $2
		RETURNING reserved_count`, id, total).Scan(&reserved)
	if db.IsNoRows(err) {
		cur, getErr := r.GetSlotByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("total %d below reserved %d: %w", total, cur.ReservedCount, models.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("repository.SetSlotTotal: %w", err)
	}
	return r.GetSlotByID(ctx, id)
}

func (r *Repository) DeleteSlot(ctx context.Context, id string) (*models.InventorySlot, error) {
	cur, err := r.GetSlotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM inventory_slots WHERE id = $1 AND reserved_count = 0`, id)
	if err != nil {
		return nil, fmt.Errorf("repository.DeleteSlot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("slot has reserved units: %w", models.ErrConflict)
	}
	return cur, nil
}

// ReserveStock performs the check-and-increment in a single conditional
// UPDATE and records the held token in the same transaction.
func (r *Repository) ReserveStock(ctx context.Context, token *models.ReservationToken) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE inventory_slots
			SET reserved_count = reserved_count + $3, updated_at = NOW()
			WHERE machine_id = $1 AND medicine_id = $2 AND total_count - reserved_count >= $3
			RETURNING id`, token.MachineID, token.MedicineID, token.Count).Scan(&token.SlotID)
		if db.IsNoRows(err) {
			var exists bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM inventory_slots WHERE machine_id = $1 AND medicine_id = $2)`,
				token.MachineID, token.MedicineID).Scan(&exists); err != nil {
				return fmt.Errorf("repository.ReserveStock.Exists: %w", err)
			}
			if !exists {
				return models.ErrSlotNotFound
			}
			return models.ErrInsufficientStock
		}
		if err != nil {
			return fmt.Errorf("repository.ReserveStock: %w", err)
		}

		token.State = models.ReservationHeld
		err = tx.QueryRow(ctx, `
			INSERT INTO reservations (id, slot_id, machine_id, medicine_id, order_id, count, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`,
			token.ID, token.SlotID, token.MachineID, token.MedicineID, token.OrderID, token.Count, token.State,
		).Scan(&token.CreatedAt)
		if err != nil {
			return fmt.Errorf("repository.ReserveStock.Insert: %w", err)
		}
		return nil
	})
}

// SettleReservation flips a held token and adjusts the slot in one transaction.
func (r *Repository) SettleReservation(ctx context.Context, tokenID string, to models.ReservationState) (bool, error) {
	var slotUpdate string
	switch to {
	case models.ReservationCommitted:
		slotUpdate = `UPDATE inventory_slots SET total_count = total_count - $2, reserved_count = reserved_count - $2, updated_at = NOW() WHERE id = $1`
	case models.ReservationReleased:
		slotUpdate = `UPDATE inventory_slots SET reserved_count = reserved_count - $2, updated_at = NOW() WHERE id = $1`
	default:
		return false, fmt.Errorf("cannot settle reservation to %q: %w", to, models.ErrValidation)
	}

	applied := false
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var slotID string
		var count int
		err := tx.QueryRow(ctx, `
			UPDATE reservations SET state = $2
			WHERE id = $1 AND state = 'held'
			RETURNING slot_id, count`, tokenID, to).Scan(&slotID, &count)
		if db.IsNoRows(err) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, tokenID).Scan(&exists); err != nil {
				return fmt.Errorf("repository.SettleReservation.Exists: %w", err)
			}
			if !exists {
				return fmt.Errorf("reservation %s: %w", tokenID, models.ErrNotFound)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("repository.SettleReservation: %w", err)
		}
		if _, err := tx.Exec(ctx, slotUpdate, slotID, count); err != nil {
			return fmt.Errorf("repository.SettleReservation.Slot: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *Repository) ListReservationsByOrder(ctx context.Context, orderID string) ([]models.ReservationToken, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, slot_id, machine_id, medicine_id, order_id, count, state, created_at
		FROM reservations WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository.ListReservationsByOrder.Query: %w", err)
	}
	defer rows.Close()

	var tokens []models.ReservationToken
	for rows.Next() {
		var t models.ReservationToken
		if err := rows.Scan(&t.ID, &t.SlotID, &t.MachineID, &t.MedicineID, &t.OrderID, &t.Count, &t.State, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.ListReservationsByOrder.Scan: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// ApplySlotCount clamps the reported value at reserved_count so the slot
// invariant holds whatever the device says.
func (r *Repository) ApplySlotCount(ctx context.Context, machineID, slotID string, reported int) (int, int, error) {
	if uuid.Validate(slotID) != nil {
		return 0, 0, models.ErrSlotNotFound
	}
	var total, reserved int
	err := r.db.QueryRow(ctx, `
		UPDATE inventory_slots
		SET total_count = GREATEST($3, reserved_count), updated_at = NOW()
		WHERE id = $1 AND machine_id = $2
		RETURNING total_count, reserved_count`, slotID, machineID, reported).Scan(&total, &reserved)
	if db.IsNoRows(err) {
		return 0, 0, models.ErrSlotNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("repository.ApplySlotCount: %w", err)
	}
	return total, reserved, nil
}

func (r *Repository) collectSlots(ctx context.Context, query string, args ...any) ([]models.InventorySlot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.InventorySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	return slots, rows.Err()
}
