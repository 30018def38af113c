package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"medicine-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LedgerInterface is the only path that changes reserved_count.
type LedgerInterface interface {
	Reserve(ctx context.Context, machineID, medicineID string, count int, orderID string) (*models.ReservationToken, error)
	Commit(ctx context.Context, token *models.ReservationToken) (bool, error)
	Release(ctx context.Context, token *models.ReservationToken) (bool, error)
	ReservationsForOrder(ctx context.Context, orderID string) ([]models.ReservationToken, error)
	ApplyDeviceSnapshot(ctx context.Context, machineID string, reports map[string]models.SlotReport) error
}

// Ledger tracks physical stock and the part of it promised to orders.
type Ledger struct {
	repo   RepositoryInterface
	logger logrus.FieldLogger
}

func NewLedger(repo RepositoryInterface, logger logrus.FieldLogger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// Reserve sets count units of the machine's slot for medicineID aside for orderID.
func (l *Ledger) Reserve(ctx context.Context, machineID, medicineID string, count int, orderID string) (*models.ReservationToken, error) {
	if count <= 0 {
		return nil, fmt.Errorf("ledger.Reserve: %w", models.ErrInvalidCount)
	}
	token := &models.ReservationToken{
		ID:         uuid.NewString(),
		MachineID:  machineID,
		MedicineID: medicineID,
		OrderID:    orderID,
		Count:      count,
	}
	if err := l.repo.ReserveStock(ctx, token); err != nil {
		return nil, fmt.Errorf("ledger.Reserve: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"order_id":    orderID,
		"slot_id":     token.SlotID,
		"medicine_id": medicineID,
		"count":       count,
	}).Debug("stock reserved")
	return token, nil
}

// Commit turns a held reservation into a deduction of physical stock.
// It returns false when the token was already settled.
func (l *Ledger) Commit(ctx context.Context, token *models.ReservationToken) (bool, error) {
	return l.settle(ctx, token, models.ReservationCommitted)
}

// Release returns held units to the available headroom.
// It returns false when the token was already settled.
func (l *Ledger) Release(ctx context.Context, token *models.ReservationToken) (bool, error) {
	return l.settle(ctx, token, models.ReservationReleased)
}

func (l *Ledger) settle(ctx context.Context, token *models.ReservationToken, to models.ReservationState) (bool, error) {
	applied, err := l.repo.SettleReservation(ctx, token.ID, to)
	if err != nil {
		return false, fmt.Errorf("ledger.settle(%s): %w", to, err)
	}
	log := l.logger.WithFields(logrus.Fields{
		"order_id": token.OrderID,
		"slot_id":  token.SlotID,
		"count":    token.Count,
	})
	if !applied {
		log.Debugf("reservation already settled, %s skipped", to)
		return false, nil
	}
	token.State = to
	log.Infof("reservation %s", to)
	return true, nil
}

func (l *Ledger) ReservationsForOrder(ctx context.Context, orderID string) ([]models.ReservationToken, error) {
	tokens, err := l.repo.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("ledger.ReservationsForOrder: %w", err)
	}
	return tokens, nil
}

// ApplyDeviceSnapshot overwrites total_count of the machine's slots with the
// counts the device reports. Reserved counts are never touched and slots are
// never created: unknown ids are logged and skipped.
func (l *Ledger) ApplyDeviceSnapshot(ctx context.Context, machineID string, reports map[string]models.SlotReport) error {
	ids := make([]string, 0, len(reports))
	for id := range reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, slotID := range ids {
		reported := reports[slotID].LeftAmount
		log := l.logger.WithFields(logrus.Fields{"machine_id": machineID, "slot_id": slotID})

		if reported < 0 {
			log.WithField("reported", reported).Warn("negative slot count in device report, skipped")
			continue
		}

		total, reserved, err := l.repo.ApplySlotCount(ctx, machineID, slotID, reported)
		switch {
		case errors.Is(err, models.ErrSlotNotFound):
			log.Warn("device reported unknown slot")
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("slot %s: %w", slotID, err))
			continue
		}
		if total > reported {
			log.WithFields(logrus.Fields{
				"reported": reported,
				"reserved": reserved,
			}).Warn("device count below reserved stock, clamped to reserved")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("ledger.ApplyDeviceSnapshot: %w", errors.Join(errs...))
	}
	return nil
}
