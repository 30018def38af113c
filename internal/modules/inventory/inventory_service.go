package inventory

import (
	"context"
	"fmt"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ServiceInterface covers operator administration of machine slots.
type ServiceInterface interface {
	CreateSlot(ctx context.Context, machineID string, req models.CreateSlotRequest) (*models.InventorySlot, error)
	GetSlot(ctx context.Context, slotID string) (*models.InventorySlot, error)
	ListSlots(ctx context.Context, machineID string, p models.ListParams) ([]models.InventorySlot, int, error)
	AdjustSlot(ctx context.Context, slotID string, req models.AdjustSlotRequest) (*models.InventorySlot, error)
	DeleteSlot(ctx context.Context, slotID string) error
}

type Service struct {
	repo   RepositoryInterface
	events events.Publisher
	logger logrus.FieldLogger
}

func NewService(repo RepositoryInterface, pub events.Publisher, logger logrus.FieldLogger) ServiceInterface {
	return &Service{repo: repo, events: pub, logger: logger}
}

func (s *Service) CreateSlot(ctx context.Context, machineID string, req models.CreateSlotRequest) (*models.InventorySlot, error) {
	slot := &models.InventorySlot{
		ID:         uuid.NewString(),
		MachineID:  machineID,
		MedicineID: req.MedicineID,
		TotalCount: req.TotalCount,
	}
	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("service.CreateSlot: %w", err)
	}
	created, err := s.repo.GetSlotByID(ctx, slot.ID)
	if err != nil {
		return nil, fmt.Errorf("service.CreateSlot: %w", err)
	}

	s.events.Publish(ctx, events.SlotChanged{Slot: *created})
	return created, nil
}

func (s *Service) GetSlot(ctx context.Context, slotID string) (*models.InventorySlot, error) {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("service.GetSlot: %w", err)
	}
	return slot, nil
}

func (s *Service) ListSlots(ctx context.Context, machineID string, p models.ListParams) ([]models.InventorySlot, int, error) {
	slots, total, err := s.repo.ListSlotsByMachine(ctx, machineID, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListSlots: %w", err)
	}
	return slots, total, nil
}

// AdjustSlot sets a new physical count, e.g. after an operator restocks a machine.
func (s *Service) AdjustSlot(ctx context.Context, slotID string, req models.AdjustSlotRequest) (*models.InventorySlot, error) {
	slot, err := s.repo.SetSlotTotal(ctx, slotID, req.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("service.AdjustSlot: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"slot_id": slotID, "total_count": slot.TotalCount}).Info("slot adjusted")
	s.events.Publish(ctx, events.SlotChanged{Slot: *slot})
	return slot, nil
}

func (s *Service) DeleteSlot(ctx context.Context, slotID string) error {
	slot, err := s.repo.DeleteSlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("service.DeleteSlot: %w", err)
	}

	s.events.Publish(ctx, events.SlotRemoved{SlotID: slot.ID, MachineID: slot.MachineID})
	return nil
}
