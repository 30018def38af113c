package pickuppoints

import (
	"context"
	"fmt"

	"medicine-dispatch/internal/models"

	"github.com/google/uuid"
)

type ServiceInterface interface {
	CreatePickupPoint(ctx context.Context, req models.CreatePickupPointRequest) (*models.PickupPoint, error)
	GetPickupPoint(ctx context.Context, id string) (*models.PickupPoint, error)
	ListPickupPoints(ctx context.Context, p models.ListParams) ([]models.PickupPoint, int, error)
	DeletePickupPoint(ctx context.Context, id string) error

	CreateVisit(ctx context.Context, req models.CreateVisitRequest) (*models.PickupPointVisit, error)
	ListMachineVisits(ctx context.Context, machineID string, p models.ListParams) ([]models.PickupPointVisit, int, error)
	DeleteVisit(ctx context.Context, id string) error
}

type Service struct {
	repo RepositoryInterface
}

func NewService(repo RepositoryInterface) ServiceInterface {
	return &Service{repo: repo}
}

func (s *Service) CreatePickupPoint(ctx context.Context, req models.CreatePickupPointRequest) (*models.PickupPoint, error) {
	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}
	p := &models.PickupPoint{ID: uuid.NewString(), Location: req.Location, IsAvailable: available}
	if err := s.repo.CreatePickupPoint(ctx, p); err != nil {
		return nil, fmt.Errorf("service.CreatePickupPoint: %w", err)
	}
	return p, nil
}

func (s *Service) GetPickupPoint(ctx context.Context, id string) (*models.PickupPoint, error) {
	p, err := s.repo.GetPickupPointByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.GetPickupPoint: %w", err)
	}
	return p, nil
}

func (s *Service) ListPickupPoints(ctx context.Context, p models.ListParams) ([]models.PickupPoint, int, error) {
	items, total, err := s.repo.ListPickupPoints(ctx, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListPickupPoints: %w", err)
	}
	return items, total, nil
}

func (s *Service) DeletePickupPoint(ctx context.Context, id string) error {
	if err := s.repo.DeletePickupPoint(ctx, id); err != nil {
		return fmt.Errorf("service.DeletePickupPoint: %w", err)
	}
	return nil
}

// CreateVisit schedules a stop. A machine cannot arrive twice at the same
// point at the same instant.
func (s *Service) CreateVisit(ctx context.Context, req models.CreateVisitRequest) (*models.PickupPointVisit, error) {
	if !req.ArrivalAt.Before(req.DepartureAt) {
		return nil, fmt.Errorf("service.CreateVisit: %w", models.ErrInvalidTimeWindow)
	}
	v := &models.PickupPointVisit{
		ID:            uuid.NewString(),
		MachineID:     req.MachineID,
		PickupPointID: req.PickupPointID,
		ArrivalAt:     req.ArrivalAt.UTC(),
		DepartureAt:   req.DepartureAt.UTC(),
		DeliverOrders: req.DeliverOrders,
	}
	if err := s.repo.CreateVisit(ctx, v); err != nil {
		return nil, fmt.Errorf("service.CreateVisit: %w", err)
	}
	return v, nil
}

func (s *Service) ListMachineVisits(ctx context.Context, machineID string, p models.ListParams) ([]models.PickupPointVisit, int, error) {
	items, total, err := s.repo.ListVisitsByMachine(ctx, machineID, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListMachineVisits: %w", err)
	}
	return items, total, nil
}

func (s *Service) DeleteVisit(ctx context.Context, id string) error {
	if err := s.repo.DeleteVisit(ctx, id); err != nil {
		return fmt.Errorf("service.DeleteVisit: %w", err)
	}
	return nil
}
