package medicines

import (
	"context"
	"fmt"

	"medicine-dispatch/internal/models"

	"github.com/google/uuid"
)

type ServiceInterface interface {
	CreateMedicine(ctx context.Context, req models.CreateMedicineRequest) (*models.Medicine, error)
	GetMedicine(ctx context.Context, id string) (*models.Medicine, error)
	ListMedicines(ctx context.Context, p models.ListParams) ([]models.Medicine, int, error)
}

type Service struct {
	repo RepositoryInterface
}

func NewService(repo RepositoryInterface) ServiceInterface {
	return &Service{repo: repo}
}

func (s *Service) CreateMedicine(ctx context.Context, req models.CreateMedicineRequest) (*models.Medicine, error) {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	m := &models.Medicine{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Type:               req.Type,
		Description:        req.Description,
		Price:              req.Price,
		Currency:           currency,
		PrescriptionNeeded: req.PrescriptionNeeded,
		IsAvailable:        true,
	}
	if err := s.repo.CreateMedicine(ctx, m); err != nil {
		return nil, fmt.Errorf("service.CreateMedicine: %w", err)
	}
	return m, nil
}

func (s *Service) GetMedicine(ctx context.Context, id string) (*models.Medicine, error) {
	m, err := s.repo.GetMedicineByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.GetMedicine: %w", err)
	}
	return m, nil
}

func (s *Service) ListMedicines(ctx context.Context, p models.ListParams) ([]models.Medicine, int, error) {
	items, total, err := s.repo.ListMedicines(ctx, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListMedicines: %w", err)
	}
	return items, total, nil
}
