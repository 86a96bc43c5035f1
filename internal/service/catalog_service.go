package service

import (
	"context"
	"fmt"

	"yugi/internal/domain"
	"yugi/internal/models"

	"github.com/rs/zerolog"
)

type CatalogService struct {
	repo   domain.Repository
	logger *zerolog.Logger
}

func NewCatalogService(repo domain.Repository, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{repo: repo, logger: logger}
}

func validateClass(class *models.Class) error {
	if class.Name == "" {
		return fmt.Errorf("class name is required")
	}
	if class.ProviderID == 0 {
		return fmt.Errorf("class provider is required")
	}
	if class.PriceCents <= 0 {
		return fmt.Errorf("class price must be positive")
	}
	if class.SiblingPriceCents < 0 || class.SiblingPriceCents > class.PriceCents {
		return fmt.Errorf("sibling price must be between 0 and the base price")
	}
	if class.AdultPriceCents < 0 {
		return fmt.Errorf("adult price must not be negative")
	}
	if class.MaxCapacity < 1 {
		return fmt.Errorf("class capacity must be at least 1")
	}
	return nil
}

func (s *CatalogService) CreateClass(ctx context.Context, class *models.Class) error {
	if err := validateClass(class); err != nil {
		return err
	}

	// New classes always start unpublished.
	class.Status = models.ClassStatusDraft
	class.CurrentEnrollment = 0

	if err := s.repo.CreateClass(ctx, class); err != nil {
		return err
	}

	s.logger.Info().Int64("class_id", class.ID).Str("name", class.Name).Msg("class created")
	return nil
}

func (s *CatalogService) UpdateClass(ctx context.Context, class *models.Class) error {
	if err := validateClass(class); err != nil {
		return err
	}
	return s.repo.UpdateClassWithVersion(ctx, class)
}

func (s *CatalogService) PublishClass(ctx context.Context, id int64) error {
	class, err := s.repo.GetClass(ctx, id)
	if err != nil {
		return err
	}
	if err := validateClass(class); err != nil {
		return fmt.Errorf("class is not ready to publish: %w", err)
	}
	return s.repo.SetClassStatus(ctx, id, models.ClassStatusPublished)
}

func (s *CatalogService) DeactivateClass(ctx context.Context, id int64) error {
	return s.repo.SetClassStatus(ctx, id, models.ClassStatusInactive)
}

func (s *CatalogService) GetClass(ctx context.Context, id int64) (*models.Class, error) {
	return s.repo.GetClass(ctx, id)
}

func (s *CatalogService) ListPublishedClasses(ctx context.Context) ([]*models.Class, error) {
	return s.repo.GetPublishedClasses(ctx)
}

func (s *CatalogService) GetAvailability(ctx context.Context, classID int64) (*models.Availability, error) {
	return s.repo.GetClassAvailability(ctx, classID)
}
