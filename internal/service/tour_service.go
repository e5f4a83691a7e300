package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TourService serves the catalogue from memory and refreshes it after writes.
type TourService struct {
	repo   domain.TourRepository
	logger *zerolog.Logger
	tours  []models.Tour
	byID   map[string]models.Tour
	mu     sync.RWMutex
}

func NewTourService(repo domain.TourRepository, logger *zerolog.Logger) *TourService {
	return &TourService{
		repo:   repo,
		logger: logger,
		byID:   make(map[string]models.Tour),
	}
}

// Seed stores catalogue entries that are not in the database yet and loads
// the cache.
func (s *TourService) Seed(ctx context.Context, tours []models.Tour) error {
	inserted, err := s.repo.SeedTours(ctx, tours)
	if err != nil {
		return err
	}
	s.logger.Info().Int("inserted", inserted).Int("configured", len(tours)).Msg("tours seeded")
	return s.Refresh(ctx)
}

func (s *TourService) Refresh(ctx context.Context) error {
	tours, err := s.repo.ListTours(ctx, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tours = tours
	s.byID = make(map[string]models.Tour, len(tours))
	for _, t := range tours {
		s.byID[t.ID] = t
	}
	return nil
}

// ListTours returns published tours. Drafts are included only for staff.
func (s *TourService) ListTours(ctx context.Context, actor *domain.Actor, includeDrafts bool) ([]models.Tour, error) {
	if includeDrafts && !actor.Privileged() {
		return nil, deny(actor)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Tour, 0, len(s.tours))
	for _, t := range s.tours {
		if includeDrafts || t.IsPublished() {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTour looks the tour up in the cache first, then in the database.
// Drafts are hidden from customers.
func (s *TourService) GetTour(ctx context.Context, actor *domain.Actor, id string) (*models.Tour, error) {
	t, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsPublished() && !actor.Privileged() {
		return nil, domain.NotFoundf("tour not found")
	}
	return t, nil
}

// BookableTour returns the tour when customers may book it.
func (s *TourService) BookableTour(ctx context.Context, id string) (*models.Tour, error) {
	t, err := s.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Validationf("tour not found")
		}
		return nil, err
	}
	if !t.IsPublished() {
		return nil, domain.Validationf("tour is not available for booking")
	}
	return t, nil
}

func (s *TourService) lookup(ctx context.Context, id string) (*models.Tour, error) {
	s.mu.RLock()
	t, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return &t, nil
	}
	return s.repo.GetTour(ctx, id)
}

func (s *TourService) CreateTour(ctx context.Context, actor *domain.Actor, in domain.TourInput, id string) (*models.Tour, error) {
	if !actor.Privileged() {
		return nil, deny(actor)
	}
	if err := domain.ValidateTour(&in); err != nil {
		return nil, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		id = slugify(in.Title)
	}
	if id == "" {
		id = uuid.NewString()
	}

	tour := tourFromInput(id, in)
	if err := s.repo.CreateTour(ctx, tour); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tour_id", tour.ID).Str("by", actor.UserID).Msg("tour created")
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tour cache refresh failed")
	}
	return tour, nil
}

func (s *TourService) UpdateTour(ctx context.Context, actor *domain.Actor, id string, in domain.TourInput) (*models.Tour, error) {
	if !actor.Privileged() {
		return nil, deny(actor)
	}
	if err := domain.ValidateTour(&in); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetTour(ctx, id)
	if err != nil {
		return nil, err
	}
	tour := tourFromInput(id, in)
	tour.CreatedAt = existing.CreatedAt
	if err := s.repo.UpdateTour(ctx, tour); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tour_id", id).Str("status", tour.Status).Str("by", actor.UserID).Msg("tour updated")
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tour cache refresh failed")
	}
	return tour, nil
}

func tourFromInput(id string, in domain.TourInput) *models.Tour {
	return &models.Tour{
		ID:            id,
		Title:         in.Title,
		Description:   in.Description,
		Price:         in.Price,
		OriginalPrice: in.OriginalPrice,
		Duration:      in.Duration,
		Category:      in.Category,
		Capacity:      in.Capacity,
		Highlights:    in.Highlights,
		Includes:      in.Includes,
		Status:        in.Status,
	}
}

// slugify keeps ASCII letters and digits and joins words with dashes.
func slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// deny picks ErrAuth for anonymous callers and ErrForbidden otherwise.
func deny(actor *domain.Actor) error {
	if !actor.Authenticated() {
		return domain.Authf("please log in to continue")
	}
	return domain.Forbiddenf("you are not permitted to do this")
}
