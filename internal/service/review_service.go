package service

import (
	"context"
	"strings"

	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/logging"
	"tourbook/internal/metrics"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

// ReviewPage is a subject's reviews with their aggregate rating.
type ReviewPage struct {
	Reviews []models.Review      `json:"reviews"`
	Summary models.RatingSummary `json:"summary"`
}

type ReviewResult struct {
	Review  models.Review        `json:"review"`
	Summary models.RatingSummary `json:"summary"`
}

type ReviewInput struct {
	SubjectID string `json:"subject_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

// TourFinder resolves a tour with the visibility rules of the given actor.
type TourFinder interface {
	GetTour(ctx context.Context, actor *domain.Actor, id string) (*models.Tour, error)
}

type ReviewService struct {
	repo     domain.ReviewRepository
	tours    TourFinder
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewReviewService(repo domain.ReviewRepository, tours TourFinder, eventBus domain.EventPublisher, logger *zerolog.Logger) *ReviewService {
	return &ReviewService{repo: repo, tours: tours, eventBus: eventBus, logger: logger}
}

func (s *ReviewService) List(ctx context.Context, subjectType, subjectID string) (*ReviewPage, error) {
	if err := checkSubject(subjectType, subjectID); err != nil {
		return nil, err
	}
	reviews, err := s.repo.ListReviews(ctx, subjectType, subjectID)
	if err != nil {
		return nil, err
	}
	return &ReviewPage{Reviews: reviews, Summary: models.Summarize(reviews)}, nil
}

// Submit stores rating and comment together and returns the recomputed
// summary. Every submission needs a logged-in author. Tour reviews are only
// accepted for tours customers can see; destination posts are not checked.
func (s *ReviewService) Submit(ctx context.Context, actor *domain.Actor, subjectType string, in ReviewInput) (*ReviewResult, error) {
	if !actor.Authenticated() {
		return nil, domain.Authf("please log in to leave a review")
	}
	in.SubjectID = strings.TrimSpace(in.SubjectID)
	if err := checkSubject(subjectType, in.SubjectID); err != nil {
		return nil, err
	}
	comment, err := domain.ValidateReview(in.Rating, in.Comment)
	if err != nil {
		return nil, err
	}
	if subjectType == models.SubjectTour && s.tours != nil {
		if _, err := s.tours.GetTour(ctx, nil, in.SubjectID); err != nil {
			return nil, err
		}
	}

	review := models.Review{
		SubjectType: subjectType,
		SubjectID:   in.SubjectID,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		Rating:      in.Rating,
		Comment:     comment,
	}
	if err := s.repo.CreateReview(ctx, &review); err != nil {
		return nil, err
	}
	metrics.IncReview(subjectType)

	page, err := s.List(ctx, subjectType, in.SubjectID)
	if err != nil {
		return nil, err
	}

	logging.For(ctx, s.logger).Info().
		Str("review_id", review.ID).
		Str("subject", subjectType+"/"+review.SubjectID).
		Int("rating", review.Rating).
		Msg("review created")

	if s.eventBus != nil {
		payload := events.ReviewEventPayload{
			ReviewID:    review.ID,
			SubjectType: subjectType,
			SubjectID:   review.SubjectID,
			UserName:    review.UserName,
			Rating:      review.Rating,
			Average:     page.Summary.Average,
			Count:       page.Summary.Count,
		}
		if err := s.eventBus.PublishJSON(events.EventReviewCreated, payload); err != nil {
			s.logger.Error().Err(err).Str("review_id", review.ID).Msg("publish event error")
		}
	}

	return &ReviewResult{Review: review, Summary: page.Summary}, nil
}

func checkSubject(subjectType, subjectID string) error {
	if subjectType != models.SubjectTour && subjectType != models.SubjectDestination {
		return domain.Validationf("unknown review subject %q", subjectType)
	}
	if strings.TrimSpace(subjectID) == "" {
		return domain.Validationf(domain.MsgMissingFields)
	}
	return nil
}
