package service

import (
	"context"
	"strings"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/logging"
	"tourbook/internal/metrics"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

const (
	SyncUpsert       = "upsert"
	SyncUpdateStatus = "update_status"
)

// TourCatalog resolves the tour a customer wants to book.
type TourCatalog interface {
	BookableTour(ctx context.Context, id string) (*models.Tour, error)
}

type BookingService struct {
	repo         domain.BookingRepository
	tours        TourCatalog
	eventBus     domain.EventPublisher
	sheetsWorker domain.SyncWorker
	maxPeople    int
	loc          *time.Location
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewBookingService(
	repo domain.BookingRepository,
	tours TourCatalog,
	eventBus domain.EventPublisher,
	sheetsWorker domain.SyncWorker,
	maxPeople int,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		repo:         repo,
		tours:        tours,
		eventBus:     eventBus,
		sheetsWorker: sheetsWorker,
		maxPeople:    maxPeople,
		loc:          time.UTC,
		now:          time.Now,
		logger:       logger,
	}
}

// SetLocation sets the zone in which "today" is computed for date checks.
func (s *BookingService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *BookingService) CreateBooking(ctx context.Context, actor *domain.Actor, req domain.BookingRequest) (*models.Booking, error) {
	if !actor.Authenticated() {
		return nil, domain.Authf("please log in to book a tour")
	}

	date, err := domain.ValidateBookingRequest(&req, s.now().In(s.loc), s.maxPeople)
	if err != nil {
		return nil, err
	}

	tour, err := s.tours.BookableTour(ctx, req.TourID)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		TourID:       tour.ID,
		TourTitle:    tour.Title,
		TourPrice:    tour.Price,
		TourDuration: tour.Duration,
		UserID:       actor.UserID,
		Name:         req.Name,
		Phone:        req.Phone,
		Date:         date,
		People:       req.People,
		Note:         req.Note,
		Status:       models.StatusPending,
	}

	if err := s.repo.CreateBookingWithLock(ctx, booking, tour.Capacity); err != nil {
		return nil, err
	}

	metrics.IncBookingCreated()
	logging.For(ctx, s.logger).Info().
		Str("booking_id", booking.ID).
		Str("tour_id", booking.TourID).
		Str("user_id", actor.UserID).
		Int("people", booking.People).
		Msg("booking created")

	s.publishEvent(events.EventBookingCreated, *booking, actor, "")
	s.enqueueSync(ctx, *booking, SyncUpsert)
	return booking, nil
}

func (s *BookingService) ListUserBookings(ctx context.Context, actor *domain.Actor) ([]models.Booking, error) {
	if !actor.Authenticated() {
		return nil, domain.Authf("please log in to see your bookings")
	}
	return s.repo.GetUserBookings(ctx, actor.UserID)
}

func (s *BookingService) ListAllBookings(ctx context.Context, actor *domain.Actor, filter models.BookingFilter) ([]models.Booking, error) {
	if !actor.Privileged() {
		return nil, deny(actor)
	}
	if filter.Status != "" && filter.Status != "all" {
		status, ok := models.ParseStatus(filter.Status)
		if !ok {
			return nil, domain.Validationf("unknown status %q, use one of: all, %s", filter.Status, strings.Join(models.Statuses(), ", "))
		}
		filter.Status = status
	}
	return s.repo.ListBookings(ctx, filter)
}

// GetBooking returns the booking to its owner or to staff. Anyone else gets
// ErrNotFound so booking ids cannot be guessed.
func (s *BookingService) GetBooking(ctx context.Context, actor *domain.Actor, id string) (*models.Booking, error) {
	if !actor.Authenticated() {
		return nil, domain.Authf("please log in to continue")
	}
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && booking.UserID != actor.UserID {
		return nil, domain.NotFoundf("booking not found")
	}
	return booking, nil
}

// UpdateStatus moves the booking along the status machine. A positive
// version must match the stored one. Setting the current status is a no-op.
func (s *BookingService) UpdateStatus(ctx context.Context, actor *domain.Actor, id, status string, version int64) (*models.Booking, error) {
	if !actor.Privileged() {
		return nil, deny(actor)
	}

	target, ok := models.ParseStatus(status)
	if !ok {
		return nil, domain.Validationf("unknown status %q, use one of: %s", status, strings.Join(models.Statuses(), ", "))
	}

	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if version > 0 && version != booking.Version {
		return nil, domain.Conflictf("booking was changed by someone else, reload and try again")
	}
	if booking.Status == target {
		return booking, nil
	}
	if !models.CanTransition(booking.Status, target) {
		return nil, domain.InvalidTransition(booking.Status, target)
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, id, booking.Version, target); err != nil {
		return nil, err
	}
	return s.afterStatusChange(ctx, actor, id, booking.Status, target)
}

// CancelBooking is allowed for staff and for the customer who owns the
// booking. Cancelling twice succeeds without a second event.
func (s *BookingService) CancelBooking(ctx context.Context, actor *domain.Actor, id string) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(booking.Status) {
		return booking, nil
	}

	changed, err := s.repo.CancelBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.repo.GetBooking(ctx, id)
	}
	return s.afterStatusChange(ctx, actor, id, booking.Status, models.StatusCancelled)
}

func (s *BookingService) afterStatusChange(ctx context.Context, actor *domain.Actor, id, from, to string) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.IncStatusChange(to)
	logging.For(ctx, s.logger).Info().
		Str("booking_id", id).
		Str("from", from).
		Str("to", to).
		Str("by", actor.UserID).
		Msg("booking status changed")

	eventType := events.EventBookingConfirmed
	if to == models.StatusCancelled {
		eventType = events.EventBookingCancelled
	}
	s.publishEvent(eventType, *booking, actor, "")
	s.enqueueSync(ctx, *booking, SyncUpdateStatus)
	return booking, nil
}

func (s *BookingService) publishEvent(eventType string, booking models.Booking, actor *domain.Actor, method string) {
	publishBookingEvent(s.eventBus, s.logger, eventType, booking, actor, method)
}

func (s *BookingService) enqueueSync(ctx context.Context, booking models.Booking, taskType string) {
	enqueueBookingSync(ctx, s.sheetsWorker, s.logger, booking, taskType)
}

func publishBookingEvent(bus domain.EventPublisher, logger *zerolog.Logger, eventType string, booking models.Booking, actor *domain.Actor, method string) {
	if bus == nil {
		return
	}

	changedBy := ""
	if actor != nil {
		changedBy = actor.Name
		if changedBy == "" {
			changedBy = actor.UserID
		}
	}

	payload := events.BookingEventPayload{
		BookingID: booking.ID,
		ShortID:   booking.ShortID(),
		UserID:    booking.UserID,
		Name:      booking.Name,
		Phone:     booking.Phone,
		TourID:    booking.TourID,
		TourTitle: booking.TourTitle,
		Date:      booking.Date,
		People:    booking.People,
		Total:     booking.Total(),
		Status:    booking.Status,
		Note:      booking.Note,
		ChangedBy: changedBy,
		Method:    method,
	}

	if err := bus.PublishJSON(eventType, payload); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func enqueueBookingSync(ctx context.Context, worker domain.SyncWorker, logger *zerolog.Logger, booking models.Booking, taskType string) {
	if worker == nil {
		return
	}

	var status string
	if taskType == SyncUpdateStatus {
		status = booking.Status
	}

	if err := worker.EnqueueTask(ctx, taskType, booking.ID, &booking, status); err != nil {
		logger.Error().Err(err).Str("booking_id", booking.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
