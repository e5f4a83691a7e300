package domain

import (
	"context"
	"time"

	"tourbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type BookingRepository interface {
	// CreateBookingWithLock inserts the booking while the tour has room for
	// the party on that date. capacity <= 0 disables the check.
	CreateBookingWithLock(ctx context.Context, booking *models.Booking, capacity int) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetUserBookings(ctx context.Context, userID string) ([]models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id string, version int64, status string) error
	CancelBooking(ctx context.Context, id string) (bool, error)
}

type TourRepository interface {
	GetTour(ctx context.Context, id string) (*models.Tour, error)
	ListTours(ctx context.Context, includeDrafts bool) ([]models.Tour, error)
	CreateTour(ctx context.Context, tour *models.Tour) error
	UpdateTour(ctx context.Context, tour *models.Tour) error
	SeedTours(ctx context.Context, tours []models.Tour) (int, error)
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, review *models.Review) error
	ListReviews(ctx context.Context, subjectType, subjectID string) ([]models.Review, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetAllUsers(ctx context.Context) ([]models.User, error)
	UpdateUserRole(ctx context.Context, id, role string) error
}

type PaymentRepository interface {
	// RecordPayment stores the payment and marks the booking paid atomically.
	RecordPayment(ctx context.Context, payment *models.Payment, paidAt time.Time) error
	GetPaymentByBooking(ctx context.Context, bookingID string) (*models.Payment, error)
}

// SessionRepository keeps server-side sessions and throttling counters.
type SessionRepository interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID string, booking *models.Booking, status string) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID    string
	Name      string
	Role      string
	SessionID string
}

func (a *Actor) Authenticated() bool {
	return a != nil && a.UserID != ""
}

func (a *Actor) Privileged() bool {
	return a.Authenticated() && models.IsPrivileged(a.Role)
}

func (a *Actor) IsAdmin() bool {
	return a.Authenticated() && a.Role == models.RoleAdmin
}
