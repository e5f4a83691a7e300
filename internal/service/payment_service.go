package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/logging"
	"tourbook/internal/metrics"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

type BankTransfer struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Reference     string `json:"reference"`
}

// PaymentSummary is everything the checkout page shows for one booking.
type PaymentSummary struct {
	Booking        *models.Booking `json:"booking"`
	PricePerPerson int64           `json:"price_per_person"`
	Total          int64           `json:"total"`
	TotalDisplay   string          `json:"total_display"`
	CanPay         bool            `json:"can_pay"`
	Reason         string          `json:"reason,omitempty"`
	BankTransfer   BankTransfer    `json:"bank_transfer"`
	EWallets       []string        `json:"ewallets"`
	Payment        *models.Payment `json:"payment,omitempty"`
}

// BookingReader is the part of BookingService payments rely on.
type BookingReader interface {
	GetBooking(ctx context.Context, actor *domain.Actor, id string) (*models.Booking, error)
}

type PaymentService struct {
	bookings     BookingReader
	repo         domain.PaymentRepository
	eventBus     domain.EventPublisher
	sheetsWorker domain.SyncWorker
	cfg          config.PaymentConfig
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewPaymentService(
	bookings BookingReader,
	repo domain.PaymentRepository,
	eventBus domain.EventPublisher,
	sheetsWorker domain.SyncWorker,
	cfg config.PaymentConfig,
	logger *zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		bookings:     bookings,
		repo:         repo,
		eventBus:     eventBus,
		sheetsWorker: sheetsWorker,
		cfg:          cfg,
		now:          time.Now,
		logger:       logger,
	}
}

// TransferReference is the note customers put on a bank transfer.
func TransferReference(b *models.Booking) string {
	name := strings.ToUpper(strings.TrimSpace(b.Name))
	if name == "" {
		name = "GUEST"
	}
	return fmt.Sprintf("TT %s %s", b.ShortID(), name)
}

func (s *PaymentService) Summary(ctx context.Context, actor *domain.Actor, bookingID string) (*PaymentSummary, error) {
	booking, err := s.bookings.GetBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	canPay, reason := models.PaymentState(booking)
	summary := &PaymentSummary{
		Booking:        booking,
		PricePerPerson: booking.TourPrice,
		Total:          booking.Total(),
		TotalDisplay:   models.FormatVND(booking.Total()),
		CanPay:         canPay,
		Reason:         reason,
		BankTransfer: BankTransfer{
			BankName:      s.cfg.BankName,
			AccountName:   s.cfg.AccountName,
			AccountNumber: s.cfg.AccountNumber,
			Reference:     TransferReference(booking),
		},
		EWallets: s.cfg.EWallets,
	}

	if booking.IsPaid() {
		payment, err := s.repo.GetPaymentByBooking(ctx, booking.ID)
		switch {
		case err == nil:
			summary.Payment = payment
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	return summary, nil
}

// Pay records a simulated settlement. Card numbers never reach storage; only
// the last four digits are kept.
func (s *PaymentService) Pay(ctx context.Context, actor *domain.Actor, bookingID string, req domain.PaymentRequest) (*PaymentSummary, error) {
	if err := domain.ValidatePaymentRequest(&req); err != nil {
		return nil, err
	}

	booking, err := s.bookings.GetBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if ok, reason := models.PaymentState(booking); !ok {
		return nil, domain.Conflictf("%s", reason)
	}

	payment := &models.Payment{
		BookingID: booking.ID,
		Method:    req.Method,
		Amount:    booking.Total(),
	}
	switch req.Method {
	case models.PaymentCard:
		payment.CardLast4 = req.Card.Last4()
	case models.PaymentBank:
		payment.Reference = TransferReference(booking)
	}

	if err := s.repo.RecordPayment(ctx, payment, s.now().UTC()); err != nil {
		return nil, err
	}

	metrics.ObservePayment(payment.Method, payment.Amount)
	logging.For(ctx, s.logger).Info().
		Str("booking_id", booking.ID).
		Str("method", payment.Method).
		Int64("amount", payment.Amount).
		Msg("booking paid")

	summary, err := s.Summary(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	publishBookingEvent(s.eventBus, s.logger, events.EventBookingPaid, *summary.Booking, actor, payment.Method)
	enqueueBookingSync(ctx, s.sheetsWorker, s.logger, *summary.Booking, SyncUpsert)
	return summary, nil
}
