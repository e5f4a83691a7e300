package domain

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"tourbook/internal/models"

	"github.com/go-playground/validator/v10"
)

// MsgMissingFields is returned whenever a required booking field is absent.
const (
	MsgMissingFields = "please fill in all required fields"
	MsgMinPeople     = "party size must be at least 1"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// BookingRequest is what a customer submits to reserve a tour.
type BookingRequest struct {
	TourID string `json:"tour" validate:"required"`
	Date   string `json:"bookingDate" validate:"required"`
	People int    `json:"people" validate:"required,min=1"`
	Name   string `json:"name" validate:"required,max=100"`
	Phone  string `json:"phone" validate:"required,max=20"`
	Note   string `json:"note" validate:"max=1000"`
}

func (r *BookingRequest) normalize() {
	r.TourID = strings.TrimSpace(r.TourID)
	r.Date = strings.TrimSpace(r.Date)
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Note = strings.TrimSpace(r.Note)
}

// ValidateBookingRequest trims r in place and checks it. maxPeople <= 0 means
// no upper bound. The parsed date is returned on success.
func ValidateBookingRequest(r *BookingRequest, today time.Time, maxPeople int) (time.Time, error) {
	r.normalize()

	if err := structValidator().Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				switch {
				case fe.Tag() == "max":
					return time.Time{}, Validationf("%s is too long", strings.ToLower(fe.Field()))
				case fe.Field() == "People" && fe.Tag() == "min":
					return time.Time{}, Validationf(MsgMinPeople)
				}
			}
		}
		return time.Time{}, Validationf(MsgMissingFields)
	}

	if maxPeople > 0 && r.People > maxPeople {
		return time.Time{}, Validationf("party size cannot exceed %d people", maxPeople)
	}

	date, err := ParseDate(r.Date, today.Location())
	if err != nil {
		return time.Time{}, Validationf("invalid booking date")
	}
	y, m, d := today.Date()
	if date.Before(time.Date(y, m, d, 0, 0, 0, 0, today.Location())) {
		return time.Time{}, Validationf("booking date cannot be in the past")
	}
	return date, nil
}

// ParseDate accepts a bare date or an RFC 3339 timestamp and keeps the day.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(models.DateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
}

// CardDetails is never stored; only the last four digits survive validation.
type CardDetails struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

// CardDigits strips spaces and dashes from a card number.
func CardDigits(number string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, number)
}

func (c *CardDetails) Last4() string {
	digits := CardDigits(c.Number)
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// ValidateCard requires every field and a number of at least 12 digits.
func ValidateCard(c *CardDetails) error {
	if c == nil ||
		strings.TrimSpace(c.Name) == "" ||
		strings.TrimSpace(c.Number) == "" ||
		strings.TrimSpace(c.Expiry) == "" ||
		strings.TrimSpace(c.CVV) == "" {
		return Validationf("please fill in all card details")
	}

	digits := CardDigits(c.Number)
	if len(digits) < 12 {
		return Validationf("invalid card number")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Validationf("invalid card number")
		}
	}
	return nil
}

type PaymentRequest struct {
	Method string       `json:"method"`
	Card   *CardDetails `json:"card,omitempty"`
}

func ValidatePaymentRequest(r *PaymentRequest) error {
	switch strings.ToLower(strings.TrimSpace(r.Method)) {
	case models.PaymentCard:
		r.Method = models.PaymentCard
		return ValidateCard(r.Card)
	case models.PaymentBank:
		r.Method = models.PaymentBank
	case models.PaymentEWallet:
		r.Method = models.PaymentEWallet
	default:
		return Validationf("unsupported payment method %q", r.Method)
	}
	return nil
}

// ValidateReview checks a rating and comment, returning the trimmed comment.
func ValidateReview(rating int, comment string) (string, error) {
	if rating == 0 {
		return "", Validationf("please select a rating")
	}
	if rating < models.MinRating || rating > models.MaxRating {
		return "", Validationf("rating must be between %d and %d", models.MinRating, models.MaxRating)
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return "", Validationf("please write a comment")
	}
	if len(comment) > 2000 {
		return "", Validationf("comment is too long")
	}
	return comment, nil
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Phone    string `json:"phone" validate:"max=20"`
}

func ValidateRegister(r *RegisterRequest) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	if err := structValidator().Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			switch {
			case fe.Field() == "Email" && fe.Tag() == "email":
				return Validationf("invalid email address")
			case fe.Field() == "Password" && fe.Tag() == "min":
				return Validationf("password must be at least 6 characters")
			}
		}
		return Validationf(MsgMissingFields)
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TourInput struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Description   string   `json:"description"`
	Price         int64    `json:"price" validate:"min=0"`
	OriginalPrice int64    `json:"original_price" validate:"min=0"`
	Duration      string   `json:"duration"`
	Category      string   `json:"category"`
	Capacity      int      `json:"capacity" validate:"min=0"`
	Highlights    []string `json:"highlights"`
	Includes      []string `json:"includes"`
	Status        string   `json:"status" validate:"omitempty,oneof=draft published"`
}

func ValidateTour(in *TourInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if err := structValidator().Struct(in); err != nil {
		return Validationf("invalid tour: %s", firstFieldError(err))
	}
	if in.Status == "" {
		in.Status = models.TourStatusDraft
	}
	return nil
}

func firstFieldError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return strings.ToLower(verrs[0].Field()) + " " + verrs[0].Tag()
	}
	return err.Error()
}
