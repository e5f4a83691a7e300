package models

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire and storage format of a booking date.
const DateLayout = "2006-01-02"

type Booking struct {
	ID           string     `json:"id"`
	TourID       string     `json:"tour_id"`
	TourTitle    string     `json:"tour_title"`
	TourPrice    int64      `json:"tour_price"`
	TourDuration string     `json:"tour_duration,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	Date         time.Time  `json:"booking_date"`
	People       int        `json:"people"`
	Note         string     `json:"note,omitempty"`
	Status       string     `json:"status"` // pending, confirmed, cancelled
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// Total is the amount due for the whole party.
func (b *Booking) Total() int64 {
	return ComputeTotal(b.TourPrice, b.People)
}

// ShortID is the human-facing reference used in transfer notes and lists.
func (b *Booking) ShortID() string {
	if len(b.ID) <= 6 {
		return b.ID
	}
	return b.ID[len(b.ID)-6:]
}

func (b *Booking) IsPaid() bool {
	return b.PaidAt != nil
}

// MarshalJSON adds the derived total and short id to the payload.
func (b Booking) MarshalJSON() ([]byte, error) {
	type plain Booking
	return json.Marshal(struct {
		plain
		Total   int64  `json:"total"`
		ShortID string `json:"short_id"`
	}{
		plain:   plain(b),
		Total:   b.Total(),
		ShortID: b.ShortID(),
	})
}

// PaymentState reports whether the booking may be paid now, and if not, why.
func PaymentState(b *Booking) (bool, string) {
	switch {
	case b == nil:
		return false, "booking not found"
	case b.Status == StatusCancelled:
		return false, "booking was cancelled"
	case b.Status != StatusConfirmed:
		return false, "booking is not confirmed yet"
	case b.IsPaid():
		return false, "booking is already paid"
	default:
		return true, ""
	}
}
