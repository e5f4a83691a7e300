package models

import "strings"

// BookingFilter narrows the staff booking list. Empty Status or "all" means
// any status; Query is matched case-insensitively.
type BookingFilter struct {
	Status string `json:"status,omitempty"`
	Query  string `json:"q,omitempty"`
}

func (f BookingFilter) Matches(b *Booking) bool {
	if status := strings.ToLower(strings.TrimSpace(f.Status)); status != "" && status != "all" && b.Status != status {
		return false
	}

	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	for _, field := range []string{b.TourTitle, b.Name, b.Phone, b.Note} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// FilterBookings returns the bookings matching f, preserving order.
func FilterBookings(bookings []Booking, f BookingFilter) []Booking {
	out := make([]Booking, 0, len(bookings))
	for i := range bookings {
		if f.Matches(&bookings[i]) {
			out = append(out, bookings[i])
		}
	}
	return out
}
