package client

import (
	"context"
	"sync"

	"tourbook/internal/domain"
	"tourbook/internal/models"
)

// BookingBoard is the staff view of every booking. It keeps the last list the
// server returned and patches it with each successful status change.
type BookingBoard struct {
	client *Client

	mu       sync.RWMutex
	bookings []models.Booking
}

func NewBookingBoard(c *Client) *BookingBoard {
	return &BookingBoard{client: c}
}

// Refresh replaces the list with the server's. On error the list is kept.
func (b *BookingBoard) Refresh(ctx context.Context) error {
	bookings, err := b.client.AllBookings(ctx, models.BookingFilter{})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.bookings = bookings
	b.mu.Unlock()
	return nil
}

// Visible returns a copy of the bookings matching filter.
func (b *BookingBoard) Visible(filter models.BookingFilter) []models.Booking {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return models.FilterBookings(b.bookings, filter)
}

func (b *BookingBoard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bookings)
}

// Confirm moves a pending booking to confirmed.
func (b *BookingBoard) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	return b.transition(ctx, id, models.StatusConfirmed)
}

// Cancel cancels a pending or confirmed booking. Cancelling a booking that is
// already cancelled changes nothing and makes no request.
func (b *BookingBoard) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	return b.transition(ctx, id, models.StatusCancelled)
}

func (b *BookingBoard) transition(ctx context.Context, id, to string) (*models.Booking, error) {
	current, ok := b.find(id)
	if !ok {
		return nil, domain.NotFoundf("booking not found")
	}
	if current.Status == to && to == models.StatusCancelled {
		return &current, nil
	}
	if !models.CanTransition(current.Status, to) {
		return nil, domain.InvalidTransition(current.Status, to)
	}

	updated, err := b.client.UpdateBookingStatus(ctx, id, to, current.Version)
	if err != nil {
		return nil, err
	}
	b.mergeBooking(updated)
	return updated, nil
}

func (b *BookingBoard) find(id string) (models.Booking, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.bookings {
		if b.bookings[i].ID == id {
			return b.bookings[i], true
		}
	}
	return models.Booking{}, false
}

// mergeBooking replaces the entry with the server's copy, keeping its position.
func (b *BookingBoard) mergeBooking(updated *models.Booking) {
	if updated == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.bookings {
		if b.bookings[i].ID == updated.ID {
			b.bookings[i] = *updated
			return
		}
	}
	b.bookings = append([]models.Booking{*updated}, b.bookings...)
}
