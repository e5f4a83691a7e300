package client

import (
	"context"
	"net/http"
	"net/url"

	"tourbook/internal/domain"
	"tourbook/internal/models"
)

type bookingEnvelope struct {
	Booking *models.Booking `json:"booking"`
}

type bookingsEnvelope struct {
	Bookings []models.Booking `json:"bookings"`
}

type statusRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version,omitempty"`
}

// CreateBooking checks the login, validates form and submits it. Both checks
// happen before any request; form itself is never modified.
func (c *Client) CreateBooking(ctx context.Context, form domain.BookingRequest) (*models.Booking, error) {
	if err := c.requireLogin("please log in to book a tour"); err != nil {
		return nil, err
	}
	if _, err := domain.ValidateBookingRequest(&form, c.today(), MaxPeople); err != nil {
		return nil, err
	}

	var res bookingEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/api/bookings", form, &res); err != nil {
		return nil, err
	}
	return res.Booking, nil
}

// MyBookings lists the signed-in user's bookings, newest first.
func (c *Client) MyBookings(ctx context.Context) ([]models.Booking, error) {
	if err := c.requireLogin("please log in to see your bookings"); err != nil {
		return nil, err
	}
	var res bookingsEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/api/bookings", nil, &res); err != nil {
		return nil, err
	}
	return res.Bookings, nil
}

// AllBookings is the staff listing. The filter is applied server-side.
func (c *Client) AllBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	if err := c.requireLogin("please log in"); err != nil {
		return nil, err
	}
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Query != "" {
		q.Set("q", filter.Query)
	}
	path := "/api/bookings/all"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res bookingsEnvelope
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Bookings, nil
}

func (c *Client) Booking(ctx context.Context, id string) (*models.Booking, error) {
	var res bookingEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/api/bookings/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	return res.Booking, nil
}

// UpdateBookingStatus sets a new status. A positive version makes the server
// reject the change when someone else modified the booking first.
func (c *Client) UpdateBookingStatus(ctx context.Context, id, status string, version int64) (*models.Booking, error) {
	next, ok := models.ParseStatus(status)
	if !ok {
		return nil, domain.Validationf("unknown status %q", status)
	}
	var res bookingEnvelope
	err := c.doJSON(ctx, http.MethodPut, "/api/bookings/"+url.PathEscape(id),
		statusRequest{Status: next, Version: version}, &res)
	if err != nil {
		return nil, err
	}
	return res.Booking, nil
}

// CancelBooking cancels a booking the caller owns or manages.
func (c *Client) CancelBooking(ctx context.Context, id string) (*models.Booking, error) {
	if err := c.requireLogin("please log in"); err != nil {
		return nil, err
	}
	var res bookingEnvelope
	if err := c.doJSON(ctx, http.MethodPatch, "/api/bookings/"+url.PathEscape(id)+"/cancel", nil, &res); err != nil {
		return nil, err
	}
	return res.Booking, nil
}
