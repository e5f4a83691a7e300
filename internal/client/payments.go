package client

import (
	"context"
	"net/http"
	"net/url"

	"tourbook/internal/domain"
	"tourbook/internal/models"
)

type BankTransfer struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Reference     string `json:"reference"`
}

// PaymentSummary mirrors the checkout payload of GET /api/bookings/{id}/payment.
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

// PaymentInitiator drives checkout for a single booking.
type PaymentInitiator struct {
	client *Client
}

func NewPaymentInitiator(c *Client) *PaymentInitiator {
	return &PaymentInitiator{client: c}
}

func paymentPath(bookingID string) string {
	return "/api/bookings/" + url.PathEscape(bookingID) + "/payment"
}

// Summary loads the amount due and whether the booking can be paid.
func (p *PaymentInitiator) Summary(ctx context.Context, bookingID string) (*PaymentSummary, error) {
	if err := p.client.requireLogin("please log in to pay"); err != nil {
		return nil, err
	}
	var summary PaymentSummary
	if err := p.client.doJSON(ctx, http.MethodGet, paymentPath(bookingID), nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Pay submits the payment. The method and card are checked first and nothing
// is sent when they are invalid.
func (p *PaymentInitiator) Pay(ctx context.Context, bookingID string, req domain.PaymentRequest) (*PaymentSummary, error) {
	if err := domain.ValidatePaymentRequest(&req); err != nil {
		return nil, err
	}
	if err := p.client.requireLogin("please log in to pay"); err != nil {
		return nil, err
	}

	var summary PaymentSummary
	if err := p.client.doJSON(ctx, http.MethodPost, paymentPath(bookingID), req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
