package models

import "time"

const (
	PaymentCard    = "card"
	PaymentBank    = "bank"
	PaymentEWallet = "ewallet"
)

type Payment struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	Method    string    `json:"method"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	CardLast4 string    `json:"card_last4,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
