package database

import (
	"context"
	"fmt"
	"time"

	"tourbook/internal/models"

	"github.com/google/uuid"
)

// RecordPayment marks a confirmed, unpaid booking as paid and stores the
// payment in the same transaction.
func (db *DB) RecordPayment(ctx context.Context, payment *models.Payment, paidAt time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET paid_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND paid_at IS NULL`,
		paidAt, paidAt, payment.BookingID, models.StatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("failed to mark booking paid: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, payment.BookingID).Scan(&count); err != nil {
			return fmt.Errorf("failed to check booking: %w", err)
		}
		if count == 0 {
			return ErrBookingNotFound
		}
		return ErrNotPayable
	}

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.CreatedAt = paidAt
	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (id, booking_id, method, amount, reference, card_last4, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		payment.ID, payment.BookingID, payment.Method, payment.Amount, payment.Reference, payment.CardLast4, payment.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNotPayable
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

func (db *DB) GetPaymentByBooking(ctx context.Context, bookingID string) (*models.Payment, error) {
	var p models.Payment
	err := db.QueryRowContext(ctx,
		`SELECT id, booking_id, method, amount, reference, card_last4, created_at FROM payments WHERE booking_id = ?`,
		bookingID,
	).Scan(&p.ID, &p.BookingID, &p.Method, &p.Amount, &p.Reference, &p.CardLast4, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", notFound(err, ErrPaymentNotFound))
	}
	return &p, nil
}
