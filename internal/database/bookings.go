package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tourbook/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, tour_id, tour_title, tour_price, tour_duration, user_id, name, phone,
	date, people, note, status, paid_at, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b       models.Booking
		userID  sql.NullString
		dateStr string
		paidAt  sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.TourID, &b.TourTitle, &b.TourPrice, &b.TourDuration, &userID, &b.Name, &b.Phone,
		&dateStr, &b.People, &b.Note, &b.Status, &paidAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.UserID = userID.String
	if paidAt.Valid {
		t := paidAt.Time
		b.PaidAt = &t
	}
	b.Date, err = time.Parse(models.DateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking date %s: %w", dateStr, err)
	}
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]models.Booking, error) {
	defer rows.Close()

	bookings := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateBooking inserts the booking. When capacity is positive the insert
// only succeeds while the tour still has room for the party on that date.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return db.CreateBookingWithLock(ctx, booking, 0)
}

func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking, capacity int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	date := booking.Date.Format(models.DateLayout)

	if capacity > 0 {
		taken, err := bookedPeople(ctx, tx, booking.TourID, date)
		if err != nil {
			return fmt.Errorf("failed to check availability in tx: %w", err)
		}
		if taken+booking.People > capacity {
			return ErrNotAvailable
		}
	}

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}
	now := time.Now().UTC()

	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		booking.TourID,
		booking.TourTitle,
		booking.TourPrice,
		booking.TourDuration,
		nullString(booking.UserID),
		booking.Name,
		booking.Phone,
		date,
		booking.People,
		booking.Note,
		booking.Status,
		booking.PaidAt,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", notFound(err, ErrBookingNotFound))
	}
	return b, nil
}

// GetUserBookings returns the user's bookings, newest first.
func (db *DB) GetUserBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id`
	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	return scanBookings(rows)
}

// ListBookings returns every booking matching the filter, newest first.
// The status is filtered in SQL; the free-text query is applied in Go so
// that case folding works for non-ASCII names.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	status := filter.Status
	if status == "all" {
		status = ""
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id`
	rows, err := db.QueryContext(ctx, query, status, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, err
	}
	return models.FilterBookings(bookings, models.BookingFilter{Query: filter.Query}), nil
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return db.missingOrStale(ctx, id)
	}
	return nil
}

// CancelBooking cancels regardless of version. It reports false when the
// booking was already cancelled.
func (db *DB) CancelBooking(ctx context.Context, id string) (bool, error) {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status != ?`
	result, err := db.ExecContext(ctx, query, models.StatusCancelled, time.Now().UTC(), id, models.StatusCancelled)
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return true, nil
	}
	if _, err := db.GetBooking(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (db *DB) missingOrStale(ctx context.Context, id string) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check booking: %w", err)
	}
	if count == 0 {
		return ErrBookingNotFound
	}
	return ErrConcurrentModification
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// bookedPeople sums the non-cancelled party sizes of a tour on a date.
func bookedPeople(ctx context.Context, q rowQuerier, tourID, date string) (int, error) {
	var taken int
	query := `SELECT COALESCE(SUM(people), 0) FROM bookings WHERE tour_id = ? AND date = ? AND status != ?`
	if err := q.QueryRowContext(ctx, query, tourID, date, models.StatusCancelled).Scan(&taken); err != nil {
		return 0, err
	}
	return taken, nil
}
