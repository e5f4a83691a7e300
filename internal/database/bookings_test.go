package database

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newBooking(userID string) *models.Booking {
	return &models.Booking{
		TourID:    "ba-na",
		TourTitle: "Ba Na Hills",
		TourPrice: 1_200_000,
		UserID:    userID,
		Name:      "Nguyen Van A",
		Phone:     "0905123456",
		Date:      time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		People:    2,
		Status:    models.StatusPending,
	}
}

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newBooking("user-1")
	b.Note = "window seat"
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, int64(1), b.Version)
	assert.False(t, b.CreatedAt.IsZero())

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.TourTitle, got.TourTitle)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "2026-12-01", got.Date.Format(models.DateLayout))
	assert.Equal(t, 2, got.People)
	assert.Equal(t, "window seat", got.Note)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, int64(2_400_000), got.Total())

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateBookingRejectsEmptyParty(t *testing.T) {
	db := setupTestDB(t)
	b := newBooking("user-1")
	b.People = 0
	assert.Error(t, db.CreateBooking(context.Background(), b))
}

func TestGetUserBookingsIsolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := newBooking("alice")
	require.NoError(t, db.CreateBooking(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := newBooking("alice")
	require.NoError(t, db.CreateBooking(ctx, second))
	require.NoError(t, db.CreateBooking(ctx, newBooking("bob")))

	bookings, err := db.GetUserBookings(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, second.ID, bookings[0].ID)
	assert.Equal(t, first.ID, bookings[1].ID)

	none, err := db.GetUserBookings(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListBookingsFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := newBooking("u1")
	require.NoError(t, db.CreateBooking(ctx, a))
	b := newBooking("u2")
	b.TourTitle = "Hội An về đêm"
	b.Name = "Trần Thị B"
	require.NoError(t, db.CreateBooking(ctx, b))
	require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, b.ID, 1, models.StatusConfirmed))

	all, err := db.ListBookings(ctx, models.BookingFilter{Status: "all"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	confirmed, err := db.ListBookings(ctx, models.BookingFilter{Status: models.StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, b.ID, confirmed[0].ID)

	byName, err := db.ListBookings(ctx, models.BookingFilter{Query: "TRẦN"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, b.ID, byName[0].ID)
}

func TestUpdateBookingStatusWithVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newBooking("u1")
	require.NoError(t, db.CreateBooking(ctx, b))

	require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, b.ID, 1, models.StatusConfirmed))

	err := db.UpdateBookingStatusWithVersion(ctx, b.ID, 1, models.StatusCancelled)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = db.UpdateBookingStatusWithVersion(ctx, "missing", 1, models.StatusCancelled)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestCancelBookingIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newBooking("u1")
	require.NoError(t, db.CreateBooking(ctx, b))

	changed, err := db.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, int64(2), got.Version)

	_, err = db.CancelBooking(ctx, "missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestConcurrentBookingCapacity(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	const workers = 10
	const capacity = 6

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- db.CreateBookingWithLock(ctx, newBooking("u"), capacity)
		}()
	}
	wg.Wait()
	close(results)

	success, full := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case assert.ErrorIs(t, err, ErrNotAvailable):
			full++
		}
	}
	assert.Equal(t, capacity/2, success)
	assert.Equal(t, workers-capacity/2, full)

	taken, err := bookedPeople(ctx, db, "ba-na", "2026-12-01")
	require.NoError(t, err)
	assert.Equal(t, capacity, taken)
}
