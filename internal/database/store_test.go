package database

import (
	"context"
	"testing"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToursCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []models.Tour{
		{ID: "ba-na", Title: "Ba Na Hills", Price: 1_200_000, Highlights: []string{"Golden Bridge"}},
		{ID: "son-tra", Title: "Son Tra", Price: 400_000, Status: models.TourStatusDraft},
	}
	n, err := db.SeedTours(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.SeedTours(ctx, seed)
	require.NoError(t, err)
	assert.Zero(t, n)

	published, err := db.ListTours(ctx, false)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "ba-na", published[0].ID)
	assert.Equal(t, []string{"Golden Bridge"}, published[0].Highlights)
	assert.Equal(t, []string{}, published[0].Includes)

	all, err := db.ListTours(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	tour, err := db.GetTour(ctx, "son-tra")
	require.NoError(t, err)
	tour.Status = models.TourStatusPublished
	tour.Price = 450_000
	require.NoError(t, db.UpdateTour(ctx, tour))

	tour, err = db.GetTour(ctx, "son-tra")
	require.NoError(t, err)
	assert.Equal(t, int64(450_000), tour.Price)
	assert.True(t, tour.IsPublished())

	assert.ErrorIs(t, db.UpdateTour(ctx, &models.Tour{ID: "nope", Title: "x"}), ErrTourNotFound)
	assert.ErrorIs(t, db.CreateTour(ctx, &models.Tour{ID: "ba-na", Title: "dup"}), domain.ErrConflict)

	_, err = db.GetTour(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReviews(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	older := &models.Review{SubjectType: models.SubjectTour, SubjectID: "ba-na", UserID: "u1", UserName: "An", Rating: 5, Comment: "Great", CreatedAt: time.Now().UTC().Add(-time.Hour)}
	newer := &models.Review{SubjectType: models.SubjectTour, SubjectID: "ba-na", UserID: "u2", UserName: "Binh", Rating: 4, Comment: "Good"}
	other := &models.Review{SubjectType: models.SubjectDestination, SubjectID: "ba-na", UserID: "u3", UserName: "Chi", Rating: 1, Comment: "Meh"}
	for _, r := range []*models.Review{older, newer, other} {
		require.NoError(t, db.CreateReview(ctx, r))
	}

	reviews, err := db.ListReviews(ctx, models.SubjectTour, "ba-na")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, newer.ID, reviews[0].ID)
	assert.Equal(t, 4.5, models.Summarize(reviews).Average)

	assert.Error(t, db.CreateReview(ctx, &models.Review{SubjectType: models.SubjectTour, SubjectID: "x", UserID: "u", UserName: "u", Rating: 0, Comment: "zero"}))
	assert.Error(t, db.CreateReview(ctx, &models.Review{SubjectType: models.SubjectTour, SubjectID: "x", UserID: "u", UserName: "u", Rating: 3, Comment: "  "}))

	empty, err := db.ListReviews(ctx, models.SubjectTour, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	u := &models.User{Name: "An", Email: "an@example.com", PasswordHash: "hash"}
	require.NoError(t, db.CreateUser(ctx, u))
	assert.Equal(t, models.RoleUser, u.Role)

	err := db.CreateUser(ctx, &models.User{Name: "An 2", Email: "AN@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	got, err := db.GetUserByEmail(ctx, "an@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, db.UpdateUserRole(ctx, u.ID, models.RoleStaff))
	got, err = db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, got.Role)

	users, err := db.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = db.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecordPayment(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newBooking("u1")
	require.NoError(t, db.CreateBooking(ctx, b))

	pay := func() error {
		return db.RecordPayment(ctx, &models.Payment{BookingID: b.ID, Method: models.PaymentBank, Amount: b.Total()}, time.Now().UTC())
	}

	assert.ErrorIs(t, pay(), ErrNotPayable, "pending booking cannot be paid")

	require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, b.ID, 1, models.StatusConfirmed))
	require.NoError(t, pay())
	assert.ErrorIs(t, pay(), ErrNotPayable, "second payment must be rejected")

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaidAt)
	assert.Equal(t, int64(3), got.Version)

	p, err := db.GetPaymentByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_400_000), p.Amount)

	err = db.RecordPayment(ctx, &models.Payment{BookingID: "missing"}, time.Now().UTC())
	assert.ErrorIs(t, err, ErrBookingNotFound)

	_, err = db.GetPaymentByBooking(ctx, "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
