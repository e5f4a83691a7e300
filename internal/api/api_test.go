package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tourbook/internal/auth"
	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/export"
	"tourbook/internal/models"
	"tourbook/internal/repository"
	"tourbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv *httptest.Server
	db  *database.DB
}

func newTestAPI(t *testing.T, apiCfg config.APIConfig) *testAPI {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	tours := service.NewTourService(db, &logger)
	require.NoError(t, tours.Seed(ctx, []models.Tour{
		{ID: "hoi-an", Title: "Hoi An by night", Price: 850_000, OriginalPrice: 1_000_000, Capacity: 4, Status: models.TourStatusPublished},
		{ID: "son-tra", Title: "Son Tra", Price: 500_000, Status: models.TourStatusDraft},
	}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret: "0123456789abcdef0123",
			TokenTTL:  time.Hour,
			Staff:     []string{"desk@tourbook.vn"},
		},
		Payment: config.PaymentConfig{
			BankName:      "Vietcombank",
			AccountName:   "CONG TY DU LICH",
			AccountNumber: "0041000123456",
			EWallets:      []string{"MoMo"},
		},
	}

	bookings := service.NewBookingService(db, tours, nil, nil, 20, &logger)
	svc := Services{
		Users: service.NewUserService(db, repository.NewMemorySessionRepository(time.Hour),
			auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg, &logger),
		Tours:    tours,
		Bookings: bookings,
		Payments: service.NewPaymentService(bookings, db, nil, nil, cfg.Payment, &logger),
		Reviews:  service.NewReviewService(db, tours, nil, &logger),
	}

	api := NewHTTPServer(apiCfg, svc, &logger, db.Health)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, db: db}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) register(t *testing.T, name, email string) string {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[service.AuthResult](t, resp)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func bookingBody(tour string, people int) map[string]any {
	return map[string]any{
		"tour":        tour,
		"bookingDate": time.Now().AddDate(0, 0, 10).Format(models.DateLayout),
		"people":      people,
		"name":        "Nguyen Van A",
		"phone":       "0905123456",
	}
}

type bookingEnvelope struct {
	Booking models.Booking `json:"booking"`
}

func TestHealthAndReady(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})

	resp := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp = a.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	a.db.Close()
	resp = a.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	customer := a.register(t, "Lan", "lan@example.com")
	staff := a.register(t, "Desk", "desk@tourbook.vn")

	// anonymous booking is rejected
	resp := a.do(t, http.MethodPost, "/api/bookings", "", bookingBody("hoi-an", 2))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	resp = a.do(t, http.MethodPost, "/api/bookings", customer, bookingBody("hoi-an", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[bookingEnvelope](t, resp).Booking
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, int64(850_000), created.TourPrice)

	resp = a.do(t, http.MethodPost, "/api/bookings", customer, bookingBody("son-tra", 1))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[errorBody](t, resp)
	assert.Equal(t, "validation", errBody.Code)

	resp = a.do(t, http.MethodGet, "/api/bookings", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mine := decode[struct {
		Bookings []models.Booking `json:"bookings"`
	}](t, resp)
	require.Len(t, mine.Bookings, 1)

	// customers cannot see the staff list or change status
	resp = a.do(t, http.MethodGet, "/api/bookings/all", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = a.do(t, http.MethodPut, "/api/bookings/"+created.ID, customer, map[string]any{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPut, "/api/bookings/"+created.ID, staff, map[string]any{"status": "confirmed", "version": created.Version})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	confirmed := decode[bookingEnvelope](t, resp).Booking
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)

	// stale version
	resp = a.do(t, http.MethodPut, "/api/bookings/"+created.ID, staff, map[string]any{"status": "cancelled", "version": created.Version})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do(t, http.MethodPatch, "/api/bookings/"+created.ID+"/cancel", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusCancelled, decode[bookingEnvelope](t, resp).Booking.Status)

	// cancelled is terminal
	resp = a.do(t, http.MethodPut, "/api/bookings/"+created.ID, staff, map[string]any{"status": "confirmed"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, resp).Code)

	resp = a.do(t, http.MethodGet, "/api/bookings/all?status=cancelled", staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[struct {
		Bookings []models.Booking `json:"bookings"`
	}](t, resp)
	assert.Len(t, all.Bookings, 1)
}

func TestBookingVisibility(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	owner := a.register(t, "Lan", "lan@example.com")
	other := a.register(t, "Minh", "minh@example.com")

	resp := a.do(t, http.MethodPost, "/api/bookings", owner, bookingBody("hoi-an", 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[bookingEnvelope](t, resp).Booking.ID

	resp = a.do(t, http.MethodGet, "/api/bookings/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = a.do(t, http.MethodPatch, "/api/bookings/"+id+"/cancel", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = a.do(t, http.MethodGet, "/api/bookings/"+id, owner, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPaymentOverHTTP(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	customer := a.register(t, "Lan", "lan@example.com")

	resp := a.do(t, http.MethodPost, "/api/bookings", customer, bookingBody("hoi-an", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[bookingEnvelope](t, resp).Booking.ID

	resp = a.do(t, http.MethodGet, "/api/bookings/"+id+"/payment", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[service.PaymentSummary](t, resp)
	assert.True(t, summary.CanPay)
	assert.Equal(t, int64(1_700_000), summary.Total)
	assert.Equal(t, "0041000123456", summary.BankTransfer.AccountNumber)

	resp = a.do(t, http.MethodPost, "/api/bookings/"+id+"/payment", customer, map[string]any{
		"method": "card",
		"card":   map[string]string{"number": "1234"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/bookings/"+id+"/payment", customer, map[string]any{"method": "bank"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	paid := decode[service.PaymentSummary](t, resp)
	assert.False(t, paid.CanPay)
	require.NotNil(t, paid.Payment)
	assert.Equal(t, models.PaymentBank, paid.Payment.Method)

	resp = a.do(t, http.MethodPost, "/api/bookings/"+id+"/payment", customer, map[string]any{"method": "bank"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReviewsAndRatings(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	customer := a.register(t, "Lan", "lan@example.com")

	resp := a.do(t, http.MethodPost, "/api/reviews", "", map[string]any{"tour": "hoi-an", "rating": 5})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/reviews", customer, map[string]any{"tour": "hoi-an", "rating": 6})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/reviews", customer, map[string]any{"tour": "hoi-an", "rating": 4, "comment": "lovely"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/reviews", customer, map[string]any{"tour": "hoi-an", "rating": 5})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/reviews", customer, map[string]any{"tour": "no-such-tour", "rating": 5, "comment": "?"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/reviews", customer, map[string]any{"tour": "son-tra", "rating": 5, "comment": "?"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/reviews/hoi-an", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[service.ReviewPage](t, resp)
	assert.Len(t, page.Reviews, 2)
	assert.Equal(t, 2, page.Summary.Count)

	resp = a.do(t, http.MethodPost, "/api/ratings", customer, map[string]any{"postId": "my-khe", "rating": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = a.do(t, http.MethodGet, "/api/ratings?postId=my-khe", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[service.ReviewPage](t, resp).Summary.Count)
}

func TestToursOverHTTP(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	staff := a.register(t, "Desk", "desk@tourbook.vn")

	resp := a.do(t, http.MethodGet, "/api/tours", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Tours []models.Tour `json:"tours"`
	}](t, resp)
	require.Len(t, list.Tours, 1)

	resp = a.do(t, http.MethodGet, "/api/tours/son-tra", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/tours/hoi-an", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 15, decode[struct {
		Discount int `json:"discount_percent"`
	}](t, resp).Discount)

	resp = a.do(t, http.MethodPost, "/api/tours", "", map[string]any{"title": "Marble Mountains"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/tours", staff, map[string]any{
		"id": "marble", "title": "Marble Mountains", "price": 400_000, "status": "published",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/tours?all=1", staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[struct {
		Tours []models.Tour `json:"tours"`
	}](t, resp)
	assert.Len(t, all.Tours, 3)
}

func TestAuthEndpoints(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	token := a.register(t, "Lan", "lan@example.com")

	resp := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Lan", "email": "lan@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "lan@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[struct {
		User models.User `json:"user"`
	}](t, resp)
	assert.Equal(t, "lan@example.com", me.User.Email)

	resp = a.do(t, http.MethodGet, "/api/users", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/tours", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMalformedBody(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	token := a.register(t, "Lan", "lan@example.com")

	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/api/bookings", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid JSON body", decode[errorBody](t, resp).Error)
}

func TestExportBookings(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	customer := a.register(t, "Lan", "lan@example.com")
	staff := a.register(t, "Desk", "desk@tourbook.vn")

	resp := a.do(t, http.MethodPost, "/api/bookings", customer, bookingBody("hoi-an", 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/bookings/export", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/bookings/export", staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentTypeXLSX, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(raw[:2]))
}

func TestHTTPRateLimit(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}})

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/healthz", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/healthz", "", nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, a.do(t, http.MethodGet, "/healthz", "", nil).StatusCode)
}
