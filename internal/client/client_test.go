package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mux      *http.ServeMux
	server   *httptest.Server
	requests atomic.Int64
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{mux: http.NewServeMux()}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var testNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	c, err := NewClient(f.server.URL, "")
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }
	c.SetLocation(time.UTC)
	return c
}

func signIn(c *Client, role string) {
	c.session.state = &sessionState{
		Token: "tok-" + role,
		User:  &models.User{ID: "u-" + role, Name: "Lan", Role: role},
	}
}

func validForm() domain.BookingRequest {
	return domain.BookingRequest{
		TourID: "hoi-an",
		Date:   testNow.AddDate(0, 0, 10).Format(models.DateLayout),
		People: 2,
		Name:   "  Lan  ",
		Phone:  "0905123456",
	}
}

func TestCreateBooking(t *testing.T) {
	f := newFakeAPI(t)
	var got domain.BookingRequest
	var auth string
	f.mux.HandleFunc("POST /api/bookings", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, map[string]any{"booking": models.Booking{
			ID: "b-000001", TourID: got.TourID, Name: got.Name, People: got.People,
			TourPrice: 850_000, Status: models.StatusPending,
		}})
	})
	c := newTestClient(t, f)
	signIn(c, models.RoleUser)

	form := validForm()
	booking, err := c.CreateBooking(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, booking.Status)
	assert.Equal(t, int64(1_700_000), booking.Total())
	assert.Equal(t, "Bearer tok-user", auth)
	assert.Equal(t, "Lan", got.Name)
	assert.Equal(t, "  Lan  ", form.Name, "caller's form must be left as typed")
}

func TestCreateBookingValidatesBeforeNetwork(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	signIn(c, models.RoleUser)

	cases := map[string]func(*domain.BookingRequest){
		"missing phone": func(r *domain.BookingRequest) { r.Phone = " " },
		"zero people":   func(r *domain.BookingRequest) { r.People = 0 },
		"too many":      func(r *domain.BookingRequest) { r.People = MaxPeople + 1 },
		"past date":     func(r *domain.BookingRequest) { r.Date = "2026-10-16" },
		"garbage date":  func(r *domain.BookingRequest) { r.Date = "soon" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			form := validForm()
			mutate(&form)
			_, err := c.CreateBooking(context.Background(), form)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Zero(t, f.requests.Load())
}

func TestCreateBookingRequiresLogin(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	_, err := c.CreateBooking(context.Background(), validForm())
	assert.ErrorIs(t, err, domain.ErrAuth)

	incomplete := validForm()
	incomplete.Phone = ""
	_, err = c.CreateBooking(context.Background(), incomplete)
	assert.ErrorIs(t, err, domain.ErrAuth, "guests are sent to log in before the form is checked")
	assert.Zero(t, f.requests.Load())
}

func TestServerErrorsMapToKinds(t *testing.T) {
	f := newFakeAPI(t)
	f.mux.HandleFunc("GET /api/bookings/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "gone":
			writeJSON(w, http.StatusNotFound, errorBody{Error: "booking not found", Code: "not_found"})
		case "busy":
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "slow down", Code: "rate_limited"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	c := newTestClient(t, f)

	_, err := c.Booking(context.Background(), "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "booking not found", err.Error())

	_, err = c.Booking(context.Background(), "busy")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = c.Booking(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestAuthErrorDropsSession(t *testing.T) {
	f := newFakeAPI(t)
	f.mux.HandleFunc("GET /api/bookings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "session expired", Code: "auth_required"})
	})
	c := newTestClient(t, f)
	signIn(c, models.RoleUser)

	_, err := c.MyBookings(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Empty(t, c.Session().Token())
}

func TestNetworkErrors(t *testing.T) {
	f := newFakeAPI(t)
	f.mux.HandleFunc("GET /api/tours", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"tours": []models.Tour{}})
	})
	c := newTestClient(t, f)
	c.SetTimeout(20 * time.Millisecond)

	_, err := c.Tours(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetwork)

	f.server.Close()
	_, err = c.Booking(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestToursRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFakeAPI(t)
	f.mux.HandleFunc("GET /api/tours", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tours": []models.Tour{{ID: "hoi-an", Title: "Hoi An"}}})
	})
	c := newTestClient(t, f)
	c.UseRedisCache(rdb, time.Minute)

	for i := 0; i < 3; i++ {
		tours, err := c.Tours(context.Background())
		require.NoError(t, err)
		require.Len(t, tours, 1)
		assert.Equal(t, "Hoi An", tours[0].Title)
	}
	assert.Equal(t, int64(1), f.requests.Load())
	assert.True(t, mr.Exists("tourbook:client:tours"))
}

func TestSessionLoginPersistsAndLogout(t *testing.T) {
	f := newFakeAPI(t)
	var revoked atomic.Bool
	f.mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req domain.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret1" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid email or password", Code: "auth_required"})
			return
		}
		writeJSON(w, http.StatusOK, authResponse{
			Token:     "jwt-1",
			ExpiresAt: testNow.Add(time.Hour),
			User:      &models.User{ID: "u1", Name: "Lan", Email: req.Email, Role: models.RoleUser},
		})
	})
	f.mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		revoked.Store(r.Header.Get("Authorization") == "Bearer jwt-1")
		w.WriteHeader(http.StatusNoContent)
	})

	path := filepath.Join(t.TempDir(), "state", "session.json")
	c, err := NewClient(f.server.URL, path)
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }

	_, err = c.Session().Login(context.Background(), "lan@example.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Nil(t, c.Session().CurrentUser())

	user, err := c.Session().Login(context.Background(), "lan@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "jwt-1", c.Session().Token())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a second client picks the session up from disk
	c2, err := NewClient(f.server.URL, path)
	require.NoError(t, err)
	c2.now = c.now
	require.NotNil(t, c2.Session().CurrentUser())
	assert.Equal(t, "lan@example.com", c2.Session().CurrentUser().Email)

	require.NoError(t, c2.Session().Logout(context.Background()))
	assert.True(t, revoked.Load())
	assert.Empty(t, c2.Session().Token())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSessionExpiry(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	c.session.state = &sessionState{
		Token:     "old",
		ExpiresAt: testNow.Add(-time.Minute),
		User:      &models.User{ID: "u1"},
	}
	assert.Empty(t, c.Session().Token())
	assert.Nil(t, c.Session().CurrentUser())
}

func TestSessionCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	c, err := NewClient("http://127.0.0.1:1", path)
	require.NoError(t, err)
	assert.Empty(t, c.Session().Token())
}

func TestRegisterValidatesLocally(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	_, err := c.Session().Register(context.Background(), domain.RegisterRequest{
		Name: "Lan", Email: "not-an-email", Password: "secret1",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, f.requests.Load())
}
