package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/service"

	"github.com/rs/zerolog"
)

// Authenticator resolves a bearer token to the calling actor.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Actor, error)
}

// Services are the use cases the HTTP API exposes.
type Services struct {
	Users    *service.UserService
	Tours    *service.TourService
	Bookings *service.BookingService
	Payments *service.PaymentService
	Reviews  *service.ReviewService
}

// HTTPServer exposes the booking API as JSON over HTTP.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	auth    Authenticator
	ready   []CheckFunc
	limiter *rateLimiter
	server  *http.Server
	logger  zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger, ready ...CheckFunc) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		svc:     svc,
		ready:   ready,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  zerolog.Nop(),
	}
	if svc.Users != nil {
		srv.auth = svc.Users
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv.routes(mux)

	handler := srv.withRequestContext(srv.recoverer(srv.rateLimit(srv.authenticate(mux))))

	timeout := cfg.HTTP.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      timeout + 5*time.Second,
	}

	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, h))
	}

	handle("GET /healthz", s.handleHealth)
	handle("GET /readyz", s.handleReady)

	handle("POST /api/auth/register", s.handleRegister)
	handle("POST /api/auth/login", s.handleLogin)
	handle("POST /api/auth/logout", s.handleLogout)
	handle("GET /api/auth/me", s.handleMe)
	handle("GET /api/users", s.handleListUsers)

	handle("GET /api/tours", s.handleListTours)
	handle("GET /api/tours/{id}", s.handleGetTour)
	handle("POST /api/tours", s.handleCreateTour)
	handle("PUT /api/tours/{id}", s.handleUpdateTour)

	handle("POST /api/bookings", s.handleCreateBooking)
	handle("GET /api/bookings", s.handleListMyBookings)
	handle("GET /api/bookings/all", s.handleListAllBookings)
	handle("GET /api/bookings/export", s.handleExportBookings)
	handle("GET /api/bookings/{id}", s.handleGetBooking)
	handle("PUT /api/bookings/{id}", s.handleUpdateBooking)
	handle("PATCH /api/bookings/{id}/cancel", s.handleCancelBooking)
	handle("GET /api/bookings/{id}/payment", s.handlePaymentSummary)
	handle("POST /api/bookings/{id}/payment", s.handlePay)

	handle("GET /api/reviews/{tourId}", s.handleListTourReviews)
	handle("POST /api/reviews", s.handleCreateTourReview)
	handle("GET /api/ratings", s.handleListRatings)
	handle("POST /api/ratings", s.handleCreateRating)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable", "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
