package api

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"tourbook/internal/auth"
	"tourbook/internal/domain"
	"tourbook/internal/logging"
	"tourbook/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const actorKey ctxKey = iota

const requestIDHeader = "X-Request-ID"

// actorFrom returns the authenticated caller, or nil for anonymous requests.
func actorFrom(ctx context.Context) *domain.Actor {
	actor, _ := ctx.Value(actorKey).(*domain.Actor)
	return actor
}

// withRequestContext attaches a request id, a request-scoped logger and the
// request deadline.
func (s *HTTPServer) withRequestContext(next http.Handler) http.Handler {
	timeout := s.cfg.HTTP.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := s.logger.With().Str("request_id", requestID).Logger()
		ctx := logging.WithRequestID(logger.WithContext(r.Context()), requestID)
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer token when one is sent. A bad token is
// rejected outright so clients learn their session is gone.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			writeDomainError(w, r, domain.Authf("malformed authorization header"))
			return
		}
		actor, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		logger := zerolog.Ctx(r.Context()).With().Str("user_id", actor.UserID).Logger()
		ctx := context.WithValue(logger.WithContext(r.Context()), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument logs and counts requests under their route pattern.
func instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		metrics.ObserveHTTP(route, strconv.Itoa(recorder.status), dur.Seconds())
		zerolog.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
