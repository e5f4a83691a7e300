package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"tourbook/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// BookingsHealthService is the service name health checks ask about. The empty
// service name reports the same status.
const BookingsHealthService = "tourbook.v1.Bookings"

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// GRPCServer serves the standard health protocol so orchestrators can check
// the booking backend without speaking HTTP.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	log      zerolog.Logger
}

type GRPCOption func(*grpcOptions)

type grpcOptions struct {
	limiter *rateLimiter
}

// ShareLimiter makes the gRPC server draw from the HTTP server's token
// buckets, so a client cannot double its budget by switching protocols.
func ShareLimiter(h *HTTPServer) GRPCOption {
	return func(o *grpcOptions) {
		if h != nil {
			o.limiter = h.limiter
		}
	}
}

func NewGRPCServer(cfg config.APIConfig, logger *zerolog.Logger, opts ...GRPCOption) (*GRPCServer, error) {
	var o grpcOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.limiter == nil {
		o.limiter = newRateLimiter(cfg.RateLimit)
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "grpc").Logger()
	}

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(recoverPanics(log), accessLog(log), throttle(o.limiter)),
	}
	if cfg.GRPC.TLS.Enabled {
		tlsCfg, err := loadTLS(cfg.GRPC.TLS)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	s := &GRPCServer{
		server:   grpc.NewServer(serverOpts...),
		health:   health.NewServer(),
		listener: lis,
		log:      log,
	}
	s.SetServing(false)
	healthpb.RegisterHealthServer(s.server, s.health)
	if cfg.GRPC.Reflection {
		reflection.Register(s.server)
	}
	return s, nil
}

func loadTLS(cfg config.APITLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("grpc tls enabled but cert_file/key_file not set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load grpc tls keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(BookingsHealthService, st)
}

// WatchHealth runs checks every interval until ctx is done. The service is
// serving only while every check passes; transitions are logged once.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration, checks ...CheckFunc) {
	var serving *bool
	runChecks := func() {
		ok := true
		for _, check := range checks {
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			err := check(checkCtx)
			cancel()
			if err != nil {
				if serving == nil || *serving {
					s.log.Warn().Err(err).Msg("health check failed")
				}
				ok = false
				break
			}
		}
		if serving != nil && !*serving && ok {
			s.log.Info().Msg("health restored")
		}
		serving = &ok
		s.SetServing(ok)
	}

	runChecks()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runChecks()
		}
	}
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC health endpoint listening")
	return s.server.Serve(s.listener)
}

// Shutdown reports NOT_SERVING to watchers, then drains in-flight calls until
// ctx expires.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
