package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tourbook/internal/api"
	"tourbook/internal/auth"
	"tourbook/internal/bot"
	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/google"
	"tourbook/internal/logging"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/repository"
	"tourbook/internal/service"
	"tourbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tours, err := loadTours(cfg.ToursFile, &logger)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewEventBus(&logger)
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		forwarder := events.NewKafkaForwarder(cfg.Kafka.Brokers, cfg.Kafka.Topic, &logger)
		forwarder.Attach(bus)
		defer forwarder.Close()
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka forwarding enabled")
	}

	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	var syncWorker domain.SyncWorker
	if sheetsService := initGoogleSheets(ctx, cfg, &logger); sheetsService != nil {
		if cfg.Google.ResyncOnStart {
			if err := resyncSheet(ctx, db, sheetsService); err != nil {
				logger.Warn().Err(err).Msg("rewrite bookings sheet")
			}
		}
		w := worker.NewSheetsWorker(db, sheetsService, redisClient, worker.RetryPolicy{Jitter: 0.2}, &logger)
		w.SetRetention(cfg.Google.SyncRetention)
		syncWorker = w
		// failed or interrupted tasks from a previous run get another chance
		if replayed, err := w.ReplayFailed(ctx); err != nil {
			logger.Warn().Err(err).Msg("replay failed sheets tasks")
		} else if replayed > 0 {
			logger.Info().Int("tasks", replayed).Msg("failed sheets tasks requeued")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}

	svc, err := buildServices(ctx, cfg, db, redisClient, bus, syncWorker, tours, &logger)
	if err != nil {
		return err
	}

	if notifier := initTelegram(cfg, &logger); notifier != nil {
		notifier.Subscribe(bus)
		wg.Add(2)
		go func() {
			defer wg.Done()
			notifier.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := notifier.StartReminders(ctx, db, cfg.Telegram.ReminderTime, cfg.Location()); err != nil {
				logger.Error().Err(err).Msg("telegram reminders stopped")
			}
		}()
	}

	backup := database.NewBackupService(db, cfg.Backup, &logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		backup.Start(ctx)
	}()

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, svc, &logger, db.Health)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, &logger, api.ShareLimiter(httpServer))
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.WatchHealth(ctx, 15*time.Second, db.Health)
	}

	return startServers(ctx, grpcServer, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadTours(path string, logger *zerolog.Logger) ([]models.Tour, error) {
	if envPath := os.Getenv("TOURS_PATH"); envPath != "" {
		path = envPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("tours_path", path).Msg("read tours")
		return nil, err
	}

	var toursConfig struct {
		Tours []models.Tour `yaml:"tours"`
	}
	if err := yaml.Unmarshal(data, &toursConfig); err != nil {
		logger.Error().Err(err).Str("tours_path", path).Msg("parse tours")
		return nil, err
	}
	if err := config.ValidateTours(toursConfig.Tours); err != nil {
		return nil, fmt.Errorf("tours file %s: %w", path, err)
	}
	return toursConfig.Tours, nil
}

func buildServices(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	bus *events.EventBus,
	syncWorker domain.SyncWorker,
	seed []models.Tour,
	logger *zerolog.Logger,
) (api.Services, error) {
	tours := service.NewTourService(db, logger)
	if err := tours.Seed(ctx, seed); err != nil {
		logger.Error().Err(err).Msg("seed tours")
		return api.Services{}, err
	}

	var sessions domain.SessionRepository = repository.NewMemorySessionRepository(cfg.Auth.TokenTTL)
	if redisClient != nil {
		sessions = repository.NewFailoverSessionRepository(
			repository.NewRedisSessionRepository(redisClient, cfg.Auth.TokenTTL),
			sessions,
			logger,
		)
	}

	bookings := service.NewBookingService(db, tours, bus, syncWorker, cfg.Booking.MaxPeople, logger)
	bookings.SetLocation(cfg.Location())

	return api.Services{
		Users:    service.NewUserService(db, sessions, auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg, logger),
		Tours:    tours,
		Bookings: bookings,
		Payments: service.NewPaymentService(bookings, db, bus, syncWorker, cfg.Payment, logger),
		Reviews:  service.NewReviewService(db, tours, bus, logger),
	}, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	redisClient := repository.NewRedisClient(cfg.Redis)
	if redisClient == nil {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.CredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.BookingSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheetsService.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

// resyncSheet overwrites the bookings sheet with the database contents.
func resyncSheet(ctx context.Context, db *database.DB, sheetsService *google.SheetsService) error {
	bookings, err := db.ListBookings(ctx, models.BookingFilter{})
	if err != nil {
		return err
	}
	return sheetsService.ReplaceBookings(ctx, bookings)
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) *bot.Notifier {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.ChatIDs) == 0 {
		return nil
	}

	wrapper, err := bot.NewBotWrapper(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return nil
	}

	logger.Info().Str("bot", wrapper.Username()).Int("chats", len(cfg.Telegram.ChatIDs)).Msg("telegram notifications enabled")
	return bot.NewNotifier(wrapper, cfg.Telegram.ChatIDs, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
