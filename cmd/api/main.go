package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"servicehub/internal/api"
	"servicehub/internal/booking"
	"servicehub/internal/config"
	"servicehub/internal/database"
	"servicehub/internal/domain"
	"servicehub/internal/events"
	"servicehub/internal/ledger"
	"servicehub/internal/logging"
	"servicehub/internal/metrics"
	"servicehub/internal/notify"
	"servicehub/internal/payout"
	"servicehub/internal/reconcile"
	"servicehub/internal/repository"
	"servicehub/internal/settlement"
	"servicehub/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := *logging.Component(&base, "api-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	refs := initReferenceData(db, redisClient, cfg, &logger)
	bus := events.NewEventBus(logging.Component(&base, "events"))

	notifyCfg := cfg.Notify
	if notifyCfg.Backend == notify.BackendRedis && redisClient == nil {
		logger.Warn().Msg("redis unavailable, event forwarding disabled")
		notifyCfg.Backend = notify.BackendNone
	}
	publisher, err := notify.New(notifyCfg, redisClient)
	if err != nil {
		return fmt.Errorf("init notify: %w", err)
	}
	if publisher != nil {
		defer func() { _ = publisher.Close() }()
		dispatcher := worker.NewDispatcher(publisher, redisClient, worker.RetryPolicyFromConfig(cfg.Notify.Retry), 0, logging.Component(&base, "notify"))
		dispatcher.Attach(bus)
		go dispatcher.Start(ctx)
		logger.Info().Str("backend", cfg.Notify.Backend).Msg("Event forwarding enabled")
	}

	location := cfg.Booking.Location()
	weekdays, err := cfg.Payout.Weekdays()
	if err != nil {
		return err
	}

	credits := ledger.New(db, location, logging.Component(&base, "ledger"))
	calc := payout.NewCalculator(payout.Policy{
		WeekendBonus:    cfg.Payout.WeekendBonus,
		BonusMode:       cfg.Payout.BonusMode,
		NonStandardDays: weekdays,
		Location:        location,
	})
	machine := booking.NewMachine(db, refs, credits, calc, bus, booking.Options{
		AcceptanceWindow:  cfg.Booking.AcceptanceWindow,
		MaxAdvanceDays:    cfg.Booking.MaxAdvanceDays,
		Location:          location,
		AutoDetectPackage: cfg.Booking.AutoDetectPackage,
		PackagePayouts:    cfg.Payout.PackagePayouts,
	}, logging.Component(&base, "booking"))
	engine := settlement.NewEngine(db, refs, bus, location, logging.Component(&base, "settlement"))
	reporter := reconcile.NewReporter(db, bus, cfg.Reconciliation.Tolerance, logging.Component(&base, "reconcile"))

	if cfg.Settlement.Enabled {
		scheduler := settlement.NewScheduler(engine, refs, cfg.Settlement.Schedule, location, logging.Component(&base, "scheduler"))
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start payout scheduler: %w", err)
		}
	}

	if db.Driver() == database.DriverSQLite {
		go database.NewBackupService(db, cfg.Backup, logging.Component(&base, "backup")).Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings:   machine,
		Ledger:     credits,
		Settlement: engine,
		Reports:    reporter,
		Health:     db,
	}, &base)

	return startServer(ctx, httpServer, &logger)
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
	return cfg, *baseLogger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return nil, err
	}

	rule := cfg.Settlement.DefaultRule
	if err := db.Seed(ctx, cfg.Services, cfg.Packages, &rule, time.Now()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed reference data: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initReferenceData(db *database.DB, redisClient *redis.Client, cfg *config.Config, logger *zerolog.Logger) domain.ReferenceData {
	if !cfg.Cache.Enabled {
		return db
	}

	memory := repository.NewMemoryReferenceCache(cfg.Cache.TTL)
	var cache domain.ReferenceCache = memory
	if redisClient != nil {
		primary := repository.NewRedisReferenceCache(redisClient, cfg.Cache.Prefix, cfg.Cache.TTL)
		cache = repository.NewFailoverReferenceCache(primary, memory, logger)
	}

	refs := repository.NewCachedReferenceData(db, cache, logger)
	if err := refs.Invalidate(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("reference cache invalidation failed")
	}
	return refs
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
