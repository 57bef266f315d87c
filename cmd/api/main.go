package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wacrm_backend/internal/distribution"
	"wacrm_backend/internal/events"
	"wacrm_backend/internal/history"
	apphttp "wacrm_backend/internal/http"
	"wacrm_backend/internal/http/router"
	"wacrm_backend/internal/insights"
	"wacrm_backend/internal/leadscoring"
	leadscoringservice "wacrm_backend/internal/leadscoring/service"
	"wacrm_backend/internal/notification"
	"wacrm_backend/internal/notification/broker"
	"wacrm_backend/internal/notification/sse"
	"wacrm_backend/internal/scheduler"
	"wacrm_backend/internal/webhook"
	"wacrm_backend/platform/config"
	"wacrm_backend/platform/db"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, pool)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	rdb := initRedis(ctx, cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	enqueuer, closeEnqueuer := initEnqueuer(cfg, log)
	if closeEnqueuer != nil {
		defer closeEnqueuer()
	}

	publisher := broker.FromConfig(ctx, cfg, log)
	defer func() { _ = publisher.Close() }()

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	leadScoringModule := leadscoring.NewModule(pool, eventBus, val, cfg, rdb, enqueuer, log)
	leadScoringModule.RegisterHandlers(eventBus, log)

	distributionModule, err := distribution.NewModule(pool, eventBus, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize distribution module", "error", err)
		panic("failed to initialize distribution module: " + err.Error())
	}

	webhookModule := webhook.NewModule(pool, distributionModule.Service(), eventBus, val, cfg, log)
	historyModule := history.NewModule(pool, cfg)

	// Notification module forwards hot leads and assignments to the broker and SSE clients
	stream := sse.New(log)
	defer stream.Close()
	notificationModule := notification.New(publisher, stream, log)
	notificationModule.RegisterHandlers(eventBus)

	if insightsModule := insights.FromConfig(cfg, leadScoringModule.Repository(), log); insightsModule != nil {
		insightsModule.RegisterHandlers(eventBus)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	checks := map[string]apphttp.HealthChecker{"database": db.NewPoolAdapter(pool)}
	if rdb != nil {
		checks["redis"] = apphttp.HealthFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Checks: checks,
		Modules: []apphttp.Module{
			leadScoringModule,
			distributionModule,
			webhookModule,
			historyModule,
			notificationModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stream.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initRedis returns nil when REDIS_URL is unset or unreachable; the score
// config cache is then skipped.
func initRedis(ctx context.Context, cfg config.SchedulerConfig, log *logger.Logger) *redis.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; score config cache and background recalculation disabled")
		return nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("invalid REDIS_URL", "error", err)
		return nil
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable; score config cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// initEnqueuer returns a nil interface (not a typed nil) when the queue is
// unavailable, so the scoring service recalculates inline.
func initEnqueuer(cfg config.SchedulerConfig, log *logger.Logger) (leadscoringservice.Enqueuer, func()) {
	if cfg.GetRedisURL() == "" {
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
