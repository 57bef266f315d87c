package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wacrm_backend/internal/events"
	"wacrm_backend/internal/insights"
	"wacrm_backend/internal/leadscoring"
	"wacrm_backend/internal/notification"
	"wacrm_backend/internal/notification/broker"
	"wacrm_backend/internal/notification/sse"
	"wacrm_backend/internal/scheduler"
	"wacrm_backend/platform/config"
	"wacrm_backend/platform/db"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "staleScanCron", cfg.GetStaleScanCron())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Hot transitions computed by the worker must still reach the external dispatcher.
	// The publisher is closed only after the bus has drained.
	publisher := broker.FromConfig(ctx, cfg, log)
	defer func() { _ = publisher.Close() }()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	notificationModule := notification.New(publisher, sse.New(log), log)
	notificationModule.RegisterHandlers(eventBus)

	// The worker recalculates inline, so no enqueuer is wired here.
	leadScoringModule := leadscoring.NewModule(pool, eventBus, validator.New(), cfg, nil, nil, log)

	if insightsModule := insights.FromConfig(cfg, leadScoringModule.Repository(), log); insightsModule != nil {
		insightsModule.RegisterHandlers(eventBus)
	}

	worker, err := scheduler.NewWorker(cfg, leadScoringModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
