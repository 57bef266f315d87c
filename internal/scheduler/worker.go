package scheduler

import (
	"context"
	"fmt"
	"time"

	"wacrm_backend/internal/leadscoring/repository"
	"wacrm_backend/internal/leadscoring/service"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/config"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Recalculator is the scoring service surface the worker drives.
type Recalculator interface {
	Recalculate(ctx context.Context, tenantID, dealID uuid.UUID, trigger, actor string) (repository.LeadScore, error)
	RecalculateAll(ctx context.Context, tenantID uuid.UUID, actor string) (service.BatchResult, error)
	RecalculateStaleAllTenants(ctx context.Context) (service.BatchResult, error)
}

type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	scores    Recalculator
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, scores Recalculator, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := queueName(cfg)
	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		scores: scores,
		log:    log,
	}
	w.mux.HandleFunc(TaskRecalculateDeal, w.handleRecalculateDeal)
	w.mux.HandleFunc(TaskRecalculateAll, w.handleRecalculateAll)
	w.mux.HandleFunc(TaskRecalculateStale, w.handleRecalculateStale)

	if cron := cfg.GetStaleScanCron(); cron != "" {
		w.scheduler = asynq.NewScheduler(opt, nil)
		if _, err := w.scheduler.Register(cron, NewRecalculateStaleTask(), asynq.Queue(queue), asynq.Unique(time.Hour)); err != nil {
			return nil, fmt.Errorf("register stale scan %q: %w", cron, err)
		}
	}

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.log.Error("stale scan scheduler failed to start", "error", err)
		}
	}

	go func() {
		<-ctx.Done()
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleRecalculateDeal(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRecalculateDealPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	_, err = w.scores.Recalculate(ctx, payload.OrganizationID, payload.DealID, payload.Trigger, service.ActorSystem)
	if apperr.Is(err, apperr.KindNotFound) {
		// Deal deleted or moved to another tenant since the task was queued.
		w.log.Info("lead score task skipped", "dealId", payload.DealID, "reason", err.Error())
		return nil
	}
	return err
}

func (w *Worker) handleRecalculateAll(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRecalculateAllPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	actor := payload.Actor
	if actor == "" {
		actor = service.ActorSystem
	}
	result, err := w.scores.RecalculateAll(ctx, payload.OrganizationID, actor)
	if err != nil {
		return err
	}
	w.log.Info("lead score bulk recalculation finished",
		"tenantId", payload.OrganizationID, "total", result.Total, "updated", result.Updated, "failed", result.Failed)
	return nil
}

func (w *Worker) handleRecalculateStale(ctx context.Context, _ *asynq.Task) error {
	result, err := w.scores.RecalculateStaleAllTenants(ctx)
	if err != nil {
		return err
	}
	w.log.Info("stale lead score scan finished", "total", result.Total, "updated", result.Updated, "failed", result.Failed)
	return nil
}
