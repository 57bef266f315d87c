package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

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

	"github.com/google/uuid"
)

const actorCLI = "cli"

func main() {
	os.Exit(run())
}

func run() int {
	tenantFlag := flag.String("tenant", "", "organization id whose open deals are recalculated")
	async := flag.Bool("async", false, "queue the batch on the scheduler instead of running it here")
	quiet := flag.Bool("quiet", false, "suppress per-deal logging")
	flag.Parse()

	tenantID, err := uuid.Parse(*tenantFlag)
	if err != nil {
		panic("invalid -tenant: " + err.Error())
	}

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	if *quiet {
		log = logger.Discard()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *async {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer func() { _ = client.Close() }()

		if err := client.EnqueueRecalculateAll(ctx, tenantID, actorCLI); err != nil {
			panic("failed to enqueue recalculation: " + err.Error())
		}
		log.Info("lead score recalculation queued", "tenantId", tenantID)
		return 0
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	// Hot transitions committed here are forwarded like the worker's. The publisher
	// outlives the bus so in-flight notifications are delivered.
	publisher := broker.FromConfig(ctx, cfg, log)
	defer func() { _ = publisher.Close() }()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	notification.New(publisher, sse.New(log), log).RegisterHandlers(eventBus)

	module := leadscoring.NewModule(pool, eventBus, validator.New(), cfg, nil, nil, log)
	if insightsModule := insights.FromConfig(cfg, module.Repository(), log); insightsModule != nil {
		insightsModule.RegisterHandlers(eventBus)
	}
	result, err := module.Service().RecalculateAll(ctx, tenantID, actorCLI)
	if err != nil {
		log.Error("lead score recalculation failed", "tenantId", tenantID, "error", err)
		return 1
	}

	log.Info("lead score recalculation finished",
		"tenantId", tenantID,
		"total", result.Total,
		"updated", result.Updated,
		"failed", result.Failed,
		"canceled", result.Canceled,
	)
	for _, failure := range result.Failures {
		log.Warn("deal not recalculated", "dealId", failure.DealID, "error", failure.Error)
	}
	if result.Failed > 0 {
		return 1
	}
	return 0
}
