// Package leadscoring provides the lead scoring bounded context module.
// This file defines the module that wires the scoring engine, its store and routes.
package leadscoring

import (
	"context"

	"wacrm_backend/internal/events"
	apphttp "wacrm_backend/internal/http"
	"wacrm_backend/internal/leadscoring/handler"
	"wacrm_backend/internal/leadscoring/repository"
	"wacrm_backend/internal/leadscoring/service"
	"wacrm_backend/platform/config"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the lead scoring bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

// NewModule creates the scoring module. rdb and enqueuer are optional.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator, cfg config.ScoringConfig, rdb *redis.Client, enqueuer service.Enqueuer, log *logger.Logger) *Module {
	repo := repository.New(pool, cfg.GetStoreTimeout())

	opts := []service.Option{
		service.WithConfigCache(service.NewConfigCache(rdb, cfg.GetScoreConfigCacheTTL(), log)),
		service.WithWorkers(cfg.GetRecalculateWorkers()),
		service.WithReadRetries(cfg.GetStoreReadRetries()),
	}
	if enqueuer != nil {
		opts = append(opts, service.WithEnqueuer(enqueuer))
	}
	svc := service.New(repo, eventBus, log, opts...)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}
}

// RegisterHandlers subscribes the module to domain events.
func (m *Module) RegisterHandlers(eventBus events.Bus, log *logger.Logger) {
	// Score every newly captured lead so it shows up on the leaderboard right away.
	eventBus.Subscribe(events.LeadIngested{}.EventName(), events.On(func(ctx context.Context, e events.LeadIngested) error {
		if e.Duplicate {
			return nil
		}
		if _, err := m.service.Recalculate(ctx, e.TenantID, e.DealID, service.TriggerIngest, service.ActorSystem); err != nil {
			log.Error("initial lead score failed", "error", err, "dealId", e.DealID)
			return err
		}
		return nil
	}))
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leadscoring"
}

// Service returns the scoring service for the scheduler and CLI.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the scoring store, used by the insights generator.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// RegisterRoutes mounts lead scoring routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/lead-scores"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
