// Package distribution provides the lead distribution bounded context module.
// It owns the member pools of lead webhooks and the assignment algorithm.
package distribution

import (
	"time"

	"wacrm_backend/internal/distribution/handler"
	"wacrm_backend/internal/distribution/repository"
	"wacrm_backend/internal/distribution/service"
	"wacrm_backend/internal/events"
	apphttp "wacrm_backend/internal/http"
	"wacrm_backend/platform/config"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the distribution bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the distribution module.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator, cfg config.IngestConfig, log *logger.Logger) (*Module, error) {
	loc, err := time.LoadLocation(cfg.GetDefaultTimezone())
	if err != nil {
		return nil, err
	}

	repo := repository.New(pool, cfg.GetStoreTimeout(), loc)
	svc := service.New(repo, eventBus, log, cfg.GetStoreReadRetries())

	return &Module{
		handler: handler.New(svc, val, loc),
		service: svc,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "distribution"
}

// Service returns the allocator for the webhook module.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts pool management routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/lead-webhooks"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
