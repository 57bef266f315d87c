// Package webhook provides the inbound lead webhook bounded context module.
// This file defines the module that encapsulates all webhook setup and route registration.
package webhook

import (
	"wacrm_backend/internal/events"
	apphttp "wacrm_backend/internal/http"
	"wacrm_backend/platform/config"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
}

// NewModule creates and initializes the webhook module with all its dependencies.
// assigner may be nil, in which case distribution is never attempted.
func NewModule(pool *pgxpool.Pool, assigner Assigner, eventBus events.Bus, val *validator.Validator, cfg config.IngestConfig, log *logger.Logger) *Module {
	repo := NewRepository(pool, cfg.GetStoreTimeout())
	service := NewService(repo, assigner, eventBus, log, cfg.GetPhoneDefaultRegion(), cfg.GetStoreReadRetries())

	return &Module{
		handler: NewHandler(service, val),
		service: service,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// Service returns the ingestion service.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public ingestion endpoint (token auth, no JWT)
	public := ctx.V1.Group("/webhook/leads")
	if ctx.WebhookRateLimiter != nil {
		public.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	public.POST("", TokenMiddleware(), m.handler.HandleIngestLead)
	public.POST("/:token", TokenMiddleware(), m.handler.HandleIngestLead)

	// Webhook management (JWT auth + tenant)
	hooks := ctx.Protected.Group("/lead-webhooks")
	hooks.POST("", m.handler.HandleCreateWebhook)
	hooks.GET("", m.handler.HandleListWebhooks)
	hooks.GET("/:id", m.handler.HandleGetWebhook)
	hooks.PUT("/:id", m.handler.HandleUpdateWebhook)
	hooks.DELETE("/:id", m.handler.HandleDeleteWebhook)
	hooks.POST("/:id/rotate-token", m.handler.HandleRotateToken)
	hooks.GET("/:id/logs", m.handler.HandleListLogs)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
