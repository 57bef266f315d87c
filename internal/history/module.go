package history

import (
	apphttp "wacrm_backend/internal/http"
	"wacrm_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the history read model implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates the history module.
func NewModule(pool *pgxpool.Pool, cfg config.StoreConfig) *Module {
	repo := NewRepository(pool, cfg.GetStoreTimeout())
	return &Module{handler: NewHandler(NewService(repo, cfg.GetStoreReadRetries()))}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "history"
}

// RegisterRoutes mounts leaderboard, stats and audit trails.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterScoreRoutes(ctx.Protected.Group("/lead-scores"))
	m.handler.RegisterWebhookRoutes(ctx.Protected.Group("/lead-webhooks"))
}

var _ apphttp.Module = (*Module)(nil)
