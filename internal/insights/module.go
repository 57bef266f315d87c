package insights

import (
	"context"
	"time"

	"wacrm_backend/internal/events"
	"wacrm_backend/internal/leadscoring/repository"
	"wacrm_backend/platform/ai/moonshot"
	"wacrm_backend/platform/config"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
)

const generateTimeout = 45 * time.Second

// ScoreStore reads and annotates current scores.
type ScoreStore interface {
	GetScore(ctx context.Context, organizationID, dealID uuid.UUID) (repository.LeadScore, error)
	SetInsights(ctx context.Context, organizationID, dealID uuid.UUID, summary, recommendation string) error
}

// Module generates insights for deals that become hot.
type Module struct {
	generator *Generator
	store     ScoreStore
	log       *logger.Logger
}

// New creates the insights module.
func New(generator *Generator, store ScoreStore, log *logger.Logger) *Module {
	return &Module{generator: generator, store: store, log: log}
}

// FromConfig builds the module on the Moonshot model, or returns nil when no API
// key is configured.
func FromConfig(cfg config.AIConfig, store ScoreStore, log *logger.Logger) *Module {
	if !cfg.IsInsightsEnabled() {
		return nil
	}
	llm := moonshot.NewModel(moonshot.Config{
		APIKey:          cfg.GetMoonshotAPIKey(),
		Model:           cfg.GetMoonshotModel(),
		DisableThinking: true,
		JSONResponse:    true,
	})
	log.Info("lead score insights enabled", "model", llm.Name())
	return New(NewGenerator(llm), store, log)
}

// RegisterHandlers subscribes to hot transitions.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadScoreHotChanged{}.EventName(), m)
}

// Handle implements events.Handler. Errors are logged and never returned, so a
// failing model never affects the scoring path.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadScoreHotChanged)
	if !ok || !e.BecameHot {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
	defer cancel()

	log := m.log.WithContext(ctx)
	score, err := m.store.GetScore(ctx, e.TenantID, e.DealID)
	if err != nil {
		log.Warn("insights: load score failed", "error", err, "dealId", e.DealID)
		return nil
	}

	insight, err := m.generator.Generate(ctx, score)
	if err != nil {
		log.Warn("insights: generation failed", "error", err, "dealId", e.DealID)
		return nil
	}

	if err := m.store.SetInsights(ctx, e.TenantID, e.DealID, insight.Summary, insight.Recommendation); err != nil {
		log.Warn("insights: save failed", "error", err, "dealId", e.DealID)
		return nil
	}
	log.Info("insights: stored", "dealId", e.DealID, "score", score.Score)
	return nil
}

var _ events.Handler = (*Module)(nil)
