// Package service orchestrates lead score recalculation: it loads configuration and
// signals, runs the pure engine and commits the result under a per-deal lock.
package service

import (
	"context"
	"time"

	"wacrm_backend/internal/events"
	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/internal/leadscoring/repository"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/metrics"
	"wacrm_backend/platform/retry"

	"github.com/google/uuid"
)

// Recalculation triggers recorded on the score and its history rows.
const (
	TriggerManual      = "manual"
	TriggerMessage     = "message_received"
	TriggerStageChange = "stage_changed"
	TriggerInterval    = "interval"
	TriggerIngest      = "lead_ingested"
	TriggerBulk        = "bulk"
)

// ActorSystem is recorded when no user triggered the computation.
const ActorSystem = "system"

// Store is the persistence the service depends on.
type Store interface {
	GetConfig(ctx context.Context, organizationID uuid.UUID) (domain.ScoreConfig, error)
	SaveConfig(ctx context.Context, cfg domain.ScoreConfig) (domain.ScoreConfig, error)
	DealExists(ctx context.Context, organizationID, dealID uuid.UUID) (bool, error)
	LoadSignals(ctx context.Context, organizationID, dealID uuid.UUID) (domain.Signals, error)
	CommitScore(ctx context.Context, organizationID, dealID uuid.UUID, trigger, actor string, compute repository.ComputeFunc) (repository.Commit, error)
	GetScore(ctx context.Context, organizationID, dealID uuid.UUID) (repository.LeadScore, error)
	ListActiveDealIDs(ctx context.Context, organizationID uuid.UUID) ([]uuid.UUID, error)
	ListStaleDealIDs(ctx context.Context, organizationID uuid.UUID, intervalHours int, now time.Time) ([]uuid.UUID, error)
	ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Enqueuer hands a recalculation to the background worker.
type Enqueuer interface {
	EnqueueDealRecalculation(ctx context.Context, organizationID, dealID uuid.UUID, trigger string) error
}

// Service recalculates and serves lead scores.
type Service struct {
	store    Store
	cache    *ConfigCache
	bus      events.Bus
	enqueuer Enqueuer
	log      *logger.Logger
	retry    retry.Policy
	workers  int
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithConfigCache enables the per-tenant configuration cache.
func WithConfigCache(cache *ConfigCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithEnqueuer makes event triggers asynchronous.
func WithEnqueuer(enqueuer Enqueuer) Option {
	return func(s *Service) { s.enqueuer = enqueuer }
}

// WithWorkers bounds bulk recalculation parallelism.
func WithWorkers(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithReadRetries sets how many times store reads are attempted.
func WithReadRetries(attempts int) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.retry.Attempts = attempts
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the scoring service.
func New(store Store, bus events.Bus, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		bus:     bus,
		log:     log,
		retry:   retry.DefaultPolicy,
		workers: 4,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recalculate computes and commits the score of one deal.
func (s *Service) Recalculate(ctx context.Context, tenantID, dealID uuid.UUID, trigger, actor string) (repository.LeadScore, error) {
	start := time.Now()
	score, err := s.recalculate(ctx, tenantID, dealID, trigger, actor)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ScoreRecalculations.WithLabelValues(trigger, result).Inc()
	metrics.ScoreRecalculateDuration.Observe(time.Since(start).Seconds())

	return score, err
}

func (s *Service) recalculate(ctx context.Context, tenantID, dealID uuid.UUID, trigger, actor string) (repository.LeadScore, error) {
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return repository.LeadScore{}, err
	}

	signals, err := retry.Do(ctx, s.retry, func(ctx context.Context) (domain.Signals, error) {
		return s.store.LoadSignals(ctx, tenantID, dealID)
	})
	if err != nil {
		return repository.LeadScore{}, err
	}

	now := s.now()
	commit, err := s.store.CommitScore(ctx, tenantID, dealID, trigger, actor, func(previous *int) domain.Score {
		return domain.ComputeScore(signals, cfg, previous, now)
	})
	if err != nil {
		return repository.LeadScore{}, err
	}

	current := commit.Current
	s.log.WithContext(ctx).ScoreComputed(tenantID, dealID, current.Score, string(current.Label), string(current.Trend), trigger)
	s.publish(ctx, commit, trigger)

	return current, nil
}

func (s *Service) publish(ctx context.Context, commit repository.Commit, trigger string) {
	if s.bus == nil {
		return
	}
	current := commit.Current

	s.bus.Publish(ctx, events.LeadScoreRecalculated{
		BaseEvent:    events.NewBaseEvent(),
		TenantID:     current.OrganizationID,
		DealID:       current.DealID,
		Score:        current.Score,
		Label:        string(current.Label),
		Trend:        string(current.Trend),
		Trigger:      trigger,
		CalculatedAt: current.CalculatedAt,
	})

	wasHot := commit.PreviousLabel != nil && *commit.PreviousLabel == domain.LabelHot
	isHot := current.Label == domain.LabelHot
	if wasHot == isHot {
		return
	}

	event := events.LeadScoreHotChanged{
		BaseEvent:     events.NewBaseEvent(),
		TenantID:      current.OrganizationID,
		DealID:        current.DealID,
		Score:         current.Score,
		PreviousScore: current.PreviousScore,
		Label:         string(current.Label),
		BecameHot:     isHot,
		Trigger:       trigger,
	}
	if commit.PreviousLabel != nil {
		event.PreviousLabel = string(*commit.PreviousLabel)
	}
	s.bus.Publish(ctx, event)
}

// GetScore returns the current score of a deal.
func (s *Service) GetScore(ctx context.Context, tenantID, dealID uuid.UUID) (repository.LeadScore, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) (repository.LeadScore, error) {
		return s.store.GetScore(ctx, tenantID, dealID)
	})
}
