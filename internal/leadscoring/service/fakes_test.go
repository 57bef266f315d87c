package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"wacrm_backend/internal/events"
	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/internal/leadscoring/repository"
	"wacrm_backend/platform/apperr"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu sync.Mutex

	configs         map[uuid.UUID]domain.ScoreConfig
	getConfigCalls  int
	saveConfigCalls int

	deals       map[uuid.UUID][]uuid.UUID
	signals     map[uuid.UUID]domain.Signals
	signalErrs  map[uuid.UUID][]error
	onSignals   func(dealID uuid.UUID)
	scores      map[uuid.UUID]repository.LeadScore
	history     map[uuid.UUID][]domain.Score
	commitCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		configs:    map[uuid.UUID]domain.ScoreConfig{},
		deals:      map[uuid.UUID][]uuid.UUID{},
		signals:    map[uuid.UUID]domain.Signals{},
		signalErrs: map[uuid.UUID][]error{},
		scores:     map[uuid.UUID]repository.LeadScore{},
		history:    map[uuid.UUID][]domain.Score{},
	}
}

func (f *fakeStore) addDeal(tenantID uuid.UUID, sig domain.Signals) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.deals[tenantID] = append(f.deals[tenantID], id)
	f.signals[id] = sig
	return id
}

func (f *fakeStore) GetConfig(_ context.Context, organizationID uuid.UUID) (domain.ScoreConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getConfigCalls++
	if cfg, ok := f.configs[organizationID]; ok {
		return cfg, nil
	}
	return domain.DefaultConfig(organizationID), nil
}

func (f *fakeStore) SaveConfig(_ context.Context, cfg domain.ScoreConfig) (domain.ScoreConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveConfigCalls++
	f.configs[cfg.OrganizationID] = cfg
	return cfg, nil
}

func (f *fakeStore) DealExists(_ context.Context, organizationID, dealID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.deals[organizationID] {
		if id == dealID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) LoadSignals(_ context.Context, _, dealID uuid.UUID) (domain.Signals, error) {
	if f.onSignals != nil {
		f.onSignals(dealID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.signalErrs[dealID]; len(errs) > 0 {
		f.signalErrs[dealID] = errs[1:]
		return domain.Signals{}, errs[0]
	}
	sig, ok := f.signals[dealID]
	if !ok {
		return domain.Signals{}, apperr.NotFound("deal not found")
	}
	return sig, nil
}

func (f *fakeStore) CommitScore(_ context.Context, organizationID, dealID uuid.UUID, trigger, _ string, compute repository.ComputeFunc) (repository.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++

	var commit repository.Commit
	var previous *int
	if current, ok := f.scores[dealID]; ok {
		p, l := current.Score, current.Label
		previous, commit.PreviousLabel = &p, &l
	}

	score := compute(previous)
	f.history[dealID] = append(f.history[dealID], score)
	commit.Current = repository.LeadScore{
		DealID:         dealID,
		OrganizationID: organizationID,
		Score:          score.Score,
		Label:          score.Label,
		SubScores:      score.SubScores,
		PreviousScore:  score.PreviousScore,
		Trend:          score.Trend,
		TotalMessages:  score.TotalMessages,
		LastTrigger:    trigger,
		CalculatedAt:   score.CalculatedAt,
		UpdatedAt:      score.CalculatedAt,
	}
	f.scores[dealID] = commit.Current
	return commit, nil
}

func (f *fakeStore) GetScore(_ context.Context, _, dealID uuid.UUID) (repository.LeadScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[dealID]
	if !ok {
		return repository.LeadScore{}, apperr.NotFound("lead score not found")
	}
	return s, nil
}

func (f *fakeStore) ListActiveDealIDs(_ context.Context, organizationID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.deals[organizationID]...), nil
}

func (f *fakeStore) ListStaleDealIDs(_ context.Context, organizationID uuid.UUID, intervalHours int, now time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := now.Add(-time.Duration(intervalHours) * time.Hour)
	var ids []uuid.UUID
	for _, id := range f.deals[organizationID] {
		s, ok := f.scores[id]
		if !ok || !s.CalculatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListOrganizationIDs(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.deals))
	for id := range f.deals {
		ids = append(ids, id)
	}
	return ids, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) hotChanges() []events.LeadScoreHotChanged {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.LeadScoreHotChanged
	for _, e := range b.events {
		if hc, ok := e.(events.LeadScoreHotChanged); ok {
			out = append(out, hc)
		}
	}
	return out
}

type fakeEnqueuer struct {
	err   error
	calls int
}

func (e *fakeEnqueuer) EnqueueDealRecalculation(context.Context, uuid.UUID, uuid.UUID, string) error {
	e.calls++
	return e.err
}

var errSignalsUnavailable = errors.New("conversation service unreachable")

func freshScore(dealID, tenantID uuid.UUID, at time.Time) repository.LeadScore {
	return repository.LeadScore{
		DealID:         dealID,
		OrganizationID: tenantID,
		Score:          10,
		Label:          domain.LabelCold,
		Trend:          domain.TrendStable,
		CalculatedAt:   at,
		UpdatedAt:      at,
	}
}
