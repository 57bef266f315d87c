package service

import (
	"context"

	"wacrm_backend/internal/leadscoring/repository"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/metrics"
	"wacrm_backend/platform/retry"

	"github.com/google/uuid"
)

// TriggerStatus says what an event trigger did.
type TriggerStatus string

const (
	TriggerRecalculated TriggerStatus = "recalculated"
	TriggerQueued       TriggerStatus = "queued"
	TriggerSkipped      TriggerStatus = "skipped"
)

// TriggerOutcome is returned by the event triggers. Score is set only when the
// recalculation ran inline.
type TriggerOutcome struct {
	Status TriggerStatus
	Score  *repository.LeadScore
}

// OnMessageReceived recalculates when the tenant enabled auto_update_on_message.
func (s *Service) OnMessageReceived(ctx context.Context, tenantID, dealID uuid.UUID) (TriggerOutcome, error) {
	if err := s.requireDeal(ctx, tenantID, dealID); err != nil {
		return TriggerOutcome{}, err
	}
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return TriggerOutcome{}, err
	}
	if !cfg.AutoUpdateOnMessage {
		metrics.ScoreRecalculations.WithLabelValues(TriggerMessage, "skipped").Inc()
		return TriggerOutcome{Status: TriggerSkipped}, nil
	}
	return s.dispatch(ctx, tenantID, dealID, TriggerMessage)
}

// OnStageChanged recalculates when the tenant enabled auto_update_on_stage_change.
func (s *Service) OnStageChanged(ctx context.Context, tenantID, dealID uuid.UUID) (TriggerOutcome, error) {
	if err := s.requireDeal(ctx, tenantID, dealID); err != nil {
		return TriggerOutcome{}, err
	}
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return TriggerOutcome{}, err
	}
	if !cfg.AutoUpdateOnStageChange {
		metrics.ScoreRecalculations.WithLabelValues(TriggerStageChange, "skipped").Inc()
		return TriggerOutcome{Status: TriggerSkipped}, nil
	}
	return s.dispatch(ctx, tenantID, dealID, TriggerStageChange)
}

// requireDeal fails with NotFound unless the deal belongs to the tenant, so queued
// and inline triggers answer the same way for unknown deals.
func (s *Service) requireDeal(ctx context.Context, tenantID, dealID uuid.UUID) error {
	exists, err := retry.Do(ctx, s.retry, func(ctx context.Context) (bool, error) {
		return s.store.DealExists(ctx, tenantID, dealID)
	})
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("deal not found")
	}
	return nil
}

// dispatch queues the recalculation when a worker is available and falls back to
// running it inline when enqueueing fails.
func (s *Service) dispatch(ctx context.Context, tenantID, dealID uuid.UUID, trigger string) (TriggerOutcome, error) {
	if s.enqueuer != nil {
		err := s.enqueuer.EnqueueDealRecalculation(ctx, tenantID, dealID, trigger)
		if err == nil {
			return TriggerOutcome{Status: TriggerQueued}, nil
		}
		s.log.WithContext(ctx).Warn("enqueue lead score recalculation failed, running inline", "dealId", dealID, "error", err)
	}

	score, err := s.Recalculate(ctx, tenantID, dealID, trigger, ActorSystem)
	if err != nil {
		return TriggerOutcome{}, err
	}
	return TriggerOutcome{Status: TriggerRecalculated, Score: &score}, nil
}
