package service

import (
	"context"
	"sync"

	"wacrm_backend/platform/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DealFailure records why one deal of a batch was not updated.
type DealFailure struct {
	DealID uuid.UUID `json:"dealId"`
	Error  string    `json:"error"`
}

// BatchResult summarises a bulk recalculation. Deals not started because the
// context was cancelled count as neither updated nor failed.
type BatchResult struct {
	Total    int           `json:"total"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Failures []DealFailure `json:"failures"`
	Canceled bool          `json:"canceled"`
}

func (r *BatchResult) merge(other BatchResult) {
	r.Total += other.Total
	r.Updated += other.Updated
	r.Failed += other.Failed
	r.Failures = append(r.Failures, other.Failures...)
	r.Canceled = r.Canceled || other.Canceled
}

// RecalculateAll recalculates every open deal of the tenant. A failing deal is
// logged and counted without aborting the batch. Cancelling ctx stops new deals
// from starting; deals already committed stay committed.
func (s *Service) RecalculateAll(ctx context.Context, tenantID uuid.UUID, actor string) (BatchResult, error) {
	ids, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([]uuid.UUID, error) {
		return s.store.ListActiveDealIDs(ctx, tenantID)
	})
	if err != nil {
		return BatchResult{}, err
	}
	return s.runBatch(ctx, tenantID, ids, TriggerBulk, actor)
}

// RecalculateStale recalculates open deals whose score is older than the tenant's
// recalculate_interval_hours, including deals never scored.
func (s *Service) RecalculateStale(ctx context.Context, tenantID uuid.UUID) (BatchResult, error) {
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return BatchResult{}, err
	}

	now := s.now()
	ids, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([]uuid.UUID, error) {
		return s.store.ListStaleDealIDs(ctx, tenantID, cfg.RecalculateIntervalHours, now)
	})
	if err != nil {
		return BatchResult{}, err
	}
	return s.runBatch(ctx, tenantID, ids, TriggerInterval, ActorSystem)
}

// RecalculateStaleAllTenants runs RecalculateStale for every tenant with open deals.
// A tenant whose scan fails is logged and skipped.
func (s *Service) RecalculateStaleAllTenants(ctx context.Context) (BatchResult, error) {
	tenants, err := retry.Do(ctx, s.retry, s.store.ListOrganizationIDs)
	if err != nil {
		return BatchResult{}, err
	}

	var total BatchResult
	for _, tenantID := range tenants {
		result, err := s.RecalculateStale(ctx, tenantID)
		total.merge(result)
		if ctx.Err() != nil {
			total.Canceled = true
			return total, ctx.Err()
		}
		if err != nil {
			s.log.Error("stale lead score scan failed", "tenantId", tenantID, "error", err)
		}
	}
	return total, nil
}

func (s *Service) runBatch(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, trigger, actor string) (BatchResult, error) {
	result := BatchResult{Total: len(ids), Failures: []DealFailure{}}
	log := s.log.WithContext(ctx)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)

	for _, dealID := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := s.Recalculate(ctx, tenantID, dealID, trigger, actor)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("lead score recalculation failed", "dealId", dealID, "trigger", trigger, "error", err)
				result.Failed++
				result.Failures = append(result.Failures, DealFailure{DealID: dealID, Error: err.Error()})
				return nil
			}
			result.Updated++
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		result.Canceled = true
		return result, err
	}
	return result, nil
}
