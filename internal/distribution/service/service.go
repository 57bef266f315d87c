// Package service exposes lead distribution to the webhook module and the pool
// management API.
package service

import (
	"context"
	"errors"
	"time"

	"wacrm_backend/internal/distribution/domain"
	"wacrm_backend/internal/distribution/repository"
	"wacrm_backend/internal/events"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/metrics"
	"wacrm_backend/platform/retry"

	"github.com/google/uuid"
)

// Store is the persistence the service depends on.
type Store interface {
	AssignNext(ctx context.Context, organizationID, webhookID, dealID uuid.UUID, actor string, now time.Time) (repository.Assignment, error)
	ListMembers(ctx context.Context, organizationID, webhookID uuid.UUID) ([]domain.Member, error)
	AddMember(ctx context.Context, organizationID, webhookID, userID uuid.UUID, params repository.MemberParams) (domain.Member, error)
	UpdateMember(ctx context.Context, organizationID, webhookID, userID uuid.UUID, params repository.MemberParams) (domain.Member, error)
	RemoveMember(ctx context.Context, organizationID, webhookID, userID uuid.UUID) error
}

// Service assigns leads and manages distribution pools.
type Service struct {
	store Store
	bus   events.Bus
	log   *logger.Logger
	retry retry.Policy
	now   func() time.Time
}

// New creates the distribution service.
func New(store Store, bus events.Bus, log *logger.Logger, readRetries int) *Service {
	policy := retry.DefaultPolicy
	if readRetries > 0 {
		policy.Attempts = readRetries
	}
	return &Service{store: store, bus: bus, log: log, retry: policy, now: time.Now}
}

// Assign hands the deal to the next eligible member of the webhook's pool.
// domain.ErrNoneEligible is returned, unwrapped, when the pool is exhausted;
// callers keep the deal unassigned.
func (s *Service) Assign(ctx context.Context, tenantID, webhookID, dealID uuid.UUID, actor string) (repository.Assignment, error) {
	log := s.log.WithContext(ctx)

	assignment, err := s.store.AssignNext(ctx, tenantID, webhookID, dealID, actor, s.now())
	switch {
	case errors.Is(err, domain.ErrNoneEligible):
		metrics.Assignments.WithLabelValues(repository.OutcomeNoneEligible).Inc()
		log.CapacityExhausted(tenantID, webhookID, dealID)
		return assignment, domain.ErrNoneEligible
	case err != nil:
		metrics.Assignments.WithLabelValues("error").Inc()
		return repository.Assignment{}, err
	}

	metrics.Assignments.WithLabelValues(repository.OutcomeAssigned).Inc()
	log.LeadAssigned(tenantID, webhookID, dealID, *assignment.UserID, assignment.LeadsToday)

	if s.bus != nil {
		s.bus.Publish(ctx, events.LeadAssigned{
			BaseEvent:  events.NewBaseEvent(),
			TenantID:   tenantID,
			WebhookID:  webhookID,
			DealID:     dealID,
			UserID:     *assignment.UserID,
			LeadsToday: assignment.LeadsToday,
		})
	}
	return assignment, nil
}

// ListMembers returns the pool of a webhook.
func (s *Service) ListMembers(ctx context.Context, tenantID, webhookID uuid.UUID) ([]domain.Member, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) ([]domain.Member, error) {
		return s.store.ListMembers(ctx, tenantID, webhookID)
	})
}

// AddMember adds a user to the pool.
func (s *Service) AddMember(ctx context.Context, tenantID, webhookID, userID uuid.UUID, params repository.MemberParams) (domain.Member, error) {
	if err := validateParams(params); err != nil {
		return domain.Member{}, err
	}
	return s.store.AddMember(ctx, tenantID, webhookID, userID, params)
}

// UpdateMember changes a member's active flag and daily cap.
func (s *Service) UpdateMember(ctx context.Context, tenantID, webhookID, userID uuid.UUID, params repository.MemberParams) (domain.Member, error) {
	if err := validateParams(params); err != nil {
		return domain.Member{}, err
	}
	return s.store.UpdateMember(ctx, tenantID, webhookID, userID, params)
}

// RemoveMember deletes a user from the pool.
func (s *Service) RemoveMember(ctx context.Context, tenantID, webhookID, userID uuid.UUID) error {
	return s.store.RemoveMember(ctx, tenantID, webhookID, userID)
}

func validateParams(params repository.MemberParams) error {
	if params.MaxLeadsPerDay != nil && *params.MaxLeadsPerDay < 0 {
		return apperr.Validation("max_leads_per_day must be zero or greater")
	}
	return nil
}
