package history

import (
	"context"

	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/retry"

	"github.com/google/uuid"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Reader is the read model the service depends on.
type Reader interface {
	Leaderboard(ctx context.Context, organizationID uuid.UUID, limit int, label string) ([]LeadScoreWithDeal, error)
	Stats(ctx context.Context, organizationID uuid.UUID) (Stats, error)
	ScoreHistory(ctx context.Context, organizationID, dealID uuid.UUID, limit int) ([]ScoreEntry, error)
	AssignmentLog(ctx context.Context, organizationID, webhookID uuid.UUID, limit int) ([]AssignmentEntry, error)
}

// Service validates query parameters and retries transient read failures.
type Service struct {
	reader Reader
	retry  retry.Policy
}

// NewService creates a history service.
func NewService(reader Reader, readRetries int) *Service {
	policy := retry.DefaultPolicy
	if readRetries > 0 {
		policy.Attempts = readRetries
	}
	return &Service{reader: reader, retry: policy}
}

// Leaderboard returns the highest scored deals of the tenant, optionally
// restricted to one label.
func (s *Service) Leaderboard(ctx context.Context, tenantID uuid.UUID, limit int, label string) ([]LeadScoreWithDeal, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)
	return retry.Do(ctx, s.retry, func(ctx context.Context) ([]LeadScoreWithDeal, error) {
		return s.reader.Leaderboard(ctx, tenantID, limit, label)
	})
}

// Stats returns the label distribution of the tenant's current scores.
func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID) (Stats, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) (Stats, error) {
		return s.reader.Stats(ctx, tenantID)
	})
}

// ScoreHistory returns the newest score changes of a deal.
func (s *Service) ScoreHistory(ctx context.Context, tenantID, dealID uuid.UUID, limit int) ([]ScoreEntry, error) {
	limit = normalizeLimit(limit)
	return retry.Do(ctx, s.retry, func(ctx context.Context) ([]ScoreEntry, error) {
		return s.reader.ScoreHistory(ctx, tenantID, dealID, limit)
	})
}

// AssignmentLog returns the newest distribution decisions of a webhook.
func (s *Service) AssignmentLog(ctx context.Context, tenantID, webhookID uuid.UUID, limit int) ([]AssignmentEntry, error) {
	limit = normalizeLimit(limit)
	return retry.Do(ctx, s.retry, func(ctx context.Context) ([]AssignmentEntry, error) {
		return s.reader.AssignmentLog(ctx, tenantID, webhookID, limit)
	})
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func validateLabel(label string) error {
	switch label {
	case "", "hot", "warm", "cold":
		return nil
	default:
		return apperr.Validation("label must be one of hot, warm, cold")
	}
}
