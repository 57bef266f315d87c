package service

import (
	"context"

	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/platform/retry"

	"github.com/google/uuid"
)

// GetConfig returns the tenant configuration, served from the cache when possible.
func (s *Service) GetConfig(ctx context.Context, tenantID uuid.UUID) (domain.ScoreConfig, error) {
	if cfg, ok := s.cache.Get(ctx, tenantID); ok {
		return cfg, nil
	}

	cfg, err := retry.Do(ctx, s.retry, func(ctx context.Context) (domain.ScoreConfig, error) {
		return s.store.GetConfig(ctx, tenantID)
	})
	if err != nil {
		return domain.ScoreConfig{}, err
	}

	s.cache.Fill(ctx, cfg)
	return cfg, nil
}

// UpdateConfig validates and stores a tenant configuration. Invalid input is
// rejected before anything is written.
func (s *Service) UpdateConfig(ctx context.Context, tenantID uuid.UUID, cfg domain.ScoreConfig) (domain.ScoreConfig, error) {
	cfg.OrganizationID = tenantID
	if err := cfg.Validate(); err != nil {
		return domain.ScoreConfig{}, err
	}

	saved, err := s.store.SaveConfig(ctx, cfg)
	if err != nil {
		return domain.ScoreConfig{}, err
	}

	s.cache.Set(ctx, saved)
	return saved, nil
}
