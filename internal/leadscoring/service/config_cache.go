package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const configCacheKeyPrefix = "leadscore:config:"

// ConfigCache keeps tenant scoring configs in Redis for ttl. A nil cache is valid
// and always misses. Redis failures are logged and treated as misses.
type ConfigCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewConfigCache returns nil when rdb is nil.
func NewConfigCache(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *ConfigCache {
	if rdb == nil {
		return nil
	}
	return &ConfigCache{rdb: rdb, ttl: ttl, log: log}
}

func configCacheKey(tenantID uuid.UUID) string {
	return configCacheKeyPrefix + tenantID.String()
}

// Get returns the cached config for the tenant.
func (c *ConfigCache) Get(ctx context.Context, tenantID uuid.UUID) (domain.ScoreConfig, bool) {
	if c == nil {
		return domain.ScoreConfig{}, false
	}

	raw, err := c.rdb.Get(ctx, configCacheKey(tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("lead score config cache read failed", "tenantId", tenantID, "error", err)
		}
		return domain.ScoreConfig{}, false
	}

	var cfg domain.ScoreConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		c.log.Warn("lead score config cache entry is corrupt", "tenantId", tenantID, "error", err)
		return domain.ScoreConfig{}, false
	}
	return cfg, true
}

// Set stores cfg under its tenant id, replacing any cached entry. Only writers
// of the config call it.
func (c *ConfigCache) Set(ctx context.Context, cfg domain.ScoreConfig) {
	c.write(ctx, cfg, false)
}

// Fill stores cfg only when the tenant has no entry, so a reader that loaded the
// config before a concurrent update cannot overwrite the newer entry.
func (c *ConfigCache) Fill(ctx context.Context, cfg domain.ScoreConfig) {
	c.write(ctx, cfg, true)
}

func (c *ConfigCache) write(ctx context.Context, cfg domain.ScoreConfig, onlyIfMissing bool) {
	if c == nil {
		return
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	key := configCacheKey(cfg.OrganizationID)
	if onlyIfMissing {
		err = c.rdb.SetNX(ctx, key, raw, c.ttl).Err()
	} else {
		err = c.rdb.Set(ctx, key, raw, c.ttl).Err()
	}
	if err != nil {
		c.log.Warn("lead score config cache write failed", "tenantId", cfg.OrganizationID, "error", err)
	}
}
