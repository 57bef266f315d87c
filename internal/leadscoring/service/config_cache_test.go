package service

import (
	"context"
	"testing"
	"time"

	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*ConfigCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewConfigCache(rdb, time.Minute, logger.Discard()), mr
}

func TestConfigCacheRoundTripAndExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, ok := cache.Get(ctx, tenant)
	assert.False(t, ok)

	cfg := domain.DefaultConfig(tenant)
	cfg.HotThreshold = 85
	cache.Set(ctx, cfg)

	got, ok := cache.Get(ctx, tenant)
	require.True(t, ok)
	assert.Equal(t, 85, got.HotThreshold)
	assert.True(t, mr.Exists(configCacheKey(tenant)))

	mr.FastForward(2 * time.Minute)
	_, ok = cache.Get(ctx, tenant)
	assert.False(t, ok, "entry should expire after ttl")
}

func TestConfigCacheIgnoresCorruptEntries(t *testing.T) {
	cache, mr := newTestCache(t)
	tenant := uuid.New()
	require.NoError(t, mr.Set(configCacheKey(tenant), "{not json"))

	_, ok := cache.Get(context.Background(), tenant)
	assert.False(t, ok)
}

func TestNilConfigCacheAlwaysMisses(t *testing.T) {
	var cache *ConfigCache
	assert.Nil(t, NewConfigCache(nil, time.Minute, logger.Discard()))

	cache.Set(context.Background(), domain.DefaultConfig(uuid.New()))
	cache.Fill(context.Background(), domain.DefaultConfig(uuid.New()))
	_, ok := cache.Get(context.Background(), uuid.New())
	assert.False(t, ok)
}

func TestServiceServesConfigFromCacheUntilUpdated(t *testing.T) {
	cache, _ := newTestCache(t)
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{}, WithConfigCache(cache))
	ctx := context.Background()

	_, err := svc.GetConfig(ctx, tenant)
	require.NoError(t, err)
	_, err = svc.GetConfig(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, store.getConfigCalls)

	updated := domain.DefaultConfig(tenant)
	updated.WarmThreshold = 30
	_, err = svc.UpdateConfig(ctx, tenant, updated)
	require.NoError(t, err)

	got, err := svc.GetConfig(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 30, got.WarmThreshold)
	assert.Equal(t, 1, store.getConfigCalls, "update refreshes the cache")
}

func TestLateReaderCannotRestoreStaleConfig(t *testing.T) {
	cache, _ := newTestCache(t)
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{}, WithConfigCache(cache))
	ctx := context.Background()

	stale, err := store.GetConfig(ctx, tenant)
	require.NoError(t, err)

	updated := domain.DefaultConfig(tenant)
	updated.HotThreshold = 90
	_, err = svc.UpdateConfig(ctx, tenant, updated)
	require.NoError(t, err)

	cache.Fill(ctx, stale)

	got, err := svc.GetConfig(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 90, got.HotThreshold)
}

func TestFillPopulatesEmptyCache(t *testing.T) {
	cache, _ := newTestCache(t)
	tenant := uuid.New()
	cfg := domain.DefaultConfig(tenant)
	cfg.WarmThreshold = 25

	cache.Fill(context.Background(), cfg)
	got, ok := cache.Get(context.Background(), tenant)
	require.True(t, ok)
	assert.Equal(t, 25, got.WarmThreshold)
}
