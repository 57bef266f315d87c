package service

import (
	"context"
	"testing"
	"time"

	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newTestService(store *fakeStore, bus *recordingBus, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(store, bus, logger.Discard(), opts...)
}

func hotSignals() domain.Signals {
	first := fixedNow.Add(-3 * time.Hour)
	reply := first.Add(2 * time.Minute)
	return domain.Signals{
		InboundMessages:       12,
		OutboundMessages:      12,
		FirstInboundAt:        &first,
		FirstResponseAt:       &reply,
		LastActivityAt:        &fixedNow,
		ProfileFieldsFilled:   6,
		ProfileFieldsTotal:    6,
		FunnelStagesCompleted: 4,
		FunnelStagesTotal:     4,
		DealValue:             50000,
	}
}

func TestRecalculateAllSurvivesSingleDealFailure(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{}, WithWorkers(3))

	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		ids = append(ids, store.addDeal(tenant, hotSignals()))
	}

	failing := ids[6]
	_, err := svc.Recalculate(context.Background(), tenant, failing, TriggerManual, "user")
	require.NoError(t, err)
	before := store.scores[failing]
	store.signalErrs[failing] = []error{errSignalsUnavailable}

	result, err := svc.RecalculateAll(context.Background(), tenant, ActorSystem)
	require.NoError(t, err)

	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 9, result.Updated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, failing, result.Failures[0].DealID)
	assert.Equal(t, before, store.scores[failing], "failed deal must keep its previous score")
	assert.False(t, result.Canceled)
}

func TestRecalculateAllStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{}, WithWorkers(1))

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		ids = append(ids, store.addDeal(tenant, hotSignals()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onSignals = func(dealID uuid.UUID) {
		if dealID == ids[2] {
			cancel()
		}
	}

	result, err := svc.RecalculateAll(ctx, tenant, ActorSystem)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Canceled)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, store.scores, 3, "deals committed before cancellation stay committed")
}

func TestRecalculateTracksTrendAndPublishesHotCrossing(t *testing.T) {
	store := newFakeStore()
	bus := &recordingBus{}
	tenant := uuid.New()
	svc := newTestService(store, bus)

	deal := store.addDeal(tenant, domain.Signals{})
	cold, err := svc.Recalculate(context.Background(), tenant, deal, TriggerManual, "user")
	require.NoError(t, err)
	assert.Equal(t, domain.LabelCold, cold.Label)
	assert.Equal(t, domain.TrendStable, cold.Trend)
	assert.Nil(t, cold.PreviousScore)
	assert.Empty(t, bus.hotChanges())

	store.signals[deal] = hotSignals()
	hot, err := svc.Recalculate(context.Background(), tenant, deal, TriggerMessage, ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, domain.LabelHot, hot.Label)
	assert.Equal(t, domain.TrendUp, hot.Trend)
	require.NotNil(t, hot.PreviousScore)
	assert.Equal(t, cold.Score, *hot.PreviousScore)

	changes := bus.hotChanges()
	require.Len(t, changes, 1)
	assert.True(t, changes[0].BecameHot)
	assert.Equal(t, deal, changes[0].DealID)
	assert.Equal(t, "cold", changes[0].PreviousLabel)

	again, err := svc.Recalculate(context.Background(), tenant, deal, TriggerManual, "user")
	require.NoError(t, err)
	assert.Equal(t, hot.Score, again.Score)
	assert.Equal(t, domain.TrendStable, again.Trend)
	assert.Len(t, bus.hotChanges(), 1, "staying hot is not a crossing")
}

func TestRecalculateAllPublishesHotCrossings(t *testing.T) {
	store := newFakeStore()
	bus := &recordingBus{}
	tenant := uuid.New()
	svc := newTestService(store, bus)

	hot := store.addDeal(tenant, hotSignals())
	store.addDeal(tenant, domain.Signals{})

	result, err := svc.RecalculateAll(context.Background(), tenant, "cli")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)

	changes := bus.hotChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, hot, changes[0].DealID)
	assert.True(t, changes[0].BecameHot)
}

func TestRecalculateRetriesTransientSignalReads(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{})

	deal := store.addDeal(tenant, hotSignals())
	store.signalErrs[deal] = []error{apperr.Unavailable("database timeout", context.DeadlineExceeded)}

	_, err := svc.Recalculate(context.Background(), tenant, deal, TriggerManual, "user")
	require.NoError(t, err)
	assert.Equal(t, 1, store.commitCalls)
}

func TestRecalculateUnknownDealIsNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &recordingBus{})

	_, err := svc.Recalculate(context.Background(), uuid.New(), uuid.New(), TriggerManual, "user")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Zero(t, store.commitCalls)
}

func TestUpdateConfigRejectsInvertedThresholdsWithoutWriting(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{})

	original := domain.DefaultConfig(tenant)
	original.HotThreshold = 80
	store.configs[tenant] = original

	bad := domain.DefaultConfig(tenant)
	bad.HotThreshold = 50
	bad.WarmThreshold = 60

	_, err := svc.UpdateConfig(context.Background(), tenant, bad)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Zero(t, store.saveConfigCalls)
	assert.Equal(t, 80, store.configs[tenant].HotThreshold)
}

func TestUpdateConfigForcesTenant(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{})

	cfg := domain.DefaultConfig(uuid.New())
	saved, err := svc.UpdateConfig(context.Background(), tenant, cfg)
	require.NoError(t, err)
	assert.Equal(t, tenant, saved.OrganizationID)
	_, other := store.configs[cfg.OrganizationID]
	assert.False(t, other)
}

func TestOnMessageReceivedHonoursAutoUpdateFlag(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	deal := store.addDeal(tenant, hotSignals())

	cfg := domain.DefaultConfig(tenant)
	cfg.AutoUpdateOnMessage = false
	store.configs[tenant] = cfg

	svc := newTestService(store, &recordingBus{})
	outcome, err := svc.OnMessageReceived(context.Background(), tenant, deal)
	require.NoError(t, err)
	assert.Equal(t, TriggerSkipped, outcome.Status)
	assert.Zero(t, store.commitCalls)

	cfg.AutoUpdateOnMessage = true
	store.configs[tenant] = cfg
	outcome, err = svc.OnMessageReceived(context.Background(), tenant, deal)
	require.NoError(t, err)
	assert.Equal(t, TriggerRecalculated, outcome.Status)
	require.NotNil(t, outcome.Score)
	assert.Equal(t, TriggerMessage, outcome.Score.LastTrigger)
}

func TestOnStageChangedQueuesWhenWorkerAvailable(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	deal := store.addDeal(tenant, hotSignals())

	enq := &fakeEnqueuer{}
	svc := newTestService(store, &recordingBus{}, WithEnqueuer(enq))

	outcome, err := svc.OnStageChanged(context.Background(), tenant, deal)
	require.NoError(t, err)
	assert.Equal(t, TriggerQueued, outcome.Status)
	assert.Equal(t, 1, enq.calls)
	assert.Zero(t, store.commitCalls)

	enq.err = assert.AnError
	outcome, err = svc.OnStageChanged(context.Background(), tenant, deal)
	require.NoError(t, err)
	assert.Equal(t, TriggerRecalculated, outcome.Status)
	assert.Equal(t, 1, store.commitCalls)
}

func TestTriggersRejectUnknownOrForeignDealBeforeQueueing(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	other := uuid.New()
	foreign := store.addDeal(other, hotSignals())

	enq := &fakeEnqueuer{}
	svc := newTestService(store, &recordingBus{}, WithEnqueuer(enq))

	_, err := svc.OnMessageReceived(context.Background(), tenant, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.OnStageChanged(context.Background(), tenant, foreign)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	cfg := domain.DefaultConfig(tenant)
	cfg.AutoUpdateOnMessage = false
	store.configs[tenant] = cfg
	_, err = svc.OnMessageReceived(context.Background(), tenant, foreign)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.Zero(t, enq.calls)
	assert.Zero(t, store.commitCalls)
}

func TestRecalculateStaleSkipsFreshScores(t *testing.T) {
	store := newFakeStore()
	tenant := uuid.New()
	svc := newTestService(store, &recordingBus{})

	fresh := store.addDeal(tenant, hotSignals())
	stale := store.addDeal(tenant, hotSignals())
	never := store.addDeal(tenant, hotSignals())

	store.scores[fresh] = freshScore(fresh, tenant, fixedNow.Add(-time.Hour))
	store.scores[stale] = freshScore(stale, tenant, fixedNow.Add(-48*time.Hour))

	result, err := svc.RecalculateStale(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, fixedNow, store.scores[never].CalculatedAt)
	assert.Equal(t, fixedNow.Add(-time.Hour), store.scores[fresh].CalculatedAt)
}
