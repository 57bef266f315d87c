package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wacrm_backend/internal/distribution/domain"
	"wacrm_backend/internal/distribution/repository"
	"wacrm_backend/internal/events"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mimics the row-locking transaction of the Postgres repository with a mutex.
type memStore struct {
	mu       sync.Mutex
	members  map[uuid.UUID][]domain.Member
	audit    []repository.Assignment
	loc      *time.Location
	addCalls int
}

func newMemStore() *memStore {
	return &memStore{members: map[uuid.UUID][]domain.Member{}, loc: time.UTC}
}

func (s *memStore) AssignNext(_ context.Context, _, webhookID, dealID uuid.UUID, _ string, now time.Time) (repository.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := domain.LocalDate(now, s.loc)
	result := repository.Assignment{WebhookID: webhookID, DealID: dealID, AssignedAt: now}

	chosen, err := domain.SelectAssignee(s.members[webhookID], today)
	if errors.Is(err, domain.ErrNoneEligible) {
		result.Outcome = repository.OutcomeNoneEligible
		s.audit = append(s.audit, result)
		return result, err
	}

	for i, m := range s.members[webhookID] {
		if m.UserID == chosen.UserID {
			s.members[webhookID][i] = domain.RecordAssignment(m, now, today)
			result.UserID = &m.UserID
			result.LeadsToday = s.members[webhookID][i].LeadsToday
		}
	}
	result.Outcome = repository.OutcomeAssigned
	s.audit = append(s.audit, result)
	return result, nil
}

func (s *memStore) ListMembers(_ context.Context, _, webhookID uuid.UUID) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Member(nil), s.members[webhookID]...), nil
}

func (s *memStore) AddMember(_ context.Context, tenantID, webhookID, userID uuid.UUID, params repository.MemberParams) (domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	m := domain.Member{WebhookID: webhookID, UserID: userID, OrganizationID: tenantID, IsActive: params.IsActive, MaxLeadsPerDay: params.MaxLeadsPerDay}
	s.members[webhookID] = append(s.members[webhookID], m)
	return m, nil
}

func (s *memStore) UpdateMember(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, repository.MemberParams) (domain.Member, error) {
	return domain.Member{}, apperr.NotFound("member not found")
}

func (s *memStore) RemoveMember(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return nil
}

type captureBus struct {
	mu       sync.Mutex
	assigned []events.LeadAssigned
}

func (b *captureBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if la, ok := e.(events.LeadAssigned); ok {
		b.assigned = append(b.assigned, la)
	}
}
func (b *captureBus) PublishSync(ctx context.Context, e events.Event) error { b.Publish(ctx, e); return nil }
func (b *captureBus) Subscribe(string, events.Handler)                      {}

func capped(v int) *int { return &v }

func TestAssignNeverExceedsCapacityUnderConcurrency(t *testing.T) {
	store := newMemStore()
	bus := &captureBus{}
	svc := New(store, bus, logger.Discard(), 1)

	tenant, webhook := uuid.New(), uuid.New()
	for i := 0; i < 3; i++ {
		_, err := svc.AddMember(context.Background(), tenant, webhook, uuid.New(), repository.MemberParams{IsActive: true, MaxLeadsPerDay: capped(4)})
		require.NoError(t, err)
	}

	var (
		wg                 sync.WaitGroup
		mu                 sync.Mutex
		assigned, rejected int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Assign(context.Background(), tenant, webhook, uuid.New(), "webhook")
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, domain.ErrNoneEligible) {
				rejected++
				return
			}
			assert.NoError(t, err)
			assigned++
		}()
	}
	wg.Wait()

	assert.Equal(t, 12, assigned)
	assert.Equal(t, 28, rejected)
	for _, m := range store.members[webhook] {
		assert.LessOrEqual(t, m.LeadsToday, *m.MaxLeadsPerDay)
		assert.Equal(t, 4, m.LeadsToday)
	}
	assert.Len(t, bus.assigned, 12)
	assert.Len(t, store.audit, 40, "every decision is audited")
}

func TestAssignReportsExhaustionAsSentinel(t *testing.T) {
	store := newMemStore()
	svc := New(store, nil, logger.Discard(), 1)

	_, err := svc.Assign(context.Background(), uuid.New(), uuid.New(), uuid.New(), "webhook")
	assert.ErrorIs(t, err, domain.ErrNoneEligible)
}

func TestAddMemberRejectsNegativeCap(t *testing.T) {
	store := newMemStore()
	svc := New(store, nil, logger.Discard(), 1)

	_, err := svc.AddMember(context.Background(), uuid.New(), uuid.New(), uuid.New(), repository.MemberParams{IsActive: true, MaxLeadsPerDay: capped(-1)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Zero(t, store.addCalls)
}
