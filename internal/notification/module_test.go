package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"wacrm_backend/internal/events"
	"wacrm_backend/internal/notification/sse"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	routingKey string
	body       []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func newTestModule(pub *fakePublisher) *Module {
	log := logger.Discard()
	return New(pub, sse.New(log), log)
}

func TestHotChangeIsPublishedWithEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestModule(pub)
	tenantID, dealID := uuid.New(), uuid.New()
	prev := 65

	err := m.Handle(context.Background(), events.LeadScoreHotChanged{
		BaseEvent:     events.NewBaseEvent(),
		TenantID:      tenantID,
		DealID:        dealID,
		Score:         82,
		PreviousScore: &prev,
		Label:         "hot",
		PreviousLabel: "warm",
		BecameHot:     true,
		Trigger:       "message_received",
	})
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "leadscore.hot.changed", pub.messages[0].routingKey)

	var msg struct {
		Event    string          `json:"event"`
		TenantID uuid.UUID       `json:"tenantId"`
		Payload  json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(pub.messages[0].body, &msg))
	assert.Equal(t, "leadscore.hot.changed", msg.Event)
	assert.Equal(t, tenantID, msg.TenantID)
	assert.Contains(t, string(msg.Payload), dealID.String())
}

func TestHotChangesOnTheBusReachTheBroker(t *testing.T) {
	pub := &fakePublisher{}
	bus := events.NewInMemoryBus(logger.Discard())
	newTestModule(pub).RegisterHandlers(bus)

	bus.Publish(context.Background(), events.LeadScoreHotChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  uuid.New(),
		DealID:    uuid.New(),
		Score:     35,
		Label:     "warm",
		BecameHot: false,
		Trigger:   "bulk",
	})
	bus.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "leadscore.hot.changed", pub.messages[0].routingKey)
}

func TestLeadAssignedIsPublished(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestModule(pub)

	err := m.Handle(context.Background(), events.LeadAssigned{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   uuid.New(),
		WebhookID:  uuid.New(),
		DealID:     uuid.New(),
		UserID:     uuid.New(),
		LeadsToday: 3,
	})
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "distribution.lead.assigned", pub.messages[0].routingKey)
}

func TestIngestedLeadsStayOffTheBroker(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestModule(pub)

	require.NoError(t, m.Handle(context.Background(), events.LeadIngested{BaseEvent: events.NewBaseEvent(), TenantID: uuid.New(), DealID: uuid.New()}))
	assert.Empty(t, pub.messages)
}

func TestBrokerFailureIsReturned(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	m := newTestModule(pub)

	err := m.Handle(context.Background(), events.LeadAssigned{BaseEvent: events.NewBaseEvent(), UserID: uuid.New()})
	assert.Error(t, err)
}
