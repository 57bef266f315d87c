package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"wacrm_backend/internal/distribution/domain"
	distrepo "wacrm_backend/internal/distribution/repository"
	"wacrm_backend/internal/events"
	"wacrm_backend/platform/apperr"

	"github.com/google/uuid"
)

type memStore struct {
	mu       sync.Mutex
	hooks    map[uuid.UUID]LeadWebhook
	leads    []NewLead
	created  []CreatedLead
	byPhone  map[string]CreatedLead
	logs     []WebhookLog
	leadErr  error
	lastSeen map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		hooks:    map[uuid.UUID]LeadWebhook{},
		byPhone:  map[string]CreatedLead{},
		lastSeen: map[string]time.Time{},
	}
}

// addHook stores a webhook and returns its plaintext token.
func (m *memStore) addHook(hook LeadWebhook) (LeadWebhook, string) {
	plaintext, hash, prefix, err := GenerateToken()
	if err != nil {
		panic(err)
	}
	if hook.ID == uuid.Nil {
		hook.ID = uuid.New()
	}
	if hook.OrganizationID == uuid.Nil {
		hook.OrganizationID = uuid.New()
	}
	hook.TokenHash, hook.TokenPrefix = hash, prefix
	m.mu.Lock()
	m.hooks[hook.ID] = hook
	m.mu.Unlock()
	return hook, plaintext
}

func (m *memStore) Create(_ context.Context, organizationID uuid.UUID, params WebhookParams, tokenHash, tokenPrefix string) (LeadWebhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook := LeadWebhook{
		ID:                  uuid.New(),
		OrganizationID:      organizationID,
		Name:                params.Name,
		TokenHash:           tokenHash,
		TokenPrefix:         tokenPrefix,
		DistributionEnabled: params.DistributionEnabled,
		FieldMapping:        params.FieldMapping,
		IsActive:            params.IsActive,
	}
	m.hooks[hook.ID] = hook
	return hook, nil
}

func (m *memStore) GetByTokenHash(_ context.Context, tokenHash string) (LeadWebhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, hook := range m.hooks {
		if hook.TokenHash == tokenHash {
			return hook, nil
		}
	}
	return LeadWebhook{}, apperr.NotFound("webhook not found")
}

func (m *memStore) Get(_ context.Context, organizationID, id uuid.UUID) (LeadWebhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook, ok := m.hooks[id]
	if !ok || hook.OrganizationID != organizationID {
		return LeadWebhook{}, apperr.NotFound("webhook not found")
	}
	return hook, nil
}

func (m *memStore) List(_ context.Context, organizationID uuid.UUID) ([]LeadWebhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LeadWebhook
	for _, hook := range m.hooks {
		if hook.OrganizationID == organizationID {
			out = append(out, hook)
		}
	}
	return out, nil
}

func (m *memStore) Update(ctx context.Context, organizationID, id uuid.UUID, params WebhookParams) (LeadWebhook, error) {
	hook, err := m.Get(ctx, organizationID, id)
	if err != nil {
		return LeadWebhook{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	hook.Name = params.Name
	hook.DistributionEnabled = params.DistributionEnabled
	hook.FieldMapping = params.FieldMapping
	hook.IsActive = params.IsActive
	m.hooks[id] = hook
	return hook, nil
}

func (m *memStore) RotateToken(ctx context.Context, organizationID, id uuid.UUID, tokenHash, tokenPrefix string) (LeadWebhook, error) {
	hook, err := m.Get(ctx, organizationID, id)
	if err != nil {
		return LeadWebhook{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	hook.TokenHash, hook.TokenPrefix = tokenHash, tokenPrefix
	m.hooks[id] = hook
	return hook, nil
}

func (m *memStore) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	if _, err := m.Get(ctx, organizationID, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hooks, id)
	return nil
}

func (m *memStore) CreateLead(_ context.Context, lead NewLead, duplicateSince time.Time) (CreatedLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leadErr != nil {
		return CreatedLead{}, m.leadErr
	}
	key := lead.WebhookID.String() + ":" + lead.Phone
	if lead.Phone != "" {
		if prev, ok := m.byPhone[key]; ok && !m.lastSeen[key].Before(duplicateSince) {
			prev.Duplicate = true
			return prev, nil
		}
	}
	created := CreatedLead{DealID: uuid.New(), ProspectID: uuid.New()}
	m.leads = append(m.leads, lead)
	m.created = append(m.created, created)
	if lead.Phone != "" {
		m.byPhone[key] = created
		m.lastSeen[key] = duplicateSince.Add(duplicateWindow)
	}
	return created, nil
}

func (m *memStore) InsertLog(_ context.Context, entry WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStore) ListLogs(_ context.Context, _, webhookID uuid.UUID, limit int) ([]WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WebhookLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].WebhookID == webhookID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

type fakeAssigner struct {
	mu     sync.Mutex
	userID uuid.UUID
	err    error
	calls  int
}

func (f *fakeAssigner) Assign(_ context.Context, _, webhookID, dealID uuid.UUID, _ string) (distrepo.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		if errors.Is(f.err, domain.ErrNoneEligible) {
			return distrepo.Assignment{WebhookID: webhookID, DealID: dealID, Outcome: distrepo.OutcomeNoneEligible}, f.err
		}
		return distrepo.Assignment{}, f.err
	}
	userID := f.userID
	return distrepo.Assignment{WebhookID: webhookID, DealID: dealID, UserID: &userID, LeadsToday: 1, Outcome: distrepo.OutcomeAssigned}, nil
}

type captureBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *captureBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *captureBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *captureBus) Subscribe(string, events.Handler) {}

func (b *captureBus) ingested() []events.LeadIngested {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.LeadIngested
	for _, e := range b.events {
		if ev, ok := e.(events.LeadIngested); ok {
			out = append(out, ev)
		}
	}
	return out
}
