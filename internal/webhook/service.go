package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"wacrm_backend/internal/distribution/domain"
	distrepo "wacrm_backend/internal/distribution/repository"
	"wacrm_backend/internal/events"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/logger"
	"wacrm_backend/platform/metrics"
	"wacrm_backend/platform/phone"
	"wacrm_backend/platform/retry"
	"wacrm_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	maxPayloadFields = 100
	maxKeyLength     = 100
	maxValueLength   = 2000
	maxNameLength    = 100

	// duplicateWindow suppresses repeated submissions of the same phone.
	duplicateWindow = 60 * time.Second

	defaultLogLimit = 50
	maxLogLimit     = 200

	// ActorWebhook is recorded as the actor of assignments made during ingestion.
	ActorWebhook = "webhook"
)

// Store is the persistence the service depends on.
type Store interface {
	Create(ctx context.Context, organizationID uuid.UUID, params WebhookParams, tokenHash, tokenPrefix string) (LeadWebhook, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (LeadWebhook, error)
	Get(ctx context.Context, organizationID, id uuid.UUID) (LeadWebhook, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]LeadWebhook, error)
	Update(ctx context.Context, organizationID, id uuid.UUID, params WebhookParams) (LeadWebhook, error)
	RotateToken(ctx context.Context, organizationID, id uuid.UUID, tokenHash, tokenPrefix string) (LeadWebhook, error)
	Delete(ctx context.Context, organizationID, id uuid.UUID) error
	CreateLead(ctx context.Context, lead NewLead, duplicateSince time.Time) (CreatedLead, error)
	InsertLog(ctx context.Context, entry WebhookLog) error
	ListLogs(ctx context.Context, organizationID, webhookID uuid.UUID, limit int) ([]WebhookLog, error)
}

// Assigner hands a new deal to a member of the webhook's pool. Satisfied by the
// distribution service.
type Assigner interface {
	Assign(ctx context.Context, tenantID, webhookID, dealID uuid.UUID, actor string) (distrepo.Assignment, error)
}

// IngestResult is returned to the caller of an inbound webhook.
type IngestResult struct {
	DealID         uuid.UUID  `json:"dealId"`
	ProspectID     uuid.UUID  `json:"prospectId"`
	AssignedUserID *uuid.UUID `json:"assignedUserId"`
	Duplicate      bool       `json:"duplicate"`
}

// Service handles inbound lead submissions and webhook management.
type Service struct {
	store    Store
	assigner Assigner
	eventBus events.Bus
	log      *logger.Logger
	region   string
	retry    retry.Policy
	now      func() time.Time
}

// NewService creates a new webhook service. region is the default phone region.
func NewService(store Store, assigner Assigner, eventBus events.Bus, log *logger.Logger, region string, readRetries int) *Service {
	policy := retry.DefaultPolicy
	if readRetries > 0 {
		policy.Attempts = readRetries
	}
	return &Service{
		store:    store,
		assigner: assigner,
		eventBus: eventBus,
		log:      log,
		region:   region,
		retry:    policy,
		now:      time.Now,
	}
}

// IngestLead authenticates token, stores the lead and assigns it when the webhook
// has distribution enabled. A failed or exhausted assignment leaves the deal
// unassigned without failing the call. Every call made with a known token is logged.
func (s *Service) IngestLead(ctx context.Context, token string, payload map[string]string) (IngestResult, error) {
	hook, err := s.authenticate(ctx, token)
	if err != nil {
		metrics.WebhookIngest.WithLabelValues(strconv.Itoa(statusOf(err))).Inc()
		return IngestResult{}, err
	}

	var body map[string]string
	result, err := func() (IngestResult, error) {
		if !hook.IsActive {
			return IngestResult{}, apperr.Forbidden("webhook is disabled")
		}
		if err := ValidatePayload(payload); err != nil {
			return IngestResult{}, err
		}
		body = sanitizePayload(payload)
		return s.ingest(ctx, hook, body)
	}()

	status := http.StatusCreated
	if err != nil {
		status = statusOf(err)
	}
	metrics.WebhookIngest.WithLabelValues(strconv.Itoa(status)).Inc()
	s.writeLog(ctx, hook, body, status, result, err)

	return result, err
}

func (s *Service) authenticate(ctx context.Context, token string) (LeadWebhook, error) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, tokenPrefix) {
		return LeadWebhook{}, apperr.Unauthorized("invalid webhook token")
	}

	hook, err := retry.Do(ctx, s.retry, func(ctx context.Context) (LeadWebhook, error) {
		return s.store.GetByTokenHash(ctx, HashToken(token))
	})
	if apperr.Is(err, apperr.KindNotFound) {
		return LeadWebhook{}, apperr.Unauthorized("invalid webhook token")
	}
	return hook, err
}

func (s *Service) ingest(ctx context.Context, hook LeadWebhook, payload map[string]string) (IngestResult, error) {
	fields := MapFields(payload, hook.FieldMapping)
	fields.Phone = phone.NormalizeE164(fields.Phone, s.region)
	if !fields.HasContact() {
		return IngestResult{}, apperr.Validation("payload must contain a phone or an email")
	}

	created, err := s.store.CreateLead(ctx, NewLead{
		OrganizationID: hook.OrganizationID,
		WebhookID:      hook.ID,
		Name:           fields.Name(),
		Phone:          fields.Phone,
		Email:          fields.Email,
		Company:        fields.Company,
		Notes:          strings.Join(fields.Notes, "\n"),
		FunnelID:       hook.FunnelID,
		StageID:        hook.StageID,
		Value:          hook.DefaultDealValue,
		Probability:    hook.DefaultProbability,
	}, s.now().Add(-duplicateWindow))
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{
		DealID:         created.DealID,
		ProspectID:     created.ProspectID,
		AssignedUserID: created.AssignedUserID,
		Duplicate:      created.Duplicate,
	}
	log := s.log.WithContext(ctx)

	if created.Duplicate {
		log.Info("webhook: duplicate lead detected, returning existing deal", "dealId", created.DealID, "webhookId", hook.ID)
	} else if hook.DistributionEnabled && s.assigner != nil {
		assignment, err := s.assigner.Assign(ctx, hook.OrganizationID, hook.ID, created.DealID, ActorWebhook)
		switch {
		case errors.Is(err, domain.ErrNoneEligible):
		case err != nil:
			log.Error("webhook: lead distribution failed, deal left unassigned", "error", err, "dealId", created.DealID, "webhookId", hook.ID)
		default:
			result.AssignedUserID = assignment.UserID
		}
	}

	if s.eventBus != nil {
		s.eventBus.Publish(ctx, events.LeadIngested{
			BaseEvent:      events.NewBaseEvent(),
			TenantID:       hook.OrganizationID,
			WebhookID:      hook.ID,
			DealID:         result.DealID,
			ProspectID:     result.ProspectID,
			AssignedUserID: result.AssignedUserID,
			Duplicate:      result.Duplicate,
		})
	}
	return result, nil
}

func (s *Service) writeLog(ctx context.Context, hook LeadWebhook, body map[string]string, status int, result IngestResult, callErr error) {
	if body == nil {
		body = map[string]string{}
	}
	entry := WebhookLog{
		OrganizationID: hook.OrganizationID,
		WebhookID:      hook.ID,
		RequestBody:    body,
		StatusCode:     status,
		AssignedUserID: result.AssignedUserID,
	}
	if result.DealID != uuid.Nil {
		entry.DealID = &result.DealID
		entry.ProspectID = &result.ProspectID
	}
	if callErr != nil {
		msg := callErr.Error()
		entry.Error = &msg
	}

	// The caller's context may already be done; the log must still be written.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.InsertLog(ctx, entry); err != nil {
		s.log.WithContext(ctx).Error("webhook: failed to write call log", "error", err, "webhookId", hook.ID)
	}
}

// ValidatePayload enforces the size limits of an inbound payload.
func ValidatePayload(payload map[string]string) error {
	if len(payload) == 0 {
		return apperr.Validation("payload is empty")
	}
	if len(payload) > maxPayloadFields {
		return apperr.Validation(fmt.Sprintf("payload has more than %d fields", maxPayloadFields))
	}

	var problems []string
	for _, key := range sortedKeys(payload) {
		switch {
		case strings.TrimSpace(key) == "":
			problems = append(problems, "field names must not be empty")
		case utf8.RuneCountInString(key) > maxKeyLength:
			problems = append(problems, fmt.Sprintf("field name %.20q... exceeds %d characters", key, maxKeyLength))
		case utf8.RuneCountInString(payload[key]) > maxValueLength:
			problems = append(problems, fmt.Sprintf("field %q exceeds %d characters", key, maxValueLength))
		}
	}
	if len(problems) > 0 {
		return apperr.Validation("invalid payload").WithDetails(problems)
	}
	return nil
}

func sanitizePayload(payload map[string]string) map[string]string {
	clean := make(map[string]string, len(payload))
	for key, value := range payload {
		k := sanitize.Text(key)
		if k == "" {
			continue
		}
		clean[k] = sanitize.Text(value)
	}
	return clean
}

func statusOf(err error) int {
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		return domainErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// CreateWebhook stores a new webhook and returns it with its plaintext token.
func (s *Service) CreateWebhook(ctx context.Context, tenantID uuid.UUID, params WebhookParams) (LeadWebhook, string, error) {
	if err := validateParams(params); err != nil {
		return LeadWebhook{}, "", err
	}
	plaintext, hash, prefix, err := GenerateToken()
	if err != nil {
		return LeadWebhook{}, "", apperr.Wrap(apperr.KindInternal, "failed to generate token", err)
	}
	hook, err := s.store.Create(ctx, tenantID, params, hash, prefix)
	if err != nil {
		return LeadWebhook{}, "", err
	}
	return hook, plaintext, nil
}

// ListWebhooks returns the webhooks of the tenant.
func (s *Service) ListWebhooks(ctx context.Context, tenantID uuid.UUID) ([]LeadWebhook, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) ([]LeadWebhook, error) {
		return s.store.List(ctx, tenantID)
	})
}

// GetWebhook returns one webhook of the tenant.
func (s *Service) GetWebhook(ctx context.Context, tenantID, id uuid.UUID) (LeadWebhook, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) (LeadWebhook, error) {
		return s.store.Get(ctx, tenantID, id)
	})
}

// UpdateWebhook replaces the settings of a webhook.
func (s *Service) UpdateWebhook(ctx context.Context, tenantID, id uuid.UUID, params WebhookParams) (LeadWebhook, error) {
	if err := validateParams(params); err != nil {
		return LeadWebhook{}, err
	}
	return s.store.Update(ctx, tenantID, id, params)
}

// DeleteWebhook removes a webhook.
func (s *Service) DeleteWebhook(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.store.Delete(ctx, tenantID, id)
}

// RotateToken issues a new token for a webhook and returns its plaintext.
func (s *Service) RotateToken(ctx context.Context, tenantID, id uuid.UUID) (LeadWebhook, string, error) {
	plaintext, hash, prefix, err := GenerateToken()
	if err != nil {
		return LeadWebhook{}, "", apperr.Wrap(apperr.KindInternal, "failed to generate token", err)
	}
	hook, err := s.store.RotateToken(ctx, tenantID, id, hash, prefix)
	if err != nil {
		return LeadWebhook{}, "", err
	}
	return hook, plaintext, nil
}

// ListLogs returns the newest calls of a webhook.
func (s *Service) ListLogs(ctx context.Context, tenantID, webhookID uuid.UUID, limit int) ([]WebhookLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	if _, err := s.GetWebhook(ctx, tenantID, webhookID); err != nil {
		return nil, err
	}
	return retry.Do(ctx, s.retry, func(ctx context.Context) ([]WebhookLog, error) {
		return s.store.ListLogs(ctx, tenantID, webhookID, limit)
	})
}

func validateParams(params WebhookParams) error {
	var problems []string
	name := strings.TrimSpace(params.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		problems = append(problems, fmt.Sprintf("name is required and must be at most %d characters", maxNameLength))
	}
	if params.DefaultProbability < 0 || params.DefaultProbability > 100 {
		problems = append(problems, "default_probability must be between 0 and 100")
	}
	if params.DefaultDealValue < 0 {
		problems = append(problems, "default_deal_value must be zero or greater")
	}
	if params.StageID != nil && params.FunnelID == nil {
		problems = append(problems, "stage requires a funnel")
	}
	for _, key := range sortedKeys(params.FieldMapping) {
		if key == "" || utf8.RuneCountInString(key) > maxKeyLength {
			problems = append(problems, "field_mapping keys must be 1 to 100 characters")
		}
		if !IsCanonicalField(params.FieldMapping[key]) {
			problems = append(problems, fmt.Sprintf("field_mapping %q targets unknown field %q", key, params.FieldMapping[key]))
		}
	}
	if len(problems) > 0 {
		return apperr.Validation("invalid webhook settings").WithDetails(problems)
	}
	return nil
}
