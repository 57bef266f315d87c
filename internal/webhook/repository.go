// Package webhook provides the inbound lead webhook bounded context.
// It manages webhook tokens and turns external form submissions into
// contacts and deals, handing them to distribution when enabled.
package webhook

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tokenPrefix = "lwh_"

// LeadWebhook is an inbound endpoint owned by one organization.
type LeadWebhook struct {
	ID                  uuid.UUID
	OrganizationID      uuid.UUID
	Name                string
	TokenHash           string
	TokenPrefix         string
	FunnelID            *uuid.UUID
	StageID             *uuid.UUID
	DefaultDealValue    float64
	DefaultProbability  int
	DistributionEnabled bool
	FieldMapping        map[string]string
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// WebhookParams are the mutable settings of a webhook.
type WebhookParams struct {
	Name                string
	FunnelID            *uuid.UUID
	StageID             *uuid.UUID
	DefaultDealValue    float64
	DefaultProbability  int
	DistributionEnabled bool
	FieldMapping        map[string]string
	IsActive            bool
}

// NewLead is the normalized content of one inbound call.
type NewLead struct {
	OrganizationID uuid.UUID
	WebhookID      uuid.UUID
	Name           string
	Phone          string
	Email          string
	Company        string
	Notes          string
	FunnelID       *uuid.UUID
	StageID        *uuid.UUID
	Value          float64
	Probability    int
}

// CreatedLead identifies the contact and deal produced by CreateLead.
// Duplicate is set when an identical lead arrived within the suppression window
// and the existing deal was returned instead.
type CreatedLead struct {
	DealID         uuid.UUID
	ProspectID     uuid.UUID
	AssignedUserID *uuid.UUID
	Duplicate      bool
}

// WebhookLog is one recorded inbound call.
type WebhookLog struct {
	ID             int64      `json:"id"`
	OrganizationID uuid.UUID  `json:"-"`
	WebhookID      uuid.UUID  `json:"webhookId"`
	RequestBody    any        `json:"requestBody"`
	StatusCode     int        `json:"statusCode"`
	DealID         *uuid.UUID `json:"dealId"`
	ProspectID     *uuid.UUID `json:"prospectId"`
	AssignedUserID *uuid.UUID `json:"assignedUserId"`
	Error          *string    `json:"error"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Repository provides data access for lead webhooks and their logs.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository creates a new webhook repository.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

// GenerateToken creates a new random webhook token and returns the plaintext, its
// hash and a display prefix. The plaintext is returned only once; only the hash is stored.
func GenerateToken() (plaintext string, hash string, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}
	plaintext = tokenPrefix + hex.EncodeToString(bytes)
	return plaintext, HashToken(plaintext), plaintext[:12], nil
}

// HashToken hashes a plaintext token for lookup.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

const webhookColumns = `
	id, organization_id, name, token_hash, token_prefix, funnel_id, stage_id,
	default_deal_value::float8, default_probability, distribution_enabled, field_mapping,
	is_active, created_at, updated_at`

func scanWebhook(row pgx.Row) (LeadWebhook, error) {
	var w LeadWebhook
	err := row.Scan(
		&w.ID, &w.OrganizationID, &w.Name, &w.TokenHash, &w.TokenPrefix, &w.FunnelID, &w.StageID,
		&w.DefaultDealValue, &w.DefaultProbability, &w.DistributionEnabled, &w.FieldMapping,
		&w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if w.FieldMapping == nil {
		w.FieldMapping = map[string]string{}
	}
	return w, err
}

// Create stores a new webhook with the given token hash.
func (r *Repository) Create(ctx context.Context, organizationID uuid.UUID, params WebhookParams, tokenHash, tokenPrefix string) (LeadWebhook, error) {
	var created LeadWebhook
	err := db.InTx(ctx, r.pool, r.timeout, "webhook.Create", func(ctx context.Context, tx pgx.Tx) error {
		if err := checkPipeline(ctx, tx, organizationID, params.FunnelID, params.StageID); err != nil {
			return err
		}
		var err error
		created, err = scanWebhook(tx.QueryRow(ctx, `
			INSERT INTO lead_webhooks (organization_id, name, token_hash, token_prefix, funnel_id, stage_id,
				default_deal_value, default_probability, distribution_enabled, field_mapping, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING `+webhookColumns,
			organizationID, params.Name, tokenHash, tokenPrefix, params.FunnelID, params.StageID,
			params.DefaultDealValue, params.DefaultProbability, params.DistributionEnabled,
			mappingOrEmpty(params.FieldMapping), params.IsActive,
		))
		if isUniqueViolation(err) {
			return apperr.Conflict("webhook token already in use")
		}
		return err
	})
	return created, err
}

// GetByTokenHash retrieves a webhook by its token hash, active or not.
func (r *Repository) GetByTokenHash(ctx context.Context, tokenHash string) (LeadWebhook, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	w, err := scanWebhook(r.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM lead_webhooks WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadWebhook{}, apperr.NotFound("webhook not found")
	}
	return w, db.MapError("webhook.GetByTokenHash", err)
}

// Get retrieves a webhook of the organization.
func (r *Repository) Get(ctx context.Context, organizationID, id uuid.UUID) (LeadWebhook, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	w, err := scanWebhook(r.pool.QueryRow(ctx, `
		SELECT `+webhookColumns+` FROM lead_webhooks WHERE id = $1 AND organization_id = $2
	`, id, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadWebhook{}, apperr.NotFound("webhook not found")
	}
	return w, db.MapError("webhook.Get", err)
}

// List returns all webhooks of an organization, newest first.
func (r *Repository) List(ctx context.Context, organizationID uuid.UUID) ([]LeadWebhook, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM lead_webhooks
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, organizationID)
	if err != nil {
		return nil, db.MapError("webhook.List", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeadWebhook, error) {
		return scanWebhook(row)
	})
	return items, db.MapError("webhook.List", err)
}

// Update replaces the mutable settings of a webhook.
func (r *Repository) Update(ctx context.Context, organizationID, id uuid.UUID, params WebhookParams) (LeadWebhook, error) {
	var updated LeadWebhook
	err := db.InTx(ctx, r.pool, r.timeout, "webhook.Update", func(ctx context.Context, tx pgx.Tx) error {
		if err := checkPipeline(ctx, tx, organizationID, params.FunnelID, params.StageID); err != nil {
			return err
		}
		var err error
		updated, err = scanWebhook(tx.QueryRow(ctx, `
			UPDATE lead_webhooks
			SET name = $3, funnel_id = $4, stage_id = $5, default_deal_value = $6, default_probability = $7,
				distribution_enabled = $8, field_mapping = $9, is_active = $10, updated_at = now()
			WHERE id = $1 AND organization_id = $2
			RETURNING `+webhookColumns,
			id, organizationID, params.Name, params.FunnelID, params.StageID, params.DefaultDealValue,
			params.DefaultProbability, params.DistributionEnabled, mappingOrEmpty(params.FieldMapping), params.IsActive,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("webhook not found")
		}
		return err
	})
	return updated, err
}

// RotateToken replaces the token hash of a webhook. The old token stops working immediately.
func (r *Repository) RotateToken(ctx context.Context, organizationID, id uuid.UUID, tokenHash, tokenPrefix string) (LeadWebhook, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	w, err := scanWebhook(r.pool.QueryRow(ctx, `
		UPDATE lead_webhooks SET token_hash = $3, token_prefix = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+webhookColumns,
		id, organizationID, tokenHash, tokenPrefix,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadWebhook{}, apperr.NotFound("webhook not found")
	}
	return w, db.MapError("webhook.RotateToken", err)
}

// Delete removes a webhook together with its pool, assignment log and call log.
func (r *Repository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM lead_webhooks WHERE id = $1 AND organization_id = $2`, id, organizationID)
	if err != nil {
		return db.MapError("webhook.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("webhook not found")
	}
	return nil
}

// CreateLead finds or creates the contact and creates the deal in one transaction.
// Calls for the same webhook and phone are serialized; when a deal for that phone
// was created through the webhook after duplicateSince, it is returned instead.
func (r *Repository) CreateLead(ctx context.Context, lead NewLead, duplicateSince time.Time) (CreatedLead, error) {
	var result CreatedLead
	source := leadSource(lead.WebhookID)

	err := db.InTx(ctx, r.pool, r.timeout, "webhook.CreateLead", func(ctx context.Context, tx pgx.Tx) error {
		if lead.Phone != "" {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, source+":"+lead.Phone); err != nil {
				return err
			}

			err := tx.QueryRow(ctx, `
				SELECT d.id, d.contact_id, d.assigned_user_id
				FROM deals d
				JOIN contacts c ON c.id = d.contact_id
				WHERE d.organization_id = $1 AND d.source = $2 AND c.phone = $3 AND d.created_at >= $4
				ORDER BY d.created_at DESC
				LIMIT 1
			`, lead.OrganizationID, source, lead.Phone, duplicateSince).Scan(&result.DealID, &result.ProspectID, &result.AssignedUserID)
			if err == nil {
				result.Duplicate = true
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}

		prospectID, err := upsertContact(ctx, tx, lead, source)
		if err != nil {
			return err
		}
		result.ProspectID = prospectID

		stageID := lead.StageID
		if stageID == nil && lead.FunnelID != nil {
			var first uuid.UUID
			err := tx.QueryRow(ctx, `
				SELECT id FROM funnel_stages WHERE funnel_id = $1 AND organization_id = $2
				ORDER BY position LIMIT 1
			`, lead.FunnelID, lead.OrganizationID).Scan(&first)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if err == nil {
				stageID = &first
			}
		}

		return tx.QueryRow(ctx, `
			INSERT INTO deals (organization_id, contact_id, funnel_id, stage_id, title, value, probability, source, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, lead.OrganizationID, prospectID, lead.FunnelID, stageID, dealTitle(lead), lead.Value, lead.Probability, source, lead.Notes).Scan(&result.DealID)
	})
	return result, err
}

// upsertContact reuses a contact with the same phone (or email when there is no
// phone) and fills in fields it is missing.
func upsertContact(ctx context.Context, tx pgx.Tx, lead NewLead, source string) (uuid.UUID, error) {
	var id uuid.UUID
	var err error
	switch {
	case lead.Phone != "":
		err = tx.QueryRow(ctx, `
			SELECT id FROM contacts WHERE organization_id = $1 AND phone = $2
			ORDER BY created_at LIMIT 1 FOR UPDATE
		`, lead.OrganizationID, lead.Phone).Scan(&id)
	case lead.Email != "":
		err = tx.QueryRow(ctx, `
			SELECT id FROM contacts WHERE organization_id = $1 AND lower(email) = lower($2)
			ORDER BY created_at LIMIT 1 FOR UPDATE
		`, lead.OrganizationID, lead.Email).Scan(&id)
	default:
		err = pgx.ErrNoRows
	}

	if err == nil {
		_, err = tx.Exec(ctx, `
			UPDATE contacts SET
				name = CASE WHEN name = '' THEN $2 ELSE name END,
				email = CASE WHEN email = '' THEN $3 ELSE email END,
				company = CASE WHEN company = '' THEN $4 ELSE company END,
				updated_at = now()
			WHERE id = $1
		`, id, lead.Name, lead.Email, lead.Company)
		return id, err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO contacts (organization_id, name, phone, email, company, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, lead.OrganizationID, lead.Name, lead.Phone, lead.Email, lead.Company, source).Scan(&id)
	return id, err
}

// InsertLog records an inbound call.
func (r *Repository) InsertLog(ctx context.Context, entry WebhookLog) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_logs (organization_id, webhook_id, request_body, status_code, deal_id, prospect_id, assigned_user_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.OrganizationID, entry.WebhookID, entry.RequestBody, entry.StatusCode, entry.DealID, entry.ProspectID, entry.AssignedUserID, entry.Error)
	return db.MapError("webhook.InsertLog", err)
}

// ListLogs returns the newest calls of a webhook.
func (r *Repository) ListLogs(ctx context.Context, organizationID, webhookID uuid.UUID, limit int) ([]WebhookLog, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, webhook_id, request_body, status_code, deal_id, prospect_id, assigned_user_id, error, created_at
		FROM webhook_logs
		WHERE webhook_id = $1 AND organization_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, webhookID, organizationID, limit)
	if err != nil {
		return nil, db.MapError("webhook.ListLogs", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (WebhookLog, error) {
		var l WebhookLog
		var body map[string]any
		err := row.Scan(&l.ID, &l.OrganizationID, &l.WebhookID, &body, &l.StatusCode, &l.DealID, &l.ProspectID, &l.AssignedUserID, &l.Error, &l.CreatedAt)
		l.RequestBody = body
		return l, err
	})
	return items, db.MapError("webhook.ListLogs", err)
}

// checkPipeline verifies that the funnel and stage belong to the organization and to each other.
func checkPipeline(ctx context.Context, tx pgx.Tx, organizationID uuid.UUID, funnelID, stageID *uuid.UUID) error {
	if funnelID != nil {
		var ok bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM funnels WHERE id = $1 AND organization_id = $2)`, funnelID, organizationID).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("funnel not found")
		}
	}
	if stageID != nil {
		var stageFunnel uuid.UUID
		err := tx.QueryRow(ctx, `SELECT funnel_id FROM funnel_stages WHERE id = $1 AND organization_id = $2`, stageID, organizationID).Scan(&stageFunnel)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Validation("stage not found")
		}
		if err != nil {
			return err
		}
		if funnelID == nil || *funnelID != stageFunnel {
			return apperr.Validation("stage must belong to the webhook funnel")
		}
	}
	return nil
}

func mappingOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func leadSource(webhookID uuid.UUID) string {
	return "webhook:" + webhookID.String()
}

func dealTitle(lead NewLead) string {
	switch {
	case lead.Name != "":
		return lead.Name
	case lead.Company != "":
		return lead.Company
	case lead.Phone != "":
		return lead.Phone
	default:
		return lead.Email
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
