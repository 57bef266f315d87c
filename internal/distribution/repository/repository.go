// Package repository persists distribution pools and performs the locked
// select-and-increment that assigns a lead.
package repository

import (
	"context"
	"errors"
	"time"

	"wacrm_backend/internal/distribution/domain"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Assignment outcomes stored in lead_distribution_assignments.
const (
	OutcomeAssigned     = "assigned"
	OutcomeNoneEligible = "none_eligible"
)

// Assignment is the committed result of AssignNext.
type Assignment struct {
	WebhookID  uuid.UUID
	DealID     uuid.UUID
	UserID     *uuid.UUID
	LeadsToday int
	Outcome    string
	AssignedAt time.Time
}

// Repository is the Postgres store for distribution pools.
type Repository struct {
	pool       *pgxpool.Pool
	timeout    time.Duration
	defaultLoc *time.Location
}

// New creates a repository. defaultLoc is used for tenants without a valid timezone.
func New(pool *pgxpool.Pool, timeout time.Duration, defaultLoc *time.Location) *Repository {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Repository{pool: pool, timeout: timeout, defaultLoc: defaultLoc}
}

const memberColumns = `
	webhook_id, user_id, organization_id, is_active, max_leads_per_day, leads_today,
	leads_date, last_lead_at, created_at, updated_at`

func scanMember(row pgx.Row) (domain.Member, error) {
	var m domain.Member
	err := row.Scan(
		&m.WebhookID, &m.UserID, &m.OrganizationID, &m.IsActive, &m.MaxLeadsPerDay, &m.LeadsToday,
		&m.LeadsDate, &m.LastLeadAt, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

// AssignNext picks and charges the next member of the webhook's pool in one
// transaction. All member rows of the pool are locked first, so concurrent calls
// for the same webhook run one after another and capacity cannot be overcommitted.
// The deal is assigned in the same transaction. When nobody is eligible the
// decision is still audited and domain.ErrNoneEligible is returned.
func (r *Repository) AssignNext(ctx context.Context, organizationID, webhookID, dealID uuid.UUID, actor string, now time.Time) (Assignment, error) {
	result := Assignment{WebhookID: webhookID, DealID: dealID, AssignedAt: now}

	err := db.InTx(ctx, r.pool, r.timeout, "distribution.AssignNext", func(ctx context.Context, tx pgx.Tx) error {
		var timezone string
		err := tx.QueryRow(ctx, `
			SELECT o.timezone
			FROM lead_webhooks w
			JOIN organizations o ON o.id = w.organization_id
			WHERE w.id = $1 AND w.organization_id = $2
		`, webhookID, organizationID).Scan(&timezone)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("webhook not found")
		}
		if err != nil {
			return err
		}
		today := domain.LocalDate(now, r.location(timezone))

		rows, err := tx.Query(ctx, `
			SELECT `+memberColumns+`
			FROM lead_distribution_members
			WHERE webhook_id = $1 AND organization_id = $2
			ORDER BY user_id
			FOR UPDATE
		`, webhookID, organizationID)
		if err != nil {
			return err
		}
		members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Member, error) {
			return scanMember(row)
		})
		if err != nil {
			return err
		}

		chosen, err := domain.SelectAssignee(members, today)
		if errors.Is(err, domain.ErrNoneEligible) {
			result.Outcome = OutcomeNoneEligible
			return insertAssignment(ctx, tx, organizationID, result, actor)
		}
		if err != nil {
			return err
		}

		charged := domain.RecordAssignment(chosen, now, today)
		if _, err := tx.Exec(ctx, `
			UPDATE lead_distribution_members
			SET leads_today = $3, leads_date = $4, last_lead_at = $5, updated_at = now()
			WHERE webhook_id = $1 AND user_id = $2
		`, webhookID, charged.UserID, charged.LeadsToday, charged.LeadsDate, charged.LastLeadAt); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE deals SET assigned_user_id = $3, updated_at = now()
			WHERE id = $1 AND organization_id = $2
		`, dealID, organizationID, charged.UserID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("deal not found")
		}

		userID := charged.UserID
		result.UserID = &userID
		result.LeadsToday = charged.LeadsToday
		result.Outcome = OutcomeAssigned
		return insertAssignment(ctx, tx, organizationID, result, actor)
	})
	if err != nil {
		return Assignment{}, err
	}
	if result.Outcome == OutcomeNoneEligible {
		return result, domain.ErrNoneEligible
	}
	return result, nil
}

func insertAssignment(ctx context.Context, tx pgx.Tx, organizationID uuid.UUID, a Assignment, actor string) error {
	var leadsToday *int
	if a.UserID != nil {
		leadsToday = &a.LeadsToday
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO lead_distribution_assignments (organization_id, webhook_id, deal_id, user_id, outcome, leads_today, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, organizationID, a.WebhookID, a.DealID, a.UserID, a.Outcome, leadsToday, actor, a.AssignedAt)
	return err
}

func (r *Repository) location(name string) *time.Location {
	if name == "" {
		return r.defaultLoc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return r.defaultLoc
	}
	return loc
}
