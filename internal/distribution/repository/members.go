package repository

import (
	"context"
	"errors"

	"wacrm_backend/internal/distribution/domain"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MemberParams holds the editable fields of a member.
type MemberParams struct {
	IsActive       bool
	MaxLeadsPerDay *int
}

func (r *Repository) ensureWebhook(ctx context.Context, q db.Querier, organizationID, webhookID uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lead_webhooks WHERE id = $1 AND organization_id = $2)`, webhookID, organizationID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("webhook not found")
	}
	return nil
}

// ListMembers returns the pool of a webhook ordered by user id.
func (r *Repository) ListMembers(ctx context.Context, organizationID, webhookID uuid.UUID) ([]domain.Member, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	if err := r.ensureWebhook(ctx, r.pool, organizationID, webhookID); err != nil {
		return nil, db.MapError("distribution.ListMembers", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+memberColumns+`
		FROM lead_distribution_members
		WHERE webhook_id = $1 AND organization_id = $2
		ORDER BY user_id
	`, webhookID, organizationID)
	if err != nil {
		return nil, db.MapError("distribution.ListMembers", err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Member, error) {
		return scanMember(row)
	})
	return members, db.MapError("distribution.ListMembers", err)
}

// AddMember adds a user to the pool. Adding an existing member is a conflict.
func (r *Repository) AddMember(ctx context.Context, organizationID, webhookID, userID uuid.UUID, params MemberParams) (domain.Member, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	if err := r.ensureWebhook(ctx, r.pool, organizationID, webhookID); err != nil {
		return domain.Member{}, db.MapError("distribution.AddMember", err)
	}

	m, err := scanMember(r.pool.QueryRow(ctx, `
		INSERT INTO lead_distribution_members (webhook_id, user_id, organization_id, is_active, max_leads_per_day)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+memberColumns,
		webhookID, userID, organizationID, params.IsActive, params.MaxLeadsPerDay,
	))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.Member{}, apperr.Conflict("user is already a member of this webhook")
	}
	if err != nil {
		return domain.Member{}, db.MapError("distribution.AddMember", err)
	}
	return m, nil
}

// UpdateMember changes the active flag and daily cap. The counter is kept; a
// lowered cap simply makes the member ineligible until the next day.
func (r *Repository) UpdateMember(ctx context.Context, organizationID, webhookID, userID uuid.UUID, params MemberParams) (domain.Member, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	m, err := scanMember(r.pool.QueryRow(ctx, `
		UPDATE lead_distribution_members
		SET is_active = $4, max_leads_per_day = $5, updated_at = now()
		WHERE webhook_id = $1 AND user_id = $2 AND organization_id = $3
		RETURNING `+memberColumns,
		webhookID, userID, organizationID, params.IsActive, params.MaxLeadsPerDay,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, apperr.NotFound("member not found")
	}
	if err != nil {
		return domain.Member{}, db.MapError("distribution.UpdateMember", err)
	}
	return m, nil
}

// RemoveMember deletes a user from the pool. Past assignments stay in the audit log.
func (r *Repository) RemoveMember(ctx context.Context, organizationID, webhookID, userID uuid.UUID) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM lead_distribution_members
		WHERE webhook_id = $1 AND user_id = $2 AND organization_id = $3
	`, webhookID, userID, organizationID)
	if err != nil {
		return db.MapError("distribution.RemoveMember", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("member not found")
	}
	return nil
}
