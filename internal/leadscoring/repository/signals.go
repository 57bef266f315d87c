package repository

import (
	"context"
	"errors"
	"time"

	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ProfileFieldsTotal is the number of contact fields counted for profile completeness:
// name, phone, email, company, city and job title.
const ProfileFieldsTotal = 6

// LoadSignals gathers the conversation, profile, funnel and value signals of a deal.
func (r *Repository) LoadSignals(ctx context.Context, organizationID, dealID uuid.UUID) (domain.Signals, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	var (
		sig        domain.Signals
		contactID  *uuid.UUID
		funnelID   *uuid.UUID
		stageID    *uuid.UUID
		status     string
		dealUpdate time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT d.value::float8, d.status, d.contact_id, d.funnel_id, d.stage_id, d.updated_at,
			(CASE WHEN btrim(COALESCE(c.name, '')) <> '' THEN 1 ELSE 0 END) +
			(CASE WHEN btrim(COALESCE(c.phone, '')) <> '' THEN 1 ELSE 0 END) +
			(CASE WHEN btrim(COALESCE(c.email, '')) <> '' THEN 1 ELSE 0 END) +
			(CASE WHEN btrim(COALESCE(c.company, '')) <> '' THEN 1 ELSE 0 END) +
			(CASE WHEN btrim(COALESCE(c.city, '')) <> '' THEN 1 ELSE 0 END) +
			(CASE WHEN btrim(COALESCE(c.job_title, '')) <> '' THEN 1 ELSE 0 END)
		FROM deals d
		LEFT JOIN contacts c ON c.id = d.contact_id AND c.organization_id = d.organization_id
		WHERE d.id = $1 AND d.organization_id = $2
	`, dealID, organizationID).Scan(&sig.DealValue, &status, &contactID, &funnelID, &stageID, &dealUpdate, &sig.ProfileFieldsFilled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Signals{}, apperr.NotFound("deal not found")
	}
	if err != nil {
		return domain.Signals{}, db.MapError("leadscoring.LoadSignals", err)
	}
	sig.ProfileFieldsTotal = ProfileFieldsTotal
	sig.LastActivityAt = &dealUpdate

	if contactID != nil {
		var lastMessage *time.Time
		err = r.pool.QueryRow(ctx, `
			WITH m AS (
				SELECT direction, created_at FROM messages
				WHERE organization_id = $1 AND contact_id = $2
			), first_in AS (
				SELECT MIN(created_at) AS at FROM m WHERE direction = 'inbound'
			)
			SELECT
				(SELECT COUNT(*) FROM m WHERE direction = 'inbound'),
				(SELECT COUNT(*) FROM m WHERE direction = 'outbound'),
				(SELECT at FROM first_in),
				(SELECT MIN(m.created_at) FROM m, first_in WHERE m.direction = 'outbound' AND m.created_at >= first_in.at),
				(SELECT MAX(created_at) FROM m)
		`, organizationID, *contactID).Scan(&sig.InboundMessages, &sig.OutboundMessages, &sig.FirstInboundAt, &sig.FirstResponseAt, &lastMessage)
		if err != nil {
			return domain.Signals{}, db.MapError("leadscoring.LoadSignals", err)
		}
		if lastMessage != nil && lastMessage.After(dealUpdate) {
			sig.LastActivityAt = lastMessage
		}
	}

	if funnelID != nil {
		err = r.pool.QueryRow(ctx, `
			SELECT COUNT(*),
				COUNT(*) FILTER (WHERE position < COALESCE((SELECT position FROM funnel_stages WHERE id = $2), -2147483648))
			FROM funnel_stages
			WHERE funnel_id = $1 AND organization_id = $3
		`, *funnelID, stageID, organizationID).Scan(&sig.FunnelStagesTotal, &sig.FunnelStagesCompleted)
		if err != nil {
			return domain.Signals{}, db.MapError("leadscoring.LoadSignals", err)
		}
		if status == "won" {
			sig.FunnelStagesCompleted = sig.FunnelStagesTotal
		}
	}

	return sig, nil
}

// ListActiveDealIDs returns the open deals of a tenant.
func (r *Repository) ListActiveDealIDs(ctx context.Context, organizationID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id FROM deals WHERE organization_id = $1 AND status = 'open' ORDER BY created_at ASC
	`, organizationID)
	if err != nil {
		return nil, db.MapError("leadscoring.ListActiveDealIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, db.MapError("leadscoring.ListActiveDealIDs", err)
}

// ListStaleDealIDs returns open deals never scored or last scored longer than
// intervalHours before now.
func (r *Repository) ListStaleDealIDs(ctx context.Context, organizationID uuid.UUID, intervalHours int, now time.Time) ([]uuid.UUID, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	cutoff := now.Add(-time.Duration(intervalHours) * time.Hour)
	rows, err := r.pool.Query(ctx, `
		SELECT d.id
		FROM deals d
		LEFT JOIN lead_scores s ON s.deal_id = d.id
		WHERE d.organization_id = $1 AND d.status = 'open'
			AND (s.calculated_at IS NULL OR s.calculated_at <= $2)
		ORDER BY s.calculated_at ASC NULLS FIRST
	`, organizationID, cutoff)
	if err != nil {
		return nil, db.MapError("leadscoring.ListStaleDealIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, db.MapError("leadscoring.ListStaleDealIDs", err)
}

// ListOrganizationIDs returns every tenant that has at least one open deal.
func (r *Repository) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT DISTINCT organization_id FROM deals WHERE status = 'open'`)
	if err != nil {
		return nil, db.MapError("leadscoring.ListOrganizationIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, db.MapError("leadscoring.ListOrganizationIDs", err)
}

// DealExists reports whether the deal belongs to the tenant.
func (r *Repository) DealExists(ctx context.Context, organizationID, dealID uuid.UUID) (bool, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deals WHERE id = $1 AND organization_id = $2)`, dealID, organizationID).Scan(&exists)
	if err != nil {
		return false, db.MapError("leadscoring.DealExists", err)
	}
	return exists, nil
}
