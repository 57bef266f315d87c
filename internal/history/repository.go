// Package history provides read-only queries over the score history and the
// assignment audit log: leaderboard, label statistics and per-entity trails.
// Rows are written by the scoring and distribution modules and never changed here.
package history

import (
	"context"
	"time"

	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeadScoreWithDeal is a leaderboard row.
type LeadScoreWithDeal struct {
	DealID         uuid.UUID  `json:"dealId"`
	DealTitle      string     `json:"dealTitle"`
	DealValue      float64    `json:"dealValue"`
	DealStatus     string     `json:"dealStatus"`
	AssignedUserID *uuid.UUID `json:"assignedUserId"`
	ContactName    *string    `json:"contactName"`
	ContactPhone   *string    `json:"contactPhone"`
	Score          int        `json:"score"`
	Label          string     `json:"scoreLabel"`
	Trend          string     `json:"scoreTrend"`
	PreviousScore  *int       `json:"previousScore"`
	CalculatedAt   time.Time  `json:"calculatedAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Stats aggregates the current scores of a tenant. Average, Min and Max are nil
// when no deal is scored.
type Stats struct {
	Total   int      `json:"total"`
	Hot     int      `json:"hot"`
	Warm    int      `json:"warm"`
	Cold    int      `json:"cold"`
	Average *float64 `json:"average"`
	Min     *int     `json:"min"`
	Max     *int     `json:"max"`
}

// ScoreEntry is one row of a deal's score history.
type ScoreEntry struct {
	ID                int64     `json:"id"`
	Score             int       `json:"score"`
	Label             string    `json:"scoreLabel"`
	ResponseTimeScore int       `json:"responseTimeScore"`
	EngagementScore   int       `json:"engagementScore"`
	ProfileScore      int       `json:"profileScore"`
	DealValueScore    int       `json:"dealValueScore"`
	FunnelScore       int       `json:"funnelScore"`
	RecencyScore      int       `json:"recencyScore"`
	PreviousScore     *int      `json:"previousScore"`
	Trend             string    `json:"scoreTrend"`
	Trigger           string    `json:"trigger"`
	Actor             string    `json:"actor"`
	CreatedAt         time.Time `json:"createdAt"`
}

// AssignmentEntry is one distribution decision.
type AssignmentEntry struct {
	ID         int64      `json:"id"`
	DealID     uuid.UUID  `json:"dealId"`
	UserID     *uuid.UUID `json:"userId"`
	Outcome    string     `json:"outcome"`
	LeadsToday *int       `json:"leadsToday"`
	Actor      string     `json:"actor"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Repository runs the history queries.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository creates a history repository.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

// Leaderboard returns the top scored deals, highest score first and most recently
// updated first among equal scores. An empty label means all labels.
func (r *Repository) Leaderboard(ctx context.Context, organizationID uuid.UUID, limit int, label string) ([]LeadScoreWithDeal, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT s.deal_id, d.title, d.value::float8, d.status, d.assigned_user_id, c.name, c.phone,
			s.score, s.score_label, s.score_trend, s.previous_score, s.calculated_at, s.updated_at
		FROM lead_scores s
		JOIN deals d ON d.id = s.deal_id AND d.organization_id = s.organization_id
		LEFT JOIN contacts c ON c.id = d.contact_id
		WHERE s.organization_id = $1 AND ($2 = '' OR s.score_label = $2)
		ORDER BY s.score DESC, s.updated_at DESC, s.deal_id
		LIMIT $3
	`, organizationID, label, limit)
	if err != nil {
		return nil, db.MapError("history.Leaderboard", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeadScoreWithDeal, error) {
		var item LeadScoreWithDeal
		err := row.Scan(&item.DealID, &item.DealTitle, &item.DealValue, &item.DealStatus, &item.AssignedUserID,
			&item.ContactName, &item.ContactPhone, &item.Score, &item.Label, &item.Trend, &item.PreviousScore,
			&item.CalculatedAt, &item.UpdatedAt)
		return item, err
	})
	return items, db.MapError("history.Leaderboard", err)
}

// Stats counts current scores by label and computes average, min and max.
func (r *Repository) Stats(ctx context.Context, organizationID uuid.UUID) (Stats, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	var s Stats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE score_label = 'hot'),
			COUNT(*) FILTER (WHERE score_label = 'warm'),
			COUNT(*) FILTER (WHERE score_label = 'cold'),
			AVG(score)::float8, MIN(score), MAX(score)
		FROM lead_scores
		WHERE organization_id = $1
	`, organizationID).Scan(&s.Total, &s.Hot, &s.Warm, &s.Cold, &s.Average, &s.Min, &s.Max)
	if err != nil {
		return Stats{}, db.MapError("history.Stats", err)
	}
	return s, nil
}

// ScoreHistory returns the newest history rows of a deal.
func (r *Repository) ScoreHistory(ctx context.Context, organizationID, dealID uuid.UUID, limit int) ([]ScoreEntry, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	if err := r.ensureExists(ctx, `SELECT EXISTS (SELECT 1 FROM deals WHERE id = $1 AND organization_id = $2)`, dealID, organizationID, "deal not found"); err != nil {
		return nil, db.MapError("history.ScoreHistory", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, score, score_label, response_time_score, engagement_score, profile_score,
			deal_value_score, funnel_score, recency_score, previous_score, score_trend, trigger, actor, created_at
		FROM lead_score_history
		WHERE deal_id = $1 AND organization_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, dealID, organizationID, limit)
	if err != nil {
		return nil, db.MapError("history.ScoreHistory", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScoreEntry, error) {
		var e ScoreEntry
		err := row.Scan(&e.ID, &e.Score, &e.Label, &e.ResponseTimeScore, &e.EngagementScore, &e.ProfileScore,
			&e.DealValueScore, &e.FunnelScore, &e.RecencyScore, &e.PreviousScore, &e.Trend, &e.Trigger, &e.Actor, &e.CreatedAt)
		return e, err
	})
	return items, db.MapError("history.ScoreHistory", err)
}

// AssignmentLog returns the newest distribution decisions of a webhook.
func (r *Repository) AssignmentLog(ctx context.Context, organizationID, webhookID uuid.UUID, limit int) ([]AssignmentEntry, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	if err := r.ensureExists(ctx, `SELECT EXISTS (SELECT 1 FROM lead_webhooks WHERE id = $1 AND organization_id = $2)`, webhookID, organizationID, "webhook not found"); err != nil {
		return nil, db.MapError("history.AssignmentLog", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, user_id, outcome, leads_today, actor, created_at
		FROM lead_distribution_assignments
		WHERE webhook_id = $1 AND organization_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, webhookID, organizationID, limit)
	if err != nil {
		return nil, db.MapError("history.AssignmentLog", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AssignmentEntry, error) {
		var e AssignmentEntry
		err := row.Scan(&e.ID, &e.DealID, &e.UserID, &e.Outcome, &e.LeadsToday, &e.Actor, &e.CreatedAt)
		return e, err
	})
	return items, db.MapError("history.AssignmentLog", err)
}

func (r *Repository) ensureExists(ctx context.Context, query string, id, organizationID uuid.UUID, notFound string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, query, id, organizationID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound(notFound)
	}
	return nil
}
