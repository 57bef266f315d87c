// Package repository persists lead score configuration, current scores and the
// append-only score history.
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
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeadScore is the current score row of a deal.
type LeadScore struct {
	DealID           uuid.UUID
	OrganizationID   uuid.UUID
	Score            int
	Label            domain.Label
	SubScores        domain.SubScores
	PreviousScore    *int
	Trend            domain.Trend
	TotalMessages    int
	ProfileFilled    int
	ProfileTotal     int
	FunnelCompleted  int
	FunnelTotal      int
	AISummary        *string
	AIRecommendation *string
	LastTrigger      string
	CalculatedAt     time.Time
	UpdatedAt        time.Time
}

// Commit is the result of CommitScore.
type Commit struct {
	Current LeadScore
	// PreviousLabel is nil when the deal had no score before this commit.
	PreviousLabel *domain.Label
}

// ComputeFunc builds the new score given the score currently stored, if any.
// It runs while the deal is locked.
type ComputeFunc func(previous *int) domain.Score

// Repository is the Postgres store for the scoring module.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New creates a repository whose calls are each bounded by timeout.
func New(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

const configColumns = `
	organization_id, weight_response_time, weight_engagement, weight_profile_completeness,
	weight_deal_value, weight_funnel_progress, weight_recency, hot_threshold, warm_threshold,
	auto_update_on_message, auto_update_on_stage_change, recalculate_interval_hours,
	response_fast_minutes, response_slow_minutes, engagement_target_messages, deal_value_target,
	recency_half_life_hours, updated_at`

func scanConfig(row pgx.Row) (domain.ScoreConfig, error) {
	var cfg domain.ScoreConfig
	err := row.Scan(
		&cfg.OrganizationID, &cfg.Weights.ResponseTime, &cfg.Weights.Engagement, &cfg.Weights.ProfileCompleteness,
		&cfg.Weights.DealValue, &cfg.Weights.FunnelProgress, &cfg.Weights.Recency, &cfg.HotThreshold, &cfg.WarmThreshold,
		&cfg.AutoUpdateOnMessage, &cfg.AutoUpdateOnStageChange, &cfg.RecalculateIntervalHours,
		&cfg.ResponseFastMinutes, &cfg.ResponseSlowMinutes, &cfg.EngagementTargetMessages, &cfg.DealValueTarget,
		&cfg.RecencyHalfLifeHours, &cfg.UpdatedAt,
	)
	return cfg, err
}

// GetConfig returns the tenant configuration, or the defaults when none was saved.
func (r *Repository) GetConfig(ctx context.Context, organizationID uuid.UUID) (domain.ScoreConfig, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	cfg, err := scanConfig(r.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM lead_score_configs WHERE organization_id = $1`, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultConfig(organizationID), nil
	}
	if err != nil {
		return domain.ScoreConfig{}, db.MapError("leadscoring.GetConfig", err)
	}
	return cfg, nil
}

// SaveConfig upserts the tenant configuration. Callers validate first.
func (r *Repository) SaveConfig(ctx context.Context, cfg domain.ScoreConfig) (domain.ScoreConfig, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	w := cfg.Weights
	saved, err := scanConfig(r.pool.QueryRow(ctx, `
		INSERT INTO lead_score_configs (
			organization_id, weight_response_time, weight_engagement, weight_profile_completeness,
			weight_deal_value, weight_funnel_progress, weight_recency, hot_threshold, warm_threshold,
			auto_update_on_message, auto_update_on_stage_change, recalculate_interval_hours,
			response_fast_minutes, response_slow_minutes, engagement_target_messages, deal_value_target,
			recency_half_life_hours, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
		ON CONFLICT (organization_id) DO UPDATE SET
			weight_response_time = EXCLUDED.weight_response_time,
			weight_engagement = EXCLUDED.weight_engagement,
			weight_profile_completeness = EXCLUDED.weight_profile_completeness,
			weight_deal_value = EXCLUDED.weight_deal_value,
			weight_funnel_progress = EXCLUDED.weight_funnel_progress,
			weight_recency = EXCLUDED.weight_recency,
			hot_threshold = EXCLUDED.hot_threshold,
			warm_threshold = EXCLUDED.warm_threshold,
			auto_update_on_message = EXCLUDED.auto_update_on_message,
			auto_update_on_stage_change = EXCLUDED.auto_update_on_stage_change,
			recalculate_interval_hours = EXCLUDED.recalculate_interval_hours,
			response_fast_minutes = EXCLUDED.response_fast_minutes,
			response_slow_minutes = EXCLUDED.response_slow_minutes,
			engagement_target_messages = EXCLUDED.engagement_target_messages,
			deal_value_target = EXCLUDED.deal_value_target,
			recency_half_life_hours = EXCLUDED.recency_half_life_hours,
			updated_at = now()
		RETURNING `+configColumns,
		cfg.OrganizationID, w.ResponseTime, w.Engagement, w.ProfileCompleteness,
		w.DealValue, w.FunnelProgress, w.Recency, cfg.HotThreshold, cfg.WarmThreshold,
		cfg.AutoUpdateOnMessage, cfg.AutoUpdateOnStageChange, cfg.RecalculateIntervalHours,
		cfg.ResponseFastMinutes, cfg.ResponseSlowMinutes, cfg.EngagementTargetMessages, cfg.DealValueTarget,
		cfg.RecencyHalfLifeHours,
	))
	if err != nil {
		return domain.ScoreConfig{}, db.MapError("leadscoring.SaveConfig", err)
	}
	return saved, nil
}

const scoreColumns = `
	deal_id, organization_id, score, score_label, response_time_score, engagement_score,
	profile_score, deal_value_score, funnel_score, recency_score, previous_score, score_trend,
	total_messages, profile_fields_filled, profile_fields_total, funnel_stages_completed,
	funnel_stages_total, ai_summary, ai_recommendation, last_trigger, calculated_at, updated_at`

func scanScore(row pgx.Row) (LeadScore, error) {
	var s LeadScore
	err := row.Scan(
		&s.DealID, &s.OrganizationID, &s.Score, &s.Label, &s.SubScores.ResponseTime, &s.SubScores.Engagement,
		&s.SubScores.ProfileCompleteness, &s.SubScores.DealValue, &s.SubScores.FunnelProgress, &s.SubScores.Recency,
		&s.PreviousScore, &s.Trend,
		&s.TotalMessages, &s.ProfileFilled, &s.ProfileTotal, &s.FunnelCompleted,
		&s.FunnelTotal, &s.AISummary, &s.AIRecommendation, &s.LastTrigger, &s.CalculatedAt, &s.UpdatedAt,
	)
	return s, err
}

// GetScore returns the current score of a deal within the tenant.
func (r *Repository) GetScore(ctx context.Context, organizationID, dealID uuid.UUID) (LeadScore, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	s, err := scanScore(r.pool.QueryRow(ctx, `SELECT `+scoreColumns+` FROM lead_scores WHERE deal_id = $1 AND organization_id = $2`, dealID, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadScore{}, apperr.NotFound("lead score not found")
	}
	if err != nil {
		return LeadScore{}, db.MapError("leadscoring.GetScore", err)
	}
	return s, nil
}

// CommitScore serialises on the deal, reads the stored score, computes the new
// one, upserts the current row and appends a history row in one transaction.
func (r *Repository) CommitScore(ctx context.Context, organizationID, dealID uuid.UUID, trigger, actor string, compute ComputeFunc) (Commit, error) {
	var commit Commit

	err := db.InTx(ctx, r.pool, r.timeout, "leadscoring.CommitScore", func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, dealID); err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deals WHERE id = $1 AND organization_id = $2)`, dealID, organizationID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("deal not found")
		}

		var previous *int
		current, err := scanScore(tx.QueryRow(ctx, `SELECT `+scoreColumns+` FROM lead_scores WHERE deal_id = $1`, dealID))
		switch {
		case err == nil:
			p, l := current.Score, current.Label
			previous, commit.PreviousLabel = &p, &l
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		score := compute(previous)
		sub := score.SubScores

		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_score_history (
				organization_id, deal_id, score, score_label, response_time_score, engagement_score,
				profile_score, deal_value_score, funnel_score, recency_score, previous_score, score_trend,
				trigger, actor, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, organizationID, dealID, score.Score, score.Label, sub.ResponseTime, sub.Engagement,
			sub.ProfileCompleteness, sub.DealValue, sub.FunnelProgress, sub.Recency, score.PreviousScore, score.Trend,
			trigger, actor, score.CalculatedAt,
		); err != nil {
			return err
		}

		commit.Current, err = scanScore(tx.QueryRow(ctx, `
			INSERT INTO lead_scores (
				deal_id, organization_id, score, score_label, response_time_score, engagement_score,
				profile_score, deal_value_score, funnel_score, recency_score, previous_score, score_trend,
				total_messages, profile_fields_filled, profile_fields_total, funnel_stages_completed,
				funnel_stages_total, last_trigger, calculated_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
			ON CONFLICT (deal_id) DO UPDATE SET
				score = EXCLUDED.score,
				score_label = EXCLUDED.score_label,
				response_time_score = EXCLUDED.response_time_score,
				engagement_score = EXCLUDED.engagement_score,
				profile_score = EXCLUDED.profile_score,
				deal_value_score = EXCLUDED.deal_value_score,
				funnel_score = EXCLUDED.funnel_score,
				recency_score = EXCLUDED.recency_score,
				previous_score = EXCLUDED.previous_score,
				score_trend = EXCLUDED.score_trend,
				total_messages = EXCLUDED.total_messages,
				profile_fields_filled = EXCLUDED.profile_fields_filled,
				profile_fields_total = EXCLUDED.profile_fields_total,
				funnel_stages_completed = EXCLUDED.funnel_stages_completed,
				funnel_stages_total = EXCLUDED.funnel_stages_total,
				last_trigger = EXCLUDED.last_trigger,
				calculated_at = EXCLUDED.calculated_at,
				updated_at = now()
			RETURNING `+scoreColumns,
			dealID, organizationID, score.Score, score.Label, sub.ResponseTime, sub.Engagement,
			sub.ProfileCompleteness, sub.DealValue, sub.FunnelProgress, sub.Recency, score.PreviousScore, score.Trend,
			score.TotalMessages, score.ProfileFieldsFilled, score.ProfileFieldsTotal, score.FunnelStagesCompleted,
			score.FunnelStagesTotal, trigger, score.CalculatedAt,
		))
		return err
	})
	if err != nil {
		return Commit{}, err
	}
	return commit, nil
}

// SetInsights stores the generated summary and recommendation on the current row.
func (r *Repository) SetInsights(ctx context.Context, organizationID, dealID uuid.UUID, summary, recommendation string) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_scores SET ai_summary = $3, ai_recommendation = $4, updated_at = now()
		WHERE deal_id = $1 AND organization_id = $2
	`, dealID, organizationID, summary, recommendation)
	if err != nil {
		return db.MapError("leadscoring.SetInsights", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead score not found")
	}
	return nil
}
