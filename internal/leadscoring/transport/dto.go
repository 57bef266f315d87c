// Package transport holds the request and response shapes of the lead scoring API.
package transport

import (
	"time"

	"wacrm_backend/internal/leadscoring/domain"
	"wacrm_backend/internal/leadscoring/repository"

	"github.com/google/uuid"
)

// WeightsRequest carries optional weight overrides.
type WeightsRequest struct {
	ResponseTime        *float64 `json:"responseTime" validate:"omitempty,gte=0,lte=1000"`
	Engagement          *float64 `json:"engagement" validate:"omitempty,gte=0,lte=1000"`
	ProfileCompleteness *float64 `json:"profileCompleteness" validate:"omitempty,gte=0,lte=1000"`
	DealValue           *float64 `json:"dealValue" validate:"omitempty,gte=0,lte=1000"`
	FunnelProgress      *float64 `json:"funnelProgress" validate:"omitempty,gte=0,lte=1000"`
	Recency             *float64 `json:"recency" validate:"omitempty,gte=0,lte=1000"`
}

// UpdateConfigRequest is a partial update; omitted fields keep their stored value.
type UpdateConfigRequest struct {
	Weights                  *WeightsRequest `json:"weights"`
	HotThreshold             *int            `json:"hotThreshold" validate:"omitempty,min=0,max=100"`
	WarmThreshold            *int            `json:"warmThreshold" validate:"omitempty,min=0,max=100"`
	AutoUpdateOnMessage      *bool           `json:"autoUpdateOnMessage"`
	AutoUpdateOnStageChange  *bool           `json:"autoUpdateOnStageChange"`
	RecalculateIntervalHours *int            `json:"recalculateIntervalHours" validate:"omitempty,min=1,max=8760"`
	ResponseFastMinutes      *float64        `json:"responseFastMinutes" validate:"omitempty,gt=0,lte=10000000"`
	ResponseSlowMinutes      *float64        `json:"responseSlowMinutes" validate:"omitempty,gt=0,lte=10000000"`
	EngagementTargetMessages *int            `json:"engagementTargetMessages" validate:"omitempty,min=1,max=1000000"`
	DealValueTarget          *float64        `json:"dealValueTarget" validate:"omitempty,gt=0,lte=100000000000"`
	RecencyHalfLifeHours     *float64        `json:"recencyHalfLifeHours" validate:"omitempty,gt=0,lte=10000000"`
}

// Apply overlays the request on cfg.
func (r UpdateConfigRequest) Apply(cfg domain.ScoreConfig) domain.ScoreConfig {
	if w := r.Weights; w != nil {
		setFloat(&cfg.Weights.ResponseTime, w.ResponseTime)
		setFloat(&cfg.Weights.Engagement, w.Engagement)
		setFloat(&cfg.Weights.ProfileCompleteness, w.ProfileCompleteness)
		setFloat(&cfg.Weights.DealValue, w.DealValue)
		setFloat(&cfg.Weights.FunnelProgress, w.FunnelProgress)
		setFloat(&cfg.Weights.Recency, w.Recency)
	}
	setInt(&cfg.HotThreshold, r.HotThreshold)
	setInt(&cfg.WarmThreshold, r.WarmThreshold)
	if r.AutoUpdateOnMessage != nil {
		cfg.AutoUpdateOnMessage = *r.AutoUpdateOnMessage
	}
	if r.AutoUpdateOnStageChange != nil {
		cfg.AutoUpdateOnStageChange = *r.AutoUpdateOnStageChange
	}
	setInt(&cfg.RecalculateIntervalHours, r.RecalculateIntervalHours)
	setFloat(&cfg.ResponseFastMinutes, r.ResponseFastMinutes)
	setFloat(&cfg.ResponseSlowMinutes, r.ResponseSlowMinutes)
	setInt(&cfg.EngagementTargetMessages, r.EngagementTargetMessages)
	setFloat(&cfg.DealValueTarget, r.DealValueTarget)
	setFloat(&cfg.RecencyHalfLifeHours, r.RecencyHalfLifeHours)
	return cfg
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// DealEventRequest reports a conversation or pipeline event for a deal.
type DealEventRequest struct {
	DealID string `json:"dealId" validate:"required,uuid"`
}

// LeadScoreResponse is the current score of a deal.
type LeadScoreResponse struct {
	DealID                uuid.UUID        `json:"dealId"`
	Score                 int              `json:"score"`
	Label                 string           `json:"scoreLabel"`
	SubScores             domain.SubScores `json:"subScores"`
	PreviousScore         *int             `json:"previousScore"`
	Trend                 string           `json:"scoreTrend"`
	TotalMessages         int              `json:"totalMessages"`
	ProfileFieldsFilled   int              `json:"profileFieldsFilled"`
	ProfileFieldsTotal    int              `json:"profileFieldsTotal"`
	FunnelStagesCompleted int              `json:"funnelStagesCompleted"`
	FunnelStagesTotal     int              `json:"funnelStagesTotal"`
	AISummary             *string          `json:"aiSummary,omitempty"`
	AIRecommendation      *string          `json:"aiRecommendation,omitempty"`
	LastTrigger           string           `json:"lastTrigger"`
	CalculatedAt          time.Time        `json:"calculatedAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// ToLeadScoreResponse maps a stored score to its API shape.
func ToLeadScoreResponse(s repository.LeadScore) LeadScoreResponse {
	return LeadScoreResponse{
		DealID:                s.DealID,
		Score:                 s.Score,
		Label:                 string(s.Label),
		SubScores:             s.SubScores,
		PreviousScore:         s.PreviousScore,
		Trend:                 string(s.Trend),
		TotalMessages:         s.TotalMessages,
		ProfileFieldsFilled:   s.ProfileFilled,
		ProfileFieldsTotal:    s.ProfileTotal,
		FunnelStagesCompleted: s.FunnelCompleted,
		FunnelStagesTotal:     s.FunnelTotal,
		AISummary:             s.AISummary,
		AIRecommendation:      s.AIRecommendation,
		LastTrigger:           s.LastTrigger,
		CalculatedAt:          s.CalculatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

// TriggerResponse is returned by the event endpoints.
type TriggerResponse struct {
	Status string             `json:"status"`
	Score  *LeadScoreResponse `json:"score,omitempty"`
}
