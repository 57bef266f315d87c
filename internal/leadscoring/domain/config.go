// Package domain holds the pure lead scoring model: configuration, signals,
// sub-score normalisation and composition. Nothing here touches the store.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"wacrm_backend/platform/apperr"

	"github.com/google/uuid"
)

// Weights are the relative importance of each factor. They need not sum to any
// particular total; Compose divides by their sum.
type Weights struct {
	ResponseTime        float64 `json:"responseTime"`
	Engagement          float64 `json:"engagement"`
	ProfileCompleteness float64 `json:"profileCompleteness"`
	DealValue           float64 `json:"dealValue"`
	FunnelProgress      float64 `json:"funnelProgress"`
	Recency             float64 `json:"recency"`
}

// Sum returns the total of all six weights.
func (w Weights) Sum() float64 {
	return w.ResponseTime + w.Engagement + w.ProfileCompleteness + w.DealValue + w.FunnelProgress + w.Recency
}

func (w Weights) named() []namedWeight {
	return []namedWeight{
		{"response_time", w.ResponseTime},
		{"engagement", w.Engagement},
		{"profile_completeness", w.ProfileCompleteness},
		{"deal_value", w.DealValue},
		{"funnel_progress", w.FunnelProgress},
		{"recency", w.Recency},
	}
}

type namedWeight struct {
	name  string
	value float64
}

// ScoreConfig is the per-tenant scoring configuration.
type ScoreConfig struct {
	OrganizationID           uuid.UUID `json:"organizationId"`
	Weights                  Weights   `json:"weights"`
	HotThreshold             int       `json:"hotThreshold"`
	WarmThreshold            int       `json:"warmThreshold"`
	AutoUpdateOnMessage      bool      `json:"autoUpdateOnMessage"`
	AutoUpdateOnStageChange  bool      `json:"autoUpdateOnStageChange"`
	RecalculateIntervalHours int       `json:"recalculateIntervalHours"`

	// Normalisation tunables.
	ResponseFastMinutes      float64 `json:"responseFastMinutes"`
	ResponseSlowMinutes      float64 `json:"responseSlowMinutes"`
	EngagementTargetMessages int     `json:"engagementTargetMessages"`
	DealValueTarget          float64 `json:"dealValueTarget"`
	RecencyHalfLifeHours     float64 `json:"recencyHalfLifeHours"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultConfig returns the configuration used for tenants that never saved one.
func DefaultConfig(organizationID uuid.UUID) ScoreConfig {
	return ScoreConfig{
		OrganizationID: organizationID,
		Weights: Weights{
			ResponseTime:        20,
			Engagement:          20,
			ProfileCompleteness: 15,
			DealValue:           15,
			FunnelProgress:      20,
			Recency:             10,
		},
		HotThreshold:             70,
		WarmThreshold:            40,
		AutoUpdateOnMessage:      true,
		AutoUpdateOnStageChange:  true,
		RecalculateIntervalHours: 24,
		ResponseFastMinutes:      5,
		ResponseSlowMinutes:      1440,
		EngagementTargetMessages: 20,
		DealValueTarget:          10000,
		RecencyHalfLifeHours:     72,
	}
}

// Upper bounds keep every value inside its lead_score_configs column.
const (
	MaxWeight                   = 1000
	MaxMinutesOrHours           = 10_000_000
	MaxDealValueTarget          = 100_000_000_000
	MaxEngagementTargetMessages = 1_000_000
	MaxRecalculateIntervalHours = 8760
)

// Validate rejects configurations the engine cannot apply. The returned error is
// an apperr validation error listing every problem found.
func (c ScoreConfig) Validate() error {
	var problems []string

	for _, w := range c.Weights.named() {
		if math.IsNaN(w.value) || math.IsInf(w.value, 0) || w.value < 0 || w.value > MaxWeight {
			problems = append(problems, fmt.Sprintf("weight %s must be between 0 and %d", w.name, MaxWeight))
		}
	}
	if len(problems) == 0 && c.Weights.Sum() <= 0 {
		problems = append(problems, "at least one weight must be positive")
	}

	if c.HotThreshold < 0 || c.HotThreshold > 100 {
		problems = append(problems, "hot_threshold must be between 0 and 100")
	}
	if c.WarmThreshold < 0 || c.WarmThreshold > 100 {
		problems = append(problems, "warm_threshold must be between 0 and 100")
	}
	if c.HotThreshold <= c.WarmThreshold {
		problems = append(problems, "hot_threshold must be greater than warm_threshold")
	}
	if c.RecalculateIntervalHours < 1 || c.RecalculateIntervalHours > MaxRecalculateIntervalHours {
		problems = append(problems, fmt.Sprintf("recalculate_interval_hours must be between 1 and %d", MaxRecalculateIntervalHours))
	}

	if !(c.ResponseFastMinutes > 0) {
		problems = append(problems, "response_fast_minutes must be positive")
	}
	if c.ResponseSlowMinutes <= c.ResponseFastMinutes {
		problems = append(problems, "response_slow_minutes must be greater than response_fast_minutes")
	}
	if !(c.ResponseSlowMinutes <= MaxMinutesOrHours) {
		problems = append(problems, fmt.Sprintf("response_slow_minutes must not exceed %d", MaxMinutesOrHours))
	}
	if c.EngagementTargetMessages < 1 || c.EngagementTargetMessages > MaxEngagementTargetMessages {
		problems = append(problems, fmt.Sprintf("engagement_target_messages must be between 1 and %d", MaxEngagementTargetMessages))
	}
	if !(c.DealValueTarget > 0 && c.DealValueTarget <= MaxDealValueTarget) {
		problems = append(problems, fmt.Sprintf("deal_value_target must be positive and not exceed %d", MaxDealValueTarget))
	}
	if !(c.RecencyHalfLifeHours > 0 && c.RecencyHalfLifeHours <= MaxMinutesOrHours) {
		problems = append(problems, fmt.Sprintf("recency_half_life_hours must be positive and not exceed %d", MaxMinutesOrHours))
	}

	if len(problems) > 0 {
		return apperr.Validation("invalid lead score configuration: " + strings.Join(problems, "; ")).
			WithDetails(problems)
	}
	return nil
}
