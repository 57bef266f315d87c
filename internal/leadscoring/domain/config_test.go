package domain

import (
	"math"
	"testing"

	"wacrm_backend/platform/apperr"

	"github.com/google/uuid"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig(uuid.New()).Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	cfg.HotThreshold = 50
	cfg.WarmThreshold = 60

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected hot=50 warm=60 to be rejected")
	}
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ScoreConfig)
	}{
		{"equal thresholds", func(c *ScoreConfig) { c.HotThreshold, c.WarmThreshold = 50, 50 }},
		{"hot above 100", func(c *ScoreConfig) { c.HotThreshold = 101 }},
		{"negative warm", func(c *ScoreConfig) { c.WarmThreshold = -1 }},
		{"negative weight", func(c *ScoreConfig) { c.Weights.Engagement = -0.5 }},
		{"NaN weight", func(c *ScoreConfig) { c.Weights.Recency = math.NaN() }},
		{"all zero weights", func(c *ScoreConfig) { c.Weights = Weights{} }},
		{"weight beyond column precision", func(c *ScoreConfig) { c.Weights.DealValue = 100000 }},
		{"weights whose sum overflows", func(c *ScoreConfig) {
			c.Weights = Weights{1e308, 1e308, 1e308, 1e308, 1e308, 1e308}
		}},
		{"huge deal target", func(c *ScoreConfig) { c.DealValueTarget = 1e15 }},
		{"infinite half-life", func(c *ScoreConfig) { c.RecencyHalfLifeHours = math.Inf(1) }},
		{"interval beyond a year", func(c *ScoreConfig) { c.RecalculateIntervalHours = 9000 }},
		{"zero interval", func(c *ScoreConfig) { c.RecalculateIntervalHours = 0 }},
		{"slow below fast", func(c *ScoreConfig) { c.ResponseSlowMinutes = 1 }},
		{"zero half-life", func(c *ScoreConfig) { c.RecencyHalfLifeHours = 0 }},
		{"zero deal target", func(c *ScoreConfig) { c.DealValueTarget = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig(uuid.New())
		tc.mutate(&cfg)
		if err := cfg.Validate(); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestMaxWeightsStillComposeToPerfectScore(t *testing.T) {
	w := Weights{MaxWeight, MaxWeight, MaxWeight, MaxWeight, MaxWeight, MaxWeight}
	cfg := DefaultConfig(uuid.New())
	cfg.Weights = w
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected max weights to be accepted: %v", err)
	}
	perfect := SubScores{100, 100, 100, 100, 100, 100}
	if got := Compose(perfect, w); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestValidateAcceptsUnnormalisedWeights(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	cfg.Weights = Weights{ResponseTime: 3, Engagement: 0, ProfileCompleteness: 0.25}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected weights with arbitrary sum to be accepted: %v", err)
	}
}
