package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func timeAt(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func intPtr(v int) *int { return &v }

func perfectSignals() Signals {
	return Signals{
		InboundMessages:       15,
		OutboundMessages:      15,
		FirstInboundAt:        timeAt(-2 * time.Hour),
		FirstResponseAt:       timeAt(-2*time.Hour + time.Minute),
		LastActivityAt:        timeAt(0),
		ProfileFieldsFilled:   6,
		ProfileFieldsTotal:    6,
		FunnelStagesCompleted: 5,
		FunnelStagesTotal:     5,
		DealValue:             25000,
	}
}

func TestComputeScorePerfectDealIsHot(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	cfg.Weights = Weights{ResponseTime: 20, Engagement: 20, ProfileCompleteness: 15, DealValue: 15, FunnelProgress: 20, Recency: 10}

	got := ComputeScore(perfectSignals(), cfg, nil, testNow)

	want := SubScores{100, 100, 100, 100, 100, 100}
	if got.SubScores != want {
		t.Fatalf("expected all sub-scores at 100, got %+v", got.SubScores)
	}
	if got.Score != 100 {
		t.Fatalf("expected composite 100, got %d", got.Score)
	}
	if got.Label != LabelHot {
		t.Fatalf("expected hot, got %s", got.Label)
	}
	if got.Trend != TrendStable {
		t.Fatalf("expected stable trend without previous score, got %s", got.Trend)
	}
}

func TestComputeScoreEmptySignals(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	got := ComputeScore(Signals{}, cfg, nil, testNow)
	if got.Score != 0 || got.Label != LabelCold {
		t.Fatalf("expected 0/cold for a deal without signals, got %d/%s", got.Score, got.Label)
	}
}

func TestComputeScoreStaysInRangeAndLabelMatchesThresholds(t *testing.T) {
	configs := []ScoreConfig{DefaultConfig(uuid.New())}
	skewed := DefaultConfig(uuid.New())
	skewed.Weights = Weights{ResponseTime: 1000, Recency: 0.001}
	skewed.HotThreshold, skewed.WarmThreshold = 95, 5
	configs = append(configs, skewed)

	signals := []Signals{
		{},
		perfectSignals(),
		{InboundMessages: 3, FirstInboundAt: timeAt(-48 * time.Hour), LastActivityAt: timeAt(-400 * time.Hour)},
		{OutboundMessages: 100, DealValue: -50, ProfileFieldsFilled: 9, ProfileFieldsTotal: 6},
		{InboundMessages: 4, OutboundMessages: 1, FirstInboundAt: timeAt(-10 * time.Hour), FirstResponseAt: timeAt(-9 * time.Hour), LastActivityAt: timeAt(time.Hour), DealValue: 4000},
	}

	for ci, cfg := range configs {
		for si, sig := range signals {
			got := ComputeScore(sig, cfg, nil, testNow)
			if got.Score < 0 || got.Score > 100 {
				t.Fatalf("config %d signals %d: score %d out of range", ci, si, got.Score)
			}
			var want Label
			switch {
			case got.Score >= cfg.HotThreshold:
				want = LabelHot
			case got.Score >= cfg.WarmThreshold:
				want = LabelWarm
			default:
				want = LabelCold
			}
			if got.Label != want {
				t.Fatalf("config %d signals %d: score %d labelled %s, want %s", ci, si, got.Score, got.Label, want)
			}
		}
	}
}

func TestComputeScoreIsIdempotent(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	sig := Signals{
		InboundMessages:  6,
		OutboundMessages: 3,
		FirstInboundAt:   timeAt(-30 * time.Hour),
		FirstResponseAt:  timeAt(-29 * time.Hour),
		LastActivityAt:   timeAt(-5 * time.Hour),
		DealValue:        2500,
	}

	first := ComputeScore(sig, cfg, nil, testNow)
	second := ComputeScore(sig, cfg, intPtr(first.Score), testNow)

	if first.Score != second.Score {
		t.Fatalf("expected identical scores, got %d and %d", first.Score, second.Score)
	}
	if second.Trend != TrendStable {
		t.Fatalf("expected stable trend on recomputation, got %s", second.Trend)
	}
}

func TestRecencyScoreIsMonotonic(t *testing.T) {
	last := -1
	for hours := 0; hours <= 24*30; hours += 3 {
		activity := testNow.Add(-time.Duration(hours) * time.Hour)
		got := RecencyScore(&activity, testNow, 72)
		if last >= 0 && got > last {
			t.Fatalf("recency increased from %d to %d at %dh", last, got, hours)
		}
		last = got
	}
	if RecencyScore(nil, testNow, 72) != 0 {
		t.Fatal("expected no activity to score 0")
	}
	if got := RecencyScore(timeAt(-72*time.Hour), testNow, 72); got != 50 {
		t.Fatalf("expected 50 after one half-life, got %d", got)
	}
}

func TestResponseTimeScore(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	cases := []struct {
		name    string
		latency time.Duration
		want    int
	}{
		{"instant", 0, 100},
		{"at fast cutoff", 5 * time.Minute, 100},
		{"at slow cutoff", 24 * time.Hour, 0},
		{"beyond slow cutoff", 72 * time.Hour, 0},
	}
	for _, tc := range cases {
		sig := Signals{FirstInboundAt: timeAt(-100 * time.Hour), FirstResponseAt: timeAt(-100*time.Hour + tc.latency)}
		if got := responseTimeScore(sig, cfg); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}

	fast := Signals{FirstInboundAt: timeAt(-10 * time.Hour), FirstResponseAt: timeAt(-10*time.Hour + 30*time.Minute)}
	slow := Signals{FirstInboundAt: timeAt(-10 * time.Hour), FirstResponseAt: timeAt(-10*time.Hour + 5*time.Hour)}
	if responseTimeScore(fast, cfg) <= responseTimeScore(slow, cfg) {
		t.Fatal("expected faster responses to score higher")
	}

	unanswered := Signals{FirstInboundAt: timeAt(-time.Hour)}
	if got := responseTimeScore(unanswered, cfg); got != 0 {
		t.Fatalf("expected unanswered conversation to score 0, got %d", got)
	}
}

func TestEngagementScore(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	cases := []struct {
		in, out int
		want    int
	}{
		{0, 0, 0},
		{10, 10, 100},
		{20, 0, 70},
		{5, 5, 65},
		{40, 40, 100},
	}
	for _, tc := range cases {
		got := engagementScore(Signals{InboundMessages: tc.in, OutboundMessages: tc.out}, cfg)
		if got != tc.want {
			t.Fatalf("in=%d out=%d: expected %d, got %d", tc.in, tc.out, tc.want, got)
		}
	}
}

func TestComposeNormalisesWeights(t *testing.T) {
	sub := SubScores{ResponseTime: 80, Engagement: 40}
	small := Weights{ResponseTime: 1, Engagement: 1}
	large := Weights{ResponseTime: 50, Engagement: 50}

	if Compose(sub, small) != 60 || Compose(sub, large) != 60 {
		t.Fatalf("expected weight scale not to matter, got %d and %d", Compose(sub, small), Compose(sub, large))
	}
	if Compose(sub, Weights{}) != 0 {
		t.Fatal("expected zero weights to compose to 0")
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	cases := []struct {
		score int
		want  Label
	}{
		{100, LabelHot},
		{70, LabelHot},
		{69, LabelWarm},
		{40, LabelWarm},
		{39, LabelCold},
		{0, LabelCold},
	}
	for _, tc := range cases {
		if got := Classify(tc.score, cfg); got != tc.want {
			t.Fatalf("score %d: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestCompareTrend(t *testing.T) {
	if CompareTrend(50, intPtr(40)) != TrendUp {
		t.Fatal("expected up")
	}
	if CompareTrend(30, intPtr(40)) != TrendDown {
		t.Fatal("expected down")
	}
	if CompareTrend(40, intPtr(40)) != TrendStable {
		t.Fatal("expected stable on equal scores")
	}
	if CompareTrend(40, nil) != TrendStable {
		t.Fatal("expected stable without previous score")
	}
}
