package domain

import (
	"math"
	"time"
)

// Label is the qualitative bucket of a score.
type Label string

const (
	LabelHot  Label = "hot"
	LabelWarm Label = "warm"
	LabelCold Label = "cold"
)

// Trend compares a score to the one before it.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Signals are the raw facts about a deal that feed the score.
type Signals struct {
	InboundMessages  int
	OutboundMessages int
	// FirstInboundAt is the first message the contact sent.
	FirstInboundAt *time.Time
	// FirstResponseAt is the first outbound message at or after FirstInboundAt.
	FirstResponseAt *time.Time
	LastActivityAt  *time.Time

	ProfileFieldsFilled int
	ProfileFieldsTotal  int

	FunnelStagesCompleted int
	FunnelStagesTotal     int

	DealValue float64
}

// TotalMessages returns inbound plus outbound messages.
func (s Signals) TotalMessages() int {
	return s.InboundMessages + s.OutboundMessages
}

// SubScores are the six independently normalised factors, each 0-100.
type SubScores struct {
	ResponseTime        int `json:"responseTime"`
	Engagement          int `json:"engagement"`
	ProfileCompleteness int `json:"profileCompleteness"`
	DealValue           int `json:"dealValue"`
	FunnelProgress      int `json:"funnelProgress"`
	Recency             int `json:"recency"`
}

// Score is the outcome of one computation.
type Score struct {
	Score         int
	Label         Label
	SubScores     SubScores
	PreviousScore *int
	Trend         Trend

	TotalMessages         int
	ProfileFieldsFilled   int
	ProfileFieldsTotal    int
	FunnelStagesCompleted int
	FunnelStagesTotal     int

	CalculatedAt time.Time
}

// ComputeScore turns signals into a score, label and trend. It is pure: the same
// inputs always produce the same result.
func ComputeScore(signals Signals, cfg ScoreConfig, previous *int, now time.Time) Score {
	sub := ComputeSubScores(signals, cfg, now)
	score := Compose(sub, cfg.Weights)

	return Score{
		Score:                 score,
		Label:                 Classify(score, cfg),
		SubScores:             sub,
		PreviousScore:         previous,
		Trend:                 CompareTrend(score, previous),
		TotalMessages:         signals.TotalMessages(),
		ProfileFieldsFilled:   signals.ProfileFieldsFilled,
		ProfileFieldsTotal:    signals.ProfileFieldsTotal,
		FunnelStagesCompleted: signals.FunnelStagesCompleted,
		FunnelStagesTotal:     signals.FunnelStagesTotal,
		CalculatedAt:          now,
	}
}

// ComputeSubScores normalises every factor to 0-100.
func ComputeSubScores(signals Signals, cfg ScoreConfig, now time.Time) SubScores {
	return SubScores{
		ResponseTime:        responseTimeScore(signals, cfg),
		Engagement:          engagementScore(signals, cfg),
		ProfileCompleteness: ratioScore(signals.ProfileFieldsFilled, signals.ProfileFieldsTotal),
		DealValue:           dealValueScore(signals.DealValue, cfg.DealValueTarget),
		FunnelProgress:      ratioScore(signals.FunnelStagesCompleted, signals.FunnelStagesTotal),
		Recency:             RecencyScore(signals.LastActivityAt, now, cfg.RecencyHalfLifeHours),
	}
}

// Compose is the weighted mean of the sub-scores, rounded half away from zero and
// clamped to 0-100. A zero weight sum yields 0; Validate rejects such configs.
func Compose(sub SubScores, w Weights) int {
	total := w.Sum()
	if total <= 0 {
		return 0
	}

	weighted := float64(sub.ResponseTime)*w.ResponseTime +
		float64(sub.Engagement)*w.Engagement +
		float64(sub.ProfileCompleteness)*w.ProfileCompleteness +
		float64(sub.DealValue)*w.DealValue +
		float64(sub.FunnelProgress)*w.FunnelProgress +
		float64(sub.Recency)*w.Recency

	return clampScore(weighted / total)
}

// Classify maps a score to hot, warm or cold using the tenant thresholds.
func Classify(score int, cfg ScoreConfig) Label {
	switch {
	case score >= cfg.HotThreshold:
		return LabelHot
	case score >= cfg.WarmThreshold:
		return LabelWarm
	default:
		return LabelCold
	}
}

// CompareTrend compares score with the previous one. No previous score is stable.
func CompareTrend(score int, previous *int) Trend {
	if previous == nil {
		return TrendStable
	}
	switch {
	case score > *previous:
		return TrendUp
	case score < *previous:
		return TrendDown
	default:
		return TrendStable
	}
}

// RecencyScore decays exponentially with the hours since last activity.
// Activity in the future counts as now. No activity scores 0.
func RecencyScore(lastActivity *time.Time, now time.Time, halfLifeHours float64) int {
	if lastActivity == nil || halfLifeHours <= 0 {
		return 0
	}
	hours := now.Sub(*lastActivity).Hours()
	if hours < 0 {
		hours = 0
	}
	return clampScore(100 * math.Pow(0.5, hours/halfLifeHours))
}

// responseTimeScore is 100 at or below the fast cutoff, 0 at or beyond the slow
// cutoff, declining on a log scale between them. Unanswered conversations score 0.
func responseTimeScore(signals Signals, cfg ScoreConfig) int {
	if signals.FirstInboundAt == nil || signals.FirstResponseAt == nil {
		return 0
	}
	fast, slow := cfg.ResponseFastMinutes, cfg.ResponseSlowMinutes
	if fast <= 0 || slow <= fast {
		return 0
	}

	latency := signals.FirstResponseAt.Sub(*signals.FirstInboundAt).Minutes()
	if latency <= fast {
		return 100
	}
	if latency >= slow {
		return 0
	}
	return clampScore(100 * (1 - math.Log(latency/fast)/math.Log(slow/fast)))
}

// engagementScore gives up to 70 points for volume and 30 for two-way balance.
func engagementScore(signals Signals, cfg ScoreConfig) int {
	total := signals.TotalMessages()
	if total <= 0 {
		return 0
	}

	target := cfg.EngagementTargetMessages
	if target < 1 {
		target = 1
	}
	volume := 70 * math.Min(1, float64(total)/float64(target))

	in, out := signals.InboundMessages, signals.OutboundMessages
	var balance float64
	if hi := max(in, out); hi > 0 {
		balance = 30 * float64(min(in, out)) / float64(hi)
	}

	return clampScore(volume + balance)
}

func dealValueScore(value, target float64) int {
	if value <= 0 || target <= 0 {
		return 0
	}
	return clampScore(100 * math.Min(1, value/target))
}

func ratioScore(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	return clampScore(100 * float64(done) / float64(total))
}

func clampScore(value float64) int {
	if math.IsNaN(value) {
		return 0
	}
	rounded := int(math.Round(value))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}
