// Package insights writes a short LLM-generated summary and next-step
// recommendation onto the score of a deal that just turned hot.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wacrm_backend/internal/leadscoring/repository"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const (
	maxSummaryLen        = 500
	maxRecommendationLen = 500
	maxOutputTokens      = 400
)

const systemPrompt = `You are a sales assistant for a WhatsApp CRM.
Given the score breakdown of a lead, explain in one or two sentences why the lead is promising,
then recommend the single most useful next action for the salesperson.
Reply in the language of the CRM user (Brazilian Portuguese) with a JSON object:
{"summary": "...", "recommendation": "..."}`

// ErrEmptyInsight is returned when the model answered without usable text.
var ErrEmptyInsight = errors.New("insights: empty model response")

// Insight is the parsed model answer.
type Insight struct {
	Summary        string `json:"summary"`
	Recommendation string `json:"recommendation"`
}

// Generator turns a score into an Insight using any ADK-compatible model.
type Generator struct {
	llm model.LLM
}

// NewGenerator creates a generator backed by llm.
func NewGenerator(llm model.LLM) *Generator {
	return &Generator{llm: llm}
}

// Generate asks the model for a summary and recommendation of score.
func (g *Generator) Generate(ctx context.Context, score repository.LeadScore) (Insight, error) {
	temperature := float32(0.3)
	req := &model.LLMRequest{
		Model: g.llm.Name(),
		Contents: []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: buildPrompt(score)}}},
		},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       &temperature,
			MaxOutputTokens:   maxOutputTokens,
		},
	}

	var text strings.Builder
	for resp, err := range g.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return Insight{}, fmt.Errorf("insights: generate: %w", err)
		}
		text.WriteString(collectContentText(resp))
	}
	return parseInsight(text.String())
}

func buildPrompt(score repository.LeadScore) string {
	sub := score.SubScores
	var b strings.Builder
	fmt.Fprintf(&b, "Lead score: %d/100 (%s, trend %s)\n", score.Score, score.Label, score.Trend)
	if score.PreviousScore != nil {
		fmt.Fprintf(&b, "Previous score: %d\n", *score.PreviousScore)
	}
	b.WriteString("Factor breakdown (0-100 each):\n")
	fmt.Fprintf(&b, "- response time: %d\n", sub.ResponseTime)
	fmt.Fprintf(&b, "- engagement: %d (%d messages exchanged)\n", sub.Engagement, score.TotalMessages)
	fmt.Fprintf(&b, "- profile completeness: %d (%d of %d fields filled)\n", sub.ProfileCompleteness, score.ProfileFilled, score.ProfileTotal)
	fmt.Fprintf(&b, "- deal value: %d\n", sub.DealValue)
	fmt.Fprintf(&b, "- funnel progress: %d (stage %d of %d)\n", sub.FunnelProgress, score.FunnelCompleted, score.FunnelTotal)
	fmt.Fprintf(&b, "- recency: %d\n", sub.Recency)
	return b.String()
}

func collectContentText(resp *model.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var parts []string
	for _, part := range resp.Content.Parts {
		if part != nil && strings.TrimSpace(part.Text) != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseInsight accepts a bare JSON object, one wrapped in a code fence, or
// plain text, which is then used as the summary.
func parseInsight(raw string) (Insight, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Insight{}, ErrEmptyInsight
	}

	var out Insight
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err == nil {
			out.Summary = truncate(strings.TrimSpace(out.Summary), maxSummaryLen)
			out.Recommendation = truncate(strings.TrimSpace(out.Recommendation), maxRecommendationLen)
			if out.Summary == "" && out.Recommendation == "" {
				return Insight{}, ErrEmptyInsight
			}
			return out, nil
		}
	}

	return Insight{Summary: truncate(raw, maxSummaryLen)}, nil
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return strings.TrimSpace(string(runes[:max]))
}
