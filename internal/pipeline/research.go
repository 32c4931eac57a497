package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/generation"
	"github.com/ashureev/campaign-center/internal/history"
)

const (
	researchTemperature = 0.3
	pastSnippetLength   = 200
	briefPreviewLength  = 200
	noHistoryText       = "No past content found — this is a fresh topic."
)

const researchSystemPrompt = `You are a LinkedIn content trend analyst. Given a topic and
past high-performing content, produce a strategic brief that includes:
1. Key angles that resonate with the target audience on LinkedIn
2. Trending hooks and formats (thought leadership, storytelling, hot takes)
3. Hashtag recommendations for LinkedIn
4. What to AVOID based on oversaturated angles

Be specific and actionable. No fluff.`

// Research turns a request and similar past content into a strategic brief.
type Research struct {
	gen     Generator
	history History
	events  EventSink
	pacer   Pacer
	logger  *slog.Logger
}

// Run produces the brief for req.
func (r *Research) Run(ctx context.Context, id domain.CampaignID, req domain.CampaignRequest) (string, error) {
	emit(ctx, r.events, id, domain.AgentTrend, domain.StatusRunning, nil,
		fmt.Sprintf("Searching past content for '%s'...", req.Topic), nil)
	if err := r.pacer.Pause(ctx, ResearchPause); err != nil {
		return "", err
	}

	past, err := r.history.Search(ctx, req.Topic, history.DefaultTopK)
	if err != nil {
		return "", fmt.Errorf("search past content: %w", err)
	}

	emit(ctx, r.events, id, domain.AgentTrend, domain.StatusRunning, nil,
		fmt.Sprintf("Found %d similar past posts. Analyzing trends...", len(past)), nil)
	if err := r.pacer.Pause(ctx, ResearchPause); err != nil {
		return "", err
	}

	brief, err := r.gen.Generate(ctx, generation.Prompt{
		System:      researchSystemPrompt,
		User:        researchUserPrompt(req, past),
		Temperature: researchTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate brief: %w", err)
	}
	brief = strings.TrimSpace(brief)
	if brief == "" {
		return "", fmt.Errorf("empty brief: %w", ErrUnusableOutput)
	}

	r.logger.Info("Strategic brief ready", "campaign_id", id, "past_posts", len(past), "length", len(brief))
	emit(ctx, r.events, id, domain.AgentTrend, domain.StatusCompleted, nil,
		"Trend analysis complete. Strategic brief ready.",
		map[string]any{"brief_preview": preview(brief, briefPreviewLength)})
	return brief, nil
}

func researchUserPrompt(req domain.CampaignRequest, past []history.PastContent) string {
	return fmt.Sprintf(`Topic: %s
Target Audience: %s
Tone: %s
Platforms: %s

Past high-performing content on similar topics:
%s

Generate a strategic content brief.`,
		req.Topic, req.TargetAudience, req.Tone, strings.Join(req.PlatformNames(), ", "), formatPastContent(past))
}

func formatPastContent(past []history.PastContent) string {
	if len(past) == 0 {
		return noHistoryText
	}
	lines := make([]string, len(past))
	for i, p := range past {
		lines[i] = fmt.Sprintf("- [Platform: %s, Engagement: %d] %s", p.Platform, p.Engagement, preview(p.Text, pastSnippetLength))
	}
	return strings.Join(lines, "\n")
}
