package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/generation"
	"github.com/ashureev/campaign-center/internal/linkedin"
)

const (
	draftTemperature   = 0.7
	draftPreviewLength = 150
)

const draftSystemPrompt = `You are an expert LinkedIn copywriter. Write content
following the platform rules EXACTLY.

Return ONLY valid JSON:
{
    "content": "the post text",
    "hashtags": ["tag1", "tag2"]
}`

const linkedInStyle = "Professional, thought-leadership. Use line breaks for readability. Start with a hook. End with a CTA or question."

// Draft writes one content piece per requested platform from the brief.
type Draft struct {
	gen    Generator
	events EventSink
	pacer  Pacer
	logger *slog.Logger
}

// Run drafts pieces for every platform in req. Pieces drafted before a
// failure are returned with the error.
func (d *Draft) Run(ctx context.Context, id domain.CampaignID, req domain.CampaignRequest, brief string) ([]domain.ContentPiece, error) {
	pieces := make([]domain.ContentPiece, 0, len(req.Platforms))

	for _, platform := range req.Platforms {
		ref := domain.PlatformRef(platform)
		emit(ctx, d.events, id, domain.AgentWriter, domain.StatusRunning, ref,
			fmt.Sprintf("Writing %s post...", platform.DisplayName()), nil)
		if err := d.pacer.Pause(ctx, StepPause); err != nil {
			return pieces, err
		}

		raw, err := d.gen.Generate(ctx, generation.Prompt{
			System:      draftSystemPrompt,
			User:        draftUserPrompt(req, brief),
			Temperature: draftTemperature,
		})
		if err != nil {
			return pieces, fmt.Errorf("generate %s content: %w", platform, err)
		}

		content, hashtags := parseDraft(raw)
		if strings.TrimSpace(content) == "" {
			return pieces, fmt.Errorf("empty %s content: %w", platform, ErrUnusableOutput)
		}
		if n := len([]rune(content)); n > linkedin.MaxPostLength {
			content = linkedin.Truncate(content, linkedin.MaxPostLength)
			d.logger.Warn("Content exceeded platform limit, truncated", "campaign_id", id, "platform", platform, "length", n)
		}

		piece := domain.ContentPiece{Platform: platform, Content: content, Hashtags: hashtags}
		pieces = append(pieces, piece)

		emit(ctx, d.events, id, domain.AgentWriter, domain.StatusCompleted, ref,
			fmt.Sprintf("%s content ready (%d chars)", platform.DisplayName(), len([]rune(content))),
			map[string]any{
				"preview":  preview(content, draftPreviewLength),
				"hashtags": hashtags,
			})
	}
	return pieces, nil
}

func draftUserPrompt(req domain.CampaignRequest, brief string) string {
	return fmt.Sprintf(`Platform: LinkedIn
Platform Rules: %s
Max Characters: %d

Strategic Brief:
%s

Topic: %s
Tone: %s
Target Audience: %s

Write the content now. Return ONLY JSON.`,
		linkedInStyle, linkedin.MaxPostLength, brief, req.Topic, req.Tone, req.TargetAudience)
}

// parseDraft reads the model's {content, hashtags} answer, tolerating a
// ``` fence. Anything unparseable is used verbatim with no hashtags.
func parseDraft(raw string) (string, []string) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if _, rest, ok := strings.Cut(text, "\n"); ok {
			if i := strings.LastIndex(rest, "```"); i >= 0 {
				rest = rest[:i]
			}
			text = rest
		}
	}

	var parsed struct {
		Content  string   `json:"content"`
		Hashtags []string `json:"hashtags"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return raw, []string{}
	}
	if parsed.Hashtags == nil {
		parsed.Hashtags = []string{}
	}
	return parsed.Content, parsed.Hashtags
}
