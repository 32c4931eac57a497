package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/campaign-center/internal/domain"
)

// Deps are the collaborators shared by the three stages.
type Deps struct {
	Generator Generator
	History   History
	Publisher Publisher
	Events    EventSink
	Pacer     Pacer
	Recorder  Recorder
	Logger    *slog.Logger
}

// Orchestrator sequences the stages of one campaign and is the single place
// where stage failures become a failed result and a terminal event.
type Orchestrator struct {
	research *Research
	draft    *Draft
	publish  *Publish
	events   EventSink
	recorder Recorder
	logger   *slog.Logger
}

// New wires the three stages.
func New(d Deps) *Orchestrator {
	if d.Pacer == nil {
		d.Pacer = NoPacer{}
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	return &Orchestrator{
		research: &Research{gen: d.Generator, history: d.History, events: d.Events, pacer: d.Pacer, logger: d.Logger},
		draft:    &Draft{gen: d.Generator, events: d.Events, pacer: d.Pacer, logger: d.Logger},
		publish:  &Publish{publisher: d.Publisher, history: d.History, events: d.Events, pacer: d.Pacer, logger: d.Logger},
		events:   d.Events,
		recorder: d.Recorder,
		logger:   d.Logger,
	}
}

// Run executes research, draft and publish for req. It never panics and
// never returns an error: the outcome is the returned result and the one
// terminal event published for id.
func (o *Orchestrator) Run(ctx context.Context, id domain.CampaignID, req domain.CampaignRequest) domain.CampaignResult {
	o.logger.Info("Campaign started", "campaign_id", id, "topic", req.Topic, "platforms", req.PlatformNames(), "auto_publish", req.AutoPublish)

	research := timedStage(ctx, o.recorder, domain.AgentTrend, func(ctx context.Context) (string, error) {
		return o.research.Run(ctx, id, req)
	})
	if research.failed() {
		diagnostic := "Error: " + research.err.Err.Error()
		return o.fail(ctx, id, req, research.err, []domain.ContentPiece{}, &diagnostic)
	}
	brief := research.value

	draft := timedStage(ctx, o.recorder, domain.AgentWriter, func(ctx context.Context) ([]domain.ContentPiece, error) {
		return o.draft.Run(ctx, id, req, brief)
	})
	if draft.failed() {
		return o.fail(ctx, id, req, draft.err, []domain.ContentPiece{}, &brief)
	}
	pieces := draft.value

	published := timedStage(ctx, o.recorder, domain.AgentPublisher, func(ctx context.Context) ([]domain.ContentPiece, error) {
		return o.publish.Run(ctx, id, pieces, req.AutoPublish)
	})
	if published.failed() {
		return o.fail(ctx, id, req, published.err, pieces, &brief)
	}

	emit(ctx, o.events, id, domain.AgentPublisher, domain.StatusCompleted, nil,
		"Campaign complete! All content ready.", map[string]any{"final": true})
	o.recorder.CampaignFinished(domain.CampaignCompleted)
	o.logger.Info("Campaign completed", "campaign_id", id, "pieces", len(pieces), "published", countPublished(pieces))

	return domain.CampaignResult{
		CampaignID:    id,
		Topic:         req.Topic,
		Status:        domain.CampaignCompleted,
		Content:       pieces,
		TrendInsights: &brief,
	}
}

func (o *Orchestrator) fail(ctx context.Context, id domain.CampaignID, req domain.CampaignRequest, se *StageError, content []domain.ContentPiece, insights *string) domain.CampaignResult {
	o.logger.Error("Campaign stage failed", "campaign_id", id, "stage", se.Stage, "error", se.Err)
	emit(ctx, o.events, id, se.Stage, domain.StatusFailed, nil,
		fmt.Sprintf("%s failed: %v", stageTitle(se.Stage), se.Err), map[string]any{"final": true})
	o.recorder.CampaignFinished(domain.CampaignFailed)

	return domain.CampaignResult{
		CampaignID:    id,
		Topic:         req.Topic,
		Status:        domain.CampaignFailed,
		Content:       content,
		TrendInsights: insights,
	}
}

func timedStage[T any](ctx context.Context, rec Recorder, stage domain.AgentName, fn func(context.Context) (T, error)) stageOutcome[T] {
	start := time.Now()
	out := runStage(ctx, stage, fn)
	rec.StageFinished(stage, out.failed(), time.Since(start))
	return out
}

func stageTitle(stage domain.AgentName) string {
	switch stage {
	case domain.AgentTrend:
		return "Trend Agent"
	case domain.AgentWriter:
		return "Writer Agent"
	case domain.AgentPublisher:
		return "Publisher Agent"
	default:
		return string(stage)
	}
}

func countPublished(pieces []domain.ContentPiece) int {
	n := 0
	for _, p := range pieces {
		if p.Published {
			n++
		}
	}
	return n
}
