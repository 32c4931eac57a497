// Package pipeline runs the research, draft and publish stages of a campaign
// and reports progress through an event sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/generation"
	"github.com/ashureev/campaign-center/internal/history"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p generation.Prompt) (string, error)
}

// History searches and records past campaign content.
type History interface {
	Search(ctx context.Context, query string, k int) ([]history.PastContent, error)
	Store(ctx context.Context, campaignID, platform, text string) error
}

// Publisher posts a piece to its platform and reports success.
type Publisher interface {
	Publish(ctx context.Context, piece *domain.ContentPiece) bool
}

// EventSink receives progress events. Implementations must not block.
type EventSink interface {
	Publish(ctx context.Context, ev domain.AgentEvent)
}

// Recorder receives pipeline telemetry.
type Recorder interface {
	StageFinished(stage domain.AgentName, failed bool, elapsed time.Duration)
	CampaignFinished(status domain.CampaignStatus)
}

type nopRecorder struct{}

func (nopRecorder) StageFinished(domain.AgentName, bool, time.Duration) {}
func (nopRecorder) CampaignFinished(domain.CampaignStatus)              {}

// ErrUnusableOutput is returned when a collaborator answered with nothing the
// stage can use.
var ErrUnusableOutput = errors.New("unusable output")

// StageError is a failure of one stage.
type StageError struct {
	Stage domain.AgentName
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// stageOutcome is the value-or-error result of one stage. The value is kept
// on failure so partial work can be reported.
type stageOutcome[T any] struct {
	value T
	err   *StageError
}

func (o stageOutcome[T]) failed() bool {
	return o.err != nil
}

// runStage executes fn and folds errors and panics into a stageOutcome.
func runStage[T any](ctx context.Context, stage domain.AgentName, fn func(context.Context) (T, error)) (out stageOutcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out.err = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v, err := fn(ctx)
	out.value = v
	if err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			se = &StageError{Stage: stage, Err: err}
		}
		out.err = se
	}
	return out
}

func emit(ctx context.Context, sink EventSink, id domain.CampaignID, agent domain.AgentName, status domain.AgentStatus, platform *domain.Platform, msg string, data map[string]any) {
	sink.Publish(ctx, domain.AgentEvent{
		CampaignID: id,
		Agent:      agent,
		Status:     status,
		Platform:   platform,
		Message:    msg,
		Data:       data,
	})
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
