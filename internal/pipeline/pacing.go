package pipeline

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pacing pauses between progress events.
const (
	ResearchPause = time.Second
	StepPause     = 500 * time.Millisecond
)

// Pacer inserts short pauses so observers can follow progress.
type Pacer interface {
	Pause(ctx context.Context, d time.Duration) error
}

// ClockPacer pauses on a clockwork clock.
type ClockPacer struct {
	clock clockwork.Clock
}

// NewClockPacer returns a pacer on clock, or the real clock if nil.
func NewClockPacer(clock clockwork.Clock) *ClockPacer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockPacer{clock: clock}
}

// Pause waits for d or until ctx is done.
func (p *ClockPacer) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-p.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoPacer never pauses.
type NoPacer struct{}

// Pause returns immediately.
func (NoPacer) Pause(context.Context, time.Duration) error { return nil }
