// Package eventlog appends every campaign event to a per-campaign NDJSON
// file for later audit.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/campaign-center/internal/domain"
)

const defaultQueueSize = 256

// Config configures the event log.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Record is one line of a campaign log file.
type Record struct {
	Timestamp time.Time `json:"ts"`
	domain.AgentEvent
}

// Logger writes events asynchronously. The zero value is not usable; use New.
type Logger struct {
	dir     string
	queue   chan Record
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	logger  *slog.Logger
	now     func() time.Time
}

// New creates the log directory and starts the writer. It returns nil when
// logging is disabled; a nil *Logger ignores events.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("event log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	l := &Logger{
		dir:    cfg.Dir,
		queue:  make(chan Record, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
		now:    time.Now,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// HandleEvent implements eventbus.Sink. It never blocks: when the queue is
// full the oldest pending record is dropped.
func (l *Logger) HandleEvent(_ context.Context, ev domain.AgentEvent) {
	if l == nil {
		return
	}
	rec := Record{Timestamp: l.now().UTC(), AgentEvent: ev}

	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.queue <- rec:
		return
	default:
	}

	select {
	case <-l.queue:
		l.dropped.Add(1)
	default:
	}
	select {
	case l.queue <- rec:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded under backpressure.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Path returns the log file for campaignID.
func (l *Logger) Path(campaignID string) string {
	return filepath.Join(l.dir, safeName(campaignID)+".ndjson")
}

// Close flushes queued records and stops the writer.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.queue:
			l.write(rec)
		case <-l.done:
			for {
				select {
				case rec := <-l.queue:
					l.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(rec Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		l.logger.Warn("Failed to encode event log record", "campaign_id", rec.CampaignID, "error", err)
		return
	}

	f, err := os.OpenFile(l.Path(rec.CampaignID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("Failed to open event log", "campaign_id", rec.CampaignID, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Failed to write event log", "campaign_id", rec.CampaignID, "error", err)
	}
}

// safeName keeps campaign ids from escaping the log directory.
func safeName(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
