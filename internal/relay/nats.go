// Package relay mirrors campaign events between server instances over NATS
// so an observer connected to any instance sees the whole campaign.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ashureev/campaign-center/internal/domain"
)

// DefaultSubjectPrefix is the subject namespace for campaign events.
const DefaultSubjectPrefix = "campaigns"

// Conn is the subset of *nats.Conn used by the relay.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// LocalBus receives events relayed from other instances.
type LocalBus interface {
	Relay(ctx context.Context, ev domain.AgentEvent)
}

// envelope tags each event with the instance that produced it.
type envelope struct {
	Origin string            `json:"origin"`
	Event  domain.AgentEvent `json:"event"`
}

// Relay publishes local events to NATS and feeds remote events into the local
// bus.
type Relay struct {
	conn   Conn
	bus    LocalBus
	prefix string
	origin string
	logger *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
}

// Connect dials NATS with reconnect handling suited to a long-lived server.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.NoEcho(),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", "error", err)
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// New creates a relay and subscribes to every campaign's events.
func New(conn Conn, bus LocalBus, prefix string, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	r := &Relay{
		conn:   conn,
		bus:    bus,
		prefix: strings.TrimSuffix(prefix, "."),
		origin: uuid.NewString(),
		logger: logger,
	}

	if _, err := conn.Subscribe(r.prefix+".*.events", r.handleMsg); err != nil {
		return nil, fmt.Errorf("subscribe to campaign events: %w", err)
	}
	logger.Info("Event relay started", "subject", r.prefix+".*.events", "origin", r.origin)
	return r, nil
}

// Subject returns the subject events for campaignID are published on.
func (r *Relay) Subject(campaignID string) string {
	return r.prefix + "." + campaignID + ".events"
}

// HandleEvent implements eventbus.Sink. Publish failures are logged and
// dropped; the local fan-out is unaffected.
func (r *Relay) HandleEvent(_ context.Context, ev domain.AgentEvent) {
	data, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		r.logger.Error("Failed to encode relayed event", "campaign_id", ev.CampaignID, "error", err)
		return
	}
	if err := r.conn.Publish(r.Subject(ev.CampaignID), data); err != nil {
		r.logger.Warn("Failed to relay event", "campaign_id", ev.CampaignID, "error", err)
		return
	}
	r.sent.Add(1)
}

func (r *Relay) handleMsg(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn("Dropping malformed relayed event", "subject", msg.Subject, "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.Event.CampaignID == "" {
		return
	}
	r.received.Add(1)
	r.bus.Relay(context.Background(), env.Event)
}

// Sent returns how many events were published to NATS.
func (r *Relay) Sent() int64 { return r.sent.Load() }

// Received returns how many remote events were delivered locally.
func (r *Relay) Received() int64 { return r.received.Load() }

// Close drains the connection, flushing pending publishes.
func (r *Relay) Close() error {
	if err := r.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
