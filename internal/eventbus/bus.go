// Package eventbus fans campaign progress events out to live observers.
//
// Delivery is best-effort and at-most-once: a subscriber only sees events
// published while it is registered, and a subscriber whose transport fails or
// falls behind is evicted without affecting anyone else.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/campaign-center/internal/domain"
)

const (
	defaultSendTimeout = 2 * time.Second
	defaultQueueSize   = 64
)

// Subscriber receives encoded events for one campaign.
type Subscriber interface {
	// Send delivers one JSON-encoded AgentEvent. The context carries the
	// per-delivery timeout.
	Send(ctx context.Context, msg []byte) error
}

// Closer is implemented by subscribers that hold a connection which should be
// torn down when the bus evicts them.
type Closer interface {
	Close(reason string)
}

// Sink observes every published event regardless of campaign. Sinks must not
// block; they are called synchronously from Publish.
type Sink interface {
	HandleEvent(ctx context.Context, ev domain.AgentEvent)
}

// Handle identifies one subscription.
type Handle struct {
	campaignID string
	id         uint64
}

// CampaignID returns the campaign the handle is subscribed to.
func (h Handle) CampaignID() string { return h.campaignID }

// Stats is a point-in-time view of the registry.
type Stats struct {
	Campaigns   int `json:"campaigns"`
	Subscribers int `json:"subscribers"`
}

// Option configures a Bus.
type Option func(*Bus)

// WithSendTimeout bounds each delivery to a subscriber.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithQueueSize sets how many undelivered events a subscriber may hold before
// it is considered too slow and evicted.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithEvictHook registers a callback invoked whenever a subscriber is dropped
// by the bus (not on explicit Unsubscribe).
func WithEvictHook(fn func(reason string)) Option {
	return func(b *Bus) {
		b.onEvict = fn
	}
}

// Bus is a process-wide registry of campaign subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]*subscription

	sinksMu sync.RWMutex
	sinks   []Sink

	nextID      atomic.Uint64
	published   atomic.Int64
	sendTimeout time.Duration
	queueSize   int
	logger      *slog.Logger
	onEvict     func(reason string)
}

type subscription struct {
	handle Handle
	sub    Subscriber
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) stop() bool {
	stopped := false
	s.once.Do(func() {
		close(s.done)
		stopped = true
	})
	return stopped
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:        make(map[string]map[uint64]*subscription),
		sendTimeout: defaultSendTimeout,
		queueSize:   defaultQueueSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSink registers a sink that observes every event.
func (b *Bus) AddSink(s Sink) {
	b.sinksMu.Lock()
	defer b.sinksMu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe registers sub for events of campaignID.
func (b *Bus) Subscribe(campaignID string, sub Subscriber) Handle {
	s := &subscription{
		handle: Handle{campaignID: campaignID, id: b.nextID.Add(1)},
		sub:    sub,
		queue:  make(chan []byte, b.queueSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[campaignID] == nil {
		b.subs[campaignID] = make(map[uint64]*subscription)
	}
	b.subs[campaignID][s.handle.id] = s
	total := len(b.subs[campaignID])
	b.mu.Unlock()

	go b.pump(s)

	b.logger.Debug("Event subscriber registered", "campaign_id", campaignID, "subscriber_id", s.handle.id, "total", total)
	return s.handle
}

// Unsubscribe removes a subscription. Unsubscribing an unknown or already
// removed handle is a no-op.
func (b *Bus) Unsubscribe(h Handle) {
	if s := b.remove(h); s != nil {
		s.stop()
		b.logger.Debug("Event subscriber unregistered", "campaign_id", h.campaignID, "subscriber_id", h.id)
	}
}

// Publish delivers ev to every current subscriber of its campaign and to all
// sinks. It never blocks on a subscriber and never fails.
func (b *Bus) Publish(ctx context.Context, ev domain.AgentEvent) {
	b.published.Add(1)
	b.notifySinks(ctx, ev)
	b.fanOut(ev)
}

// Relay delivers an event that originated elsewhere to local subscribers
// only. Sinks are skipped so relayed events are not forwarded again.
func (b *Bus) Relay(_ context.Context, ev domain.AgentEvent) {
	b.fanOut(ev)
}

func (b *Bus) fanOut(ev domain.AgentEvent) {
	b.mu.RLock()
	pool, ok := b.subs[ev.CampaignID]
	if !ok {
		b.mu.RUnlock()
		return
	}
	targets := make([]*subscription, 0, len(pool))
	for _, s := range pool {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("Failed to marshal event", "campaign_id", ev.CampaignID, "error", err)
		return
	}

	for _, s := range targets {
		select {
		case <-s.done:
		case s.queue <- data:
		default:
			b.evict(s, "send queue full")
		}
	}
}

// Stats returns registry counts.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Campaigns: len(b.subs)}
	for _, pool := range b.subs {
		st.Subscribers += len(pool)
	}
	return st
}

// Published returns how many events have been published since creation.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Close drops every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	var all []*subscription
	for id, pool := range b.subs {
		for _, s := range pool {
			all = append(all, s)
		}
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
}

func (b *Bus) pump(s *subscription) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
			err := s.sub.Send(ctx, msg)
			cancel()
			if err != nil {
				b.logger.Debug("Event delivery failed", "campaign_id", s.handle.campaignID, "subscriber_id", s.handle.id, "error", err)
				b.evict(s, "delivery failed")
				return
			}
		}
	}
}

func (b *Bus) remove(h Handle) *subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	pool, ok := b.subs[h.campaignID]
	if !ok {
		return nil
	}
	s, ok := pool[h.id]
	if !ok {
		return nil
	}
	delete(pool, h.id)
	if len(pool) == 0 {
		delete(b.subs, h.campaignID)
	}
	return s
}

func (b *Bus) evict(s *subscription, reason string) {
	if b.remove(s.handle) == nil {
		return
	}
	if !s.stop() {
		return
	}
	if c, ok := s.sub.(Closer); ok {
		c.Close(reason)
	}
	if b.onEvict != nil {
		b.onEvict(reason)
	}
	b.logger.Info("Event subscriber evicted", "campaign_id", s.handle.campaignID, "subscriber_id", s.handle.id, "reason", reason)
}

func (b *Bus) notifySinks(ctx context.Context, ev domain.AgentEvent) {
	b.sinksMu.RLock()
	sinks := b.sinks
	b.sinksMu.RUnlock()

	for _, sink := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event sink panicked", "campaign_id", ev.CampaignID, "panic", r)
				}
			}()
			sink.HandleEvent(ctx, ev)
		}()
	}
}
