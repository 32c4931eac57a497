package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/ashureev/campaign-center/internal/domain"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu         sync.Mutex
	published  []published
	subject    string
	handler    nats.MsgHandler
	publishErr error
	drained    bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{subject: subj, data: data})
	return nil
}

func (f *fakeConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.subject = subj
	f.handler = cb
	return nil, nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.AgentEvent
}

func (b *recordingBus) Relay(_ context.Context, ev domain.AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelay_PublishesOnCampaignSubject(t *testing.T) {
	conn := &fakeConn{}
	r, err := New(conn, &recordingBus{}, "", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if conn.subject != "campaigns.*.events" {
		t.Errorf("Expected wildcard subscription, got %q", conn.subject)
	}

	r.HandleEvent(context.Background(), domain.AgentEvent{CampaignID: "abc", Message: "hello"})

	if len(conn.published) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(conn.published))
	}
	if conn.published[0].subject != "campaigns.abc.events" {
		t.Errorf("Unexpected subject %q", conn.published[0].subject)
	}
	var env envelope
	if err := json.Unmarshal(conn.published[0].data, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if env.Origin == "" || env.Event.Message != "hello" {
		t.Errorf("Unexpected envelope %+v", env)
	}
	if r.Sent() != 1 {
		t.Errorf("Expected Sent 1, got %d", r.Sent())
	}
}

func TestRelay_DeliversRemoteEventsLocally(t *testing.T) {
	conn := &fakeConn{}
	bus := &recordingBus{}
	r, err := New(conn, bus, "cc", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, _ := json.Marshal(envelope{Origin: "other-instance", Event: domain.AgentEvent{CampaignID: "abc", Message: "remote"}})
	conn.handler(&nats.Msg{Subject: "cc.abc.events", Data: data})

	if len(bus.events) != 1 || bus.events[0].Message != "remote" {
		t.Fatalf("Expected remote event relayed, got %+v", bus.events)
	}
	if r.Received() != 1 {
		t.Errorf("Expected Received 1, got %d", r.Received())
	}
}

func TestRelay_IgnoresOwnAndMalformedMessages(t *testing.T) {
	conn := &fakeConn{}
	bus := &recordingBus{}
	r, err := New(conn, bus, "", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	own, _ := json.Marshal(envelope{Origin: r.origin, Event: domain.AgentEvent{CampaignID: "abc"}})
	conn.handler(&nats.Msg{Data: own})
	conn.handler(&nats.Msg{Data: []byte("not json")})
	noCampaign, _ := json.Marshal(envelope{Origin: "x"})
	conn.handler(&nats.Msg{Data: noCampaign})

	if len(bus.events) != 0 {
		t.Errorf("Expected nothing relayed, got %+v", bus.events)
	}
}

func TestRelay_PublishErrorIsSwallowed(t *testing.T) {
	conn := &fakeConn{publishErr: errors.New("nats: connection closed")}
	r, err := New(conn, &recordingBus{}, "", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.HandleEvent(context.Background(), domain.AgentEvent{CampaignID: "abc"})
	if r.Sent() != 0 {
		t.Errorf("Expected Sent 0, got %d", r.Sent())
	}
}

func TestRelay_CloseDrains(t *testing.T) {
	conn := &fakeConn{}
	r, err := New(conn, &recordingBus{}, "", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.drained {
		t.Error("Expected connection to be drained")
	}
}
