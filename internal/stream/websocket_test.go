package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/eventbus"
)

func campaignFromPath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/ws/")
}

func dial(t *testing.T, srv *httptest.Server, campaignID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + campaignID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func waitForSubscribers(t *testing.T, bus *eventbus.Bus, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.Stats().Subscribers != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d subscribers, got %+v", n, bus.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_StreamsEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	srv := httptest.NewServer(NewHandler(bus, campaignFromPath, "", false))
	defer srv.Close()

	conn := dial(t, srv, "abc12345")
	defer conn.CloseNow()
	waitForSubscribers(t, bus, 1)

	bus.Publish(context.Background(), domain.AgentEvent{
		CampaignID: "abc12345",
		Agent:      domain.AgentWriter,
		Status:     domain.StatusRunning,
		Platform:   domain.PlatformRef(domain.PlatformLinkedIn),
		Message:    "Writing LinkedIn post...",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("Expected text frame, got %v", typ)
	}

	var ev domain.AgentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ev.Agent != domain.AgentWriter || ev.Platform == nil || *ev.Platform != domain.PlatformLinkedIn {
		t.Errorf("Unexpected event %+v", ev)
	}
}

func TestHandler_DisconnectUnsubscribes(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	srv := httptest.NewServer(NewHandler(bus, campaignFromPath, "", false))
	defer srv.Close()

	a := dial(t, srv, "c1")
	b := dial(t, srv, "c1")
	defer b.CloseNow()
	waitForSubscribers(t, bus, 2)

	if err := a.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Logf("Close: %v", err)
	}
	waitForSubscribers(t, bus, 1)

	bus.Publish(context.Background(), domain.AgentEvent{CampaignID: "c1", Message: "still streaming"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := b.Read(ctx); err != nil {
		t.Errorf("Remaining observer should still receive events: %v", err)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHandler(bus, campaignFromPath, "https://dashboard.example.com", false)

	req := httptest.NewRequest(http.MethodGet, "/ws/c1", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestHandler_RequiresCampaignID(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHandler(bus, func(*http.Request) string { return "" }, "", true)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestObserver_CloseRecordsReason(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := &observer{cancel: cancel}

	if status, _ := o.closeStatus(); status != websocket.StatusNormalClosure {
		t.Errorf("Expected normal closure before eviction, got %v", status)
	}
	o.Close("send queue full")
	if ctx.Err() == nil {
		t.Error("Expected Close to cancel the read loop")
	}
	status, reason := o.closeStatus()
	if status != websocket.StatusPolicyViolation || reason != "send queue full" {
		t.Errorf("Unexpected close status %v %q", status, reason)
	}
}
