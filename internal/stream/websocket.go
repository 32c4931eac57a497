// Package stream serves live campaign events to observers over WebSocket.
package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/campaign-center/internal/eventbus"
)

// Registry is the part of the event bus the handler needs.
type Registry interface {
	Subscribe(campaignID string, sub eventbus.Subscriber) eventbus.Handle
	Unsubscribe(h eventbus.Handle)
}

// Handler upgrades requests to WebSocket and streams one campaign's events.
type Handler struct {
	bus           Registry
	campaignID    func(*http.Request) string
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a handler. campaignID extracts the campaign from the
// request path.
func NewHandler(bus Registry, campaignID func(*http.Request) string, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		bus:           bus,
		campaignID:    campaignID,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	campaignID := h.campaignID(r)
	if campaignID == "" {
		http.Error(w, "campaign id required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "campaign_id", campaignID)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	obs := &observer{ws: ws, cancel: cancel}
	handle := h.bus.Subscribe(campaignID, obs)
	slog.Info("Observer connected", "campaign_id", campaignID, "ip", r.RemoteAddr)

	defer func() {
		h.bus.Unsubscribe(handle)
		status, reason := obs.closeStatus()
		if closeErr := ws.Close(status, reason); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "campaign_id", campaignID)
		}
		slog.Info("Observer disconnected", "campaign_id", campaignID, "reason", reason)
	}()

	// Client frames carry nothing; reading only detects disconnects.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "campaign_id", campaignID)
			} else if ctx.Err() == nil {
				slog.Debug("WebSocket read error", "error", err, "campaign_id", campaignID)
			}
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// observer adapts a WebSocket connection to eventbus.Subscriber.
type observer struct {
	ws     *websocket.Conn
	cancel context.CancelFunc

	mu      sync.Mutex
	evicted string
}

// Send writes one event as a text frame.
func (o *observer) Send(ctx context.Context, msg []byte) error {
	return o.ws.Write(ctx, websocket.MessageText, msg)
}

// Close is called by the bus on eviction. It must not block, so it only
// stops the read loop and the handler closes the socket.
func (o *observer) Close(reason string) {
	o.mu.Lock()
	o.evicted = reason
	o.mu.Unlock()
	o.cancel()
}

func (o *observer) closeStatus() (websocket.StatusCode, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.evicted != "" {
		return websocket.StatusPolicyViolation, o.evicted
	}
	return websocket.StatusNormalClosure, "stream ended"
}
