package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ashureev/campaign-center/internal/identity"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_ExplicitOriginGetsCredentials(t *testing.T) {
	h := CORS([]string{"http://localhost:5173"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials for explicit origin")
	}
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	h := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/campaigns", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected preflight 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected allow-origin for wildcard")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Expected no credentials for wildcard match")
	}
}

func TestCORS_UnknownOrigin(t *testing.T) {
	h := CORS([]string{"http://localhost:5173"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected no CORS headers for unknown origin")
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(2, time.Minute, clock)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Expected first two requests allowed")
	}
	if rl.Allow("a") {
		t.Error("Expected third request rejected")
	}
	if !rl.Allow("b") {
		t.Error("Expected other caller unaffected")
	}

	clock.Advance(61 * time.Second)
	if !rl.Allow("a") {
		t.Error("Expected request allowed after window")
	}
}

func TestRateLimiter_EvictsIdleCallers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(5, time.Minute, clock)
	rl.Allow("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.RunEviction(ctx)
		close(done)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(2 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for rl.Keys() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected idle caller evicted, still tracking %d", rl.Keys())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, clockwork.NewFakeClock())
	h := RateLimit(rl)(okHandler())

	send := func(caller string) int {
		req := httptest.NewRequest(http.MethodPost, "/campaigns", nil)
		req = req.WithContext(identity.WithCaller(req.Context(), caller))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("key:abc"); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if code := send("key:abc"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", code)
	}
	if code := send("key:def"); code != http.StatusOK {
		t.Errorf("Expected other caller allowed, got %d", code)
	}
}
