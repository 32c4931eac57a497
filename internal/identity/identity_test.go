package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(CallerFromContext(r.Context())))
	})
}

func TestMiddleware_RejectsMissingOrWrongKey(t *testing.T) {
	h := Middleware("secret")(echoCaller())

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/campaigns", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("key %q: expected 403, got %d", key, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Invalid or missing API key") {
			t.Errorf("key %q: unexpected body %s", key, rec.Body.String())
		}
	}
}

func TestMiddleware_AcceptsValidKey(t *testing.T) {
	h := Middleware("secret")(echoCaller())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", nil)
	req.Header.Set(APIKeyHeader, "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if caller := rec.Body.String(); !strings.HasPrefix(caller, "key:") || strings.Contains(caller, "secret") {
		t.Errorf("Expected digested key caller, got %q", caller)
	}
}

func TestMiddleware_DisabledUsesIP(t *testing.T) {
	h := Middleware("")(echoCaller())

	req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "ip:203.0.113.7" {
		t.Errorf("Expected ip caller, got %q", got)
	}
}

func TestIPFromRequest_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")

	if got := IPFromRequest(req); got != "198.51.100.2" {
		t.Errorf("Expected forwarded ip, got %q", got)
	}
}
