// Package identity authenticates API callers and tags requests with a caller
// key used for throttling and logging.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// APIKeyHeader carries the shared API key.
const APIKeyHeader = "X-API-Key"

type contextKey int

const callerKey contextKey = iota

// CallerFromContext returns the caller key set by Middleware, or "" when the
// request did not pass through it.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey).(string); ok {
		return v
	}
	return ""
}

// WithCaller returns ctx tagged with caller.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// Middleware rejects requests whose X-API-Key does not match apiKey with 403.
// An empty apiKey disables the check. Every request that passes is tagged
// with a caller key: a digest of the presented key when auth is on, the
// client IP otherwise.
func Middleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := "ip:" + IPFromRequest(r)

			if apiKey != "" {
				presented := r.Header.Get(APIKeyHeader)
				if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusForbidden)
					_, _ = w.Write([]byte(`{"error":"Invalid or missing API key"}`))
					return
				}
				caller = "key:" + digest(presented)
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

// IPFromRequest returns a normalized remote IP, preferring the first
// X-Forwarded-For hop.
func IPFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
