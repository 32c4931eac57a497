// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// IsSQLiteConflictError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that is worth retrying.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetryOnConflict runs fn up to attempts times, backing off exponentially from
// baseDelay while fn keeps failing with a SQLite conflict. Other errors are
// returned immediately. Once attempts are exhausted the last conflict error is
// returned as is.
func RetryOnConflict(ctx context.Context, op string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return IsSQLiteConflictError(err) }).
		WithMaxAttempts(attempts).
		WithBackoff(baseDelay, conflictMaxDelay(attempts, baseDelay)).
		ReturnLastFailure().
		OnRetryScheduled(func(e failsafe.ExecutionScheduledEvent[any]) {
			slog.Debug("SQLite conflict, retrying", "op", op, "attempt", e.Attempts(), "delay", e.Delay)
		}).
		Build()

	return failsafe.With[any](policy).WithContext(ctx).Run(fn)
}

// conflictMaxDelay is the delay before the final attempt: baseDelay doubled
// once per retry after the first.
func conflictMaxDelay(attempts int, baseDelay time.Duration) time.Duration {
	d := baseDelay
	for i := 2; i < attempts; i++ {
		d *= 2
	}
	return d
}
