package ratelimit

import (
	"context"
	"time"
)

// Outcome of a rate-limit check. Degraded marks decisions served from the
// in-process fallback rather than the persistent store.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Degraded  bool
}

// Limiter performs an atomic check-and-increment for one request. A normal
// "over limit" result is a Decision with Allowed=false, not an error; an
// error means the check itself could not be performed.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Index of the fixed window containing now.
func windowIndex(now time.Time, window time.Duration) int64 {
	return now.UnixMilli() / window.Milliseconds()
}

// Start of the window after the one containing now.
func nextWindowStart(now time.Time, window time.Duration) time.Time {
	idx := windowIndex(now, window)
	return time.UnixMilli((idx + 1) * window.Milliseconds())
}
