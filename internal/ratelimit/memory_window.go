package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count     int
	windowIdx int64
	touchedAt time.Time
}

// In-process window counter. Process-scoped state: counts are lost on
// restart, and a multi-process deployment under-enforces while any one
// process relies on it. Used only when the persistent check itself errors.
type MemoryWindowLimiter struct {
	mu        sync.Mutex
	counters  map[string]*memoryCounter
	lastSweep time.Time
}

func NewMemoryWindow() *MemoryWindowLimiter {
	return &MemoryWindowLimiter{
		counters:  make(map[string]*memoryCounter),
		lastSweep: time.Now(),
	}
}

func (l *MemoryWindowLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	idx := windowIndex(now, window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now, window)

	c, ok := l.counters[key]
	if !ok || c.windowIdx != idx {
		c = &memoryCounter{windowIdx: idx}
		l.counters[key] = c
	}
	c.touchedAt = now

	decision := Decision{
		ResetAt:  nextWindowStart(now, window),
		Degraded: true,
	}

	if c.count >= limit {
		decision.Remaining = 0
		return decision, nil
	}

	c.count++
	decision.Allowed = true
	decision.Remaining = limit - c.count
	return decision, nil
}

// Drops counters idle for more than a window. Runs inline under the lock,
// at most once per window.
func (l *MemoryWindowLimiter) maybeSweep(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	for key, c := range l.counters {
		if now.Sub(c.touchedAt) > window {
			delete(l.counters, key)
		}
	}
	l.lastSweep = now
}
