package ratelimit

import (
	"context"
	"log"
	"time"
)

// Ordered policy: the persistent store is the source of truth; the
// in-process counter answers only when the store check errors. A store
// "over limit" result is final and never retried against the fallback.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
}

func NewFallback(primary, fallback Limiter) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback}
}

func (l *FallbackLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	decision, err := l.primary.Check(ctx, key, limit, window)
	if err == nil {
		return decision, nil
	}

	log.Printf("Rate limit store check failed for %s, using in-process fallback: %v", key, err)

	return l.fallback.Check(ctx, key, limit, window)
}
