package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct {
	decision Decision
	err      error
	calls    int
}

func (s *stubLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	s.calls++
	return s.decision, s.err
}

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := &stubLimiter{decision: Decision{Allowed: true, Remaining: 4}}
	fallback := &stubLimiter{}

	l := NewFallback(primary, fallback)

	d, err := l.Check(context.Background(), "user:a", 5, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
	assert.Zero(t, fallback.calls)
}

// A normal "over limit" result from the store is final; the fallback only
// answers when the store check itself errors.
func TestFallbackNotConsultedOnDeny(t *testing.T) {
	primary := &stubLimiter{decision: Decision{Allowed: false}}
	fallback := &stubLimiter{decision: Decision{Allowed: true}}

	l := NewFallback(primary, fallback)

	d, err := l.Check(context.Background(), "user:a", 5, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, fallback.calls)
}

func TestFallbackAnswersOnStoreError(t *testing.T) {
	primary := &stubLimiter{err: errors.New("connection refused")}

	l := NewFallback(primary, NewMemoryWindow())

	d, err := l.Check(context.Background(), "user:a", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
	assert.Equal(t, 1, d.Remaining)
}

// The fallback still enforces the same window semantics, just from
// process-local state.
func TestFallbackEnforcesLimit(t *testing.T) {
	primary := &stubLimiter{err: errors.New("store down")}
	l := NewFallback(primary, NewMemoryWindow())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "user:a", 2, time.Hour)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.Check(ctx, "user:a", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
