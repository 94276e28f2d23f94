package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/lumahealth/scangate/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Conditional increment: the counter only moves when it is under the limit,
// so the stored count can never exceed the limit and two concurrent
// requests cannot both take the last slot.
var checkAndIncr = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if count >= limit then
  return {0, count}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, count}
`)

// Fixed-size window counter backed by Redis. The key embeds the window
// index, so a new window starts as a fresh key and stale windows expire on
// their own.
type RedisWindowLimiter struct {
	redis *storage.RedisClient
}

func NewRedisWindow(redis *storage.RedisClient) *RedisWindowLimiter {
	return &RedisWindowLimiter{redis: redis}
}

func (l *RedisWindowLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	redisKey := fmt.Sprintf("ratelimit:window:%s:%d", key, windowIndex(now, window))

	result, err := l.redis.RunScript(ctx, checkAndIncr, []string{redisKey}, limit, window.Milliseconds())
	if err != nil {
		return Decision{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected script result: %v", result)
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
		ResetAt:   nextWindowStart(now, window),
	}, nil
}
