package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter (INCR + EXPIRE) shared across replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows max hits per key per window. Keys are stored under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "tearoom:rl:"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		max:    int64(max),
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to pick the window.
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	winStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, sanitizeKey(key), winStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return decide(incr.Val(), l.max, winStart.Add(l.window), now), nil
}
