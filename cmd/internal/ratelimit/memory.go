package ratelimit

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter is an in-process fixed-window limiter backed by go-cache.
// Expired windows are evicted by the cache janitor.
type MemoryLimiter struct {
	c      *gocache.Cache
	max    int64
	window time.Duration
	now    func() time.Time
}

// NewMemoryLimiter allows max hits per key per window.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		c:      gocache.New(window, 2*window),
		max:    int64(max),
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to pick the window.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	winStart := now.Truncate(l.window)
	k := sanitizeKey(key) + ":" + strconv.FormatInt(winStart.Unix(), 10)

	// Add fails when the window already exists; the increment below covers both cases.
	_ = l.c.Add(k, int64(0), l.window)
	hits, err := l.c.IncrementInt64(k, 1)
	if err != nil {
		return Result{}, err
	}
	return decide(hits, l.max, winStart.Add(l.window), now), nil
}
