// Package ratelimit provides fixed-window request limiters shared by the
// HTTP and websocket boundaries.
//
// MemoryLimiter keeps counters in-process (single replica, dev, tests).
// RedisLimiter keeps them in Redis so every replica sees the same window.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Result describes one Allow decision.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter counts hits per key inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Nop allows everything. It is used when a limit is disabled.
type Nop struct{}

func (Nop) Allow(context.Context, string) (Result, error) { return Result{Allowed: true}, nil }

func decide(hits, max int64, winEnd, now time.Time) Result {
	remaining := max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     hits <= max,
		Remaining:   remaining,
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = winEnd.Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res
}

func sanitizeKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), " ", "_")
}
