package authapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tearoom/cmd/internal/ratelimit"
)

// Limiters groups the throttles applied by the auth endpoints.
type Limiters struct {
	LoginIP         ratelimit.Limiter
	LoginIdentifier ratelimit.Limiter
	RefreshIP       ratelimit.Limiter
}

// MemoryLimiters builds process-local limiters from cfg.
func MemoryLimiters(cfg Config) Limiters {
	mk := func(max int, window time.Duration) ratelimit.Limiter {
		if max <= 0 {
			return ratelimit.Nop{}
		}
		return ratelimit.NewMemoryLimiter(max, window)
	}
	return Limiters{
		LoginIP:         mk(cfg.LoginIPMax, cfg.LoginIPWindow),
		LoginIdentifier: mk(cfg.LoginIdentifierMax, cfg.LoginIdentifierWindow),
		RefreshIP:       mk(cfg.RefreshIPMax, cfg.RefreshIPWindow),
	}
}

// RedisLimiters builds limiters shared by every replica through Redis.
func RedisLimiters(cfg Config, client redis.UniversalClient) Limiters {
	mk := func(name string, max int, window time.Duration) ratelimit.Limiter {
		if max <= 0 {
			return ratelimit.Nop{}
		}
		return ratelimit.NewRedisLimiter(client, "tearoom:rl:"+name+":", max, window)
	}
	return Limiters{
		LoginIP:         mk("login_ip", cfg.LoginIPMax, cfg.LoginIPWindow),
		LoginIdentifier: mk("login_id", cfg.LoginIdentifierMax, cfg.LoginIdentifierWindow),
		RefreshIP:       mk("refresh_ip", cfg.RefreshIPMax, cfg.RefreshIPWindow),
	}
}

func (l Limiters) withDefaults() Limiters {
	if l.LoginIP == nil {
		l.LoginIP = ratelimit.Nop{}
	}
	if l.LoginIdentifier == nil {
		l.LoginIdentifier = ratelimit.Nop{}
	}
	if l.RefreshIP == nil {
		l.RefreshIP = ratelimit.Nop{}
	}
	return l
}

// throttled consults l and reports a block. Limiter failures fail open.
func (h *Handler) throttled(ctx context.Context, l ratelimit.Limiter, key string) (bool, time.Duration) {
	res, err := l.Allow(ctx, key)
	if err != nil {
		h.log.Warn("auth.ratelimit.fail", "err", err)
		return false, 0
	}
	if res.Allowed {
		return false, 0
	}
	return true, res.RetryAfter
}

func loginIdentifierKey(email, slug string) string {
	return strings.ToLower(strings.TrimSpace(email)) + "|" + strings.ToLower(strings.TrimSpace(slug))
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
