package authn

import (
	"context"
	"errors"
	"time"

	"tearoom/cmd/internal/auth/session"
)

// retryValue runs fn up to RetryAttempts times, bounding each try by
// StoreTimeout. Only transient failures are retried; the final transient
// error is returned wrapped in ErrTransientFailure. A rotation whose commit
// outcome is unknown is never retried: the token it presented may already
// be rotated, and presenting it again would revoke the lineage as reuse.
func retryValue[T any](ctx context.Context, m *Manager, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= m.cfg.RetryAttempts; attempt++ {
		var v T
		v, err = bounded(ctx, m.cfg.StoreTimeout, fn)
		if err == nil {
			return v, nil
		}
		if !session.IsTransient(err) || errors.Is(err, session.ErrCommitUnknown) || ctx.Err() != nil {
			break
		}
		if attempt == m.cfg.RetryAttempts {
			return zero, transient(op, err)
		}
		m.log.Warn("auth.store.retry", "op", op, "attempt", attempt, "err", err)
		if werr := m.sleep(ctx, time.Duration(attempt)*m.cfg.RetryBackoff); werr != nil {
			return zero, transient(op, err)
		}
	}
	return zero, err
}

func retry(ctx context.Context, m *Manager, op string, fn func(context.Context) error) error {
	_, err := retryValue(ctx, m, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(tctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
