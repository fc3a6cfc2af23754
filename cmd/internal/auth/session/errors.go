package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInvalidToken is returned when an access token fails signature, issuer or claim checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when an otherwise valid access token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrRefreshTokenInvalid is returned for unknown or malformed refresh tokens.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")

	// ErrRefreshTokenExpired is returned when the refresh record is past its expiry.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrRefreshTokenRevoked is returned when the refresh record was revoked or already rotated.
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")

	// ErrTransientFailure is returned when the store timed out or was unreachable.
	// Callers may retry; credentials must not be discarded.
	ErrTransientFailure = errors.New("transient store failure")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ErrCommitUnknown is returned when a rotation reached commit but the store
// did not confirm the outcome. The old token may already be rotated, so
// presenting it again would look like reuse; callers must not retry.
var ErrCommitUnknown = fmt.Errorf("%w: rotation commit outcome unknown", ErrTransientFailure)

// ReuseError reports a rotated refresh token presented again. The lineage
// has already been revoked when this error is returned.
type ReuseError struct {
	RecordID    string
	PrincipalID string
	TenantID    string
	LineageID   string
}

func (e ReuseError) Error() string {
	return fmt.Sprintf("%s: reuse detected in lineage %s", ErrRefreshTokenRevoked.Error(), e.LineageID)
}

func (e ReuseError) Unwrap() error { return ErrRefreshTokenRevoked }

// IsTransient reports whether err is a timeout or connectivity failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientFailure) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// classify wraps infrastructure failures as ErrTransientFailure and leaves
// domain errors untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrRefreshTokenInvalid),
		errors.Is(err, ErrRefreshTokenExpired),
		errors.Is(err, ErrRefreshTokenRevoked),
		errors.Is(err, ErrTransientFailure):
		return err
	case IsTransient(err):
		return fmt.Errorf("%s: %w: %v", op, ErrTransientFailure, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
