package session

import (
	"context"
	"time"
)

// Revocation reasons persisted with a record.
const (
	ReasonRotation      = "rotation"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonReuseDetected = "reuse_detected"
	ReasonInactive      = "principal_inactive"
)

// Record mirrors a refresh_tokens row. The plain token is never stored.
type Record struct {
	ID        string
	TokenHash string
	Subject   Subject
	LineageID string

	IssuedAt  time.Time
	ExpiresAt time.Time

	RevokedAt        *time.Time
	RevocationReason string
	ReplacedBy       string
}

// Revoked reports whether the record has been revoked for any reason.
func (r Record) Revoked() bool { return r.RevokedAt != nil }

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool { return !r.ExpiresAt.After(now) }

// RotationTx is the write surface available while a record is locked.
type RotationTx interface {
	Insert(ctx context.Context, rec Record) error
	MarkRotated(ctx context.Context, now time.Time, id, replacedBy string) error
	RevokeLineage(ctx context.Context, now time.Time, lineageID, reason string) error
}

// RotateFunc decides the fate of a locked record. When commit is true the
// writes made through tx are persisted even if err is non-nil.
type RotateFunc func(ctx context.Context, tx RotationTx, rec Record) (commit bool, err error)

// Store abstracts persistence for refresh records.
//
// WithLocked must serialize concurrent calls for the same hash so that a
// single token cannot be rotated twice.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	GetByHash(ctx context.Context, tokenHash string) (Record, error)

	// WithLocked loads the record matching tokenHash under an exclusive lock
	// and runs fn in one atomic unit. Unknown hashes yield ErrRefreshTokenInvalid.
	WithLocked(ctx context.Context, tokenHash string, fn RotateFunc) error

	RevokeLineage(ctx context.Context, now time.Time, lineageID, reason string) error
	RevokePrincipal(ctx context.Context, now time.Time, principalID, reason string) error

	// DeleteExpired removes records that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
