package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"tearoom/cmd/identity/ids"
	"tearoom/cmd/security/token"
)

// maxRefreshTokenLen bounds inputs before hashing.
const maxRefreshTokenLen = 4096

// Service implements the token service operations.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
	hasher token.Hasher
}

// Pair is the result of issuing or rotating credentials.
type Pair struct {
	Subject          Subject
	LineageID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// NewService constructs a Service. The refresh hasher is derived from cfg.TokenHMACKey.
func NewService(cfg Config, store Store, tokens AccessTokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens, hasher: cfg.Hasher()}
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) newRefreshToken() (plain, hash string, err error) {
	b := make([]byte, s.cfg.RefreshTokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, s.hasher.Hash(plain), nil
}

func (s *Service) newRecord(now time.Time, sub Subject, lineageID string) (Record, string, error) {
	plain, hash, err := s.newRefreshToken()
	if err != nil {
		return Record{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Record{}, "", err
	}
	return Record{
		ID:        id,
		TokenHash: hash,
		Subject:   sub,
		LineageID: lineageID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}, plain, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// IssuePair starts a new lineage for sub and returns fresh credentials.
func (s *Service) IssuePair(ctx context.Context, now time.Time, sub Subject) (Pair, error) {
	lineageID, err := ids.NewULID(now)
	if err != nil {
		return Pair{}, err
	}
	rec, plain, err := s.newRecord(now, sub, lineageID)
	if err != nil {
		return Pair{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Insert(sctx, rec); err != nil {
		return Pair{}, classify("session.IssuePair", err)
	}

	return s.pairFor(rec, plain, now)
}

func (s *Service) pairFor(rec Record, plain string, now time.Time) (Pair, error) {
	access, accessExp, err := s.tokens.Issue(rec.Subject, rec.LineageID, now)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		Subject:          rec.Subject,
		LineageID:        rec.LineageID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plain,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// MintAccess issues an access token for an existing lineage without touching the store.
func (s *Service) MintAccess(sub Subject, lineageID string, now time.Time) (string, time.Time, error) {
	return s.tokens.Issue(sub, lineageID, now)
}

// VerifyAccess checks signature, issuer and expiry. It never touches the store.
func (s *Service) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return s.tokens.Verify(token, now)
}

// Rotate exchanges a refresh token for a new pair in the same lineage.
//
//   - The record is locked for the whole unit.
//   - Expired records fail with ErrRefreshTokenExpired.
//   - Revoked records revoke the lineage in the same unit. A rotated record
//     yields ReuseError; any other revoked record yields ErrRefreshTokenRevoked.
//   - Otherwise the successor is inserted and the predecessor marked rotated.
//
// The unit runs detached from ctx cancellation and is bounded by RotateTimeout.
// A store failure after the successor was written yields ErrCommitUnknown.
func (s *Service) Rotate(ctx context.Context, now time.Time, refreshToken string) (Pair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > maxRefreshTokenLen {
		return Pair{}, ErrRefreshTokenInvalid
	}
	hash := s.hasher.Hash(refreshToken)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RotateTimeout)
	defer cancel()

	var (
		out     Pair
		rotated bool
	)
	err := s.store.WithLocked(rctx, hash, func(ctx context.Context, tx RotationTx, rec Record) (bool, error) {
		if rec.Expired(now) {
			return false, ErrRefreshTokenExpired
		}

		if rec.Revoked() {
			if err := tx.RevokeLineage(ctx, now, rec.LineageID, ReasonReuseDetected); err != nil {
				return false, err
			}
			if rec.ReplacedBy != "" {
				return true, ReuseError{
					RecordID:    rec.ID,
					PrincipalID: rec.Subject.PrincipalID,
					TenantID:    rec.Subject.TenantID,
					LineageID:   rec.LineageID,
				}
			}
			return true, ErrRefreshTokenRevoked
		}

		next, plain, err := s.newRecord(now, rec.Subject, rec.LineageID)
		if err != nil {
			return false, err
		}
		if err := tx.Insert(ctx, next); err != nil {
			return false, err
		}
		if err := tx.MarkRotated(ctx, now, rec.ID, next.ID); err != nil {
			return false, err
		}

		pair, err := s.pairFor(next, plain, now)
		if err != nil {
			return false, err
		}
		out = pair
		rotated = true
		return true, nil
	})
	if err != nil {
		if rotated && !errors.Is(err, ErrCommitUnknown) {
			err = fmt.Errorf("%w: %w", ErrCommitUnknown, err)
		}
		return Pair{}, classify("session.Rotate", err)
	}
	return out, nil
}

// Lookup returns the record for a refresh token. Unknown tokens yield ErrRefreshTokenInvalid.
func (s *Service) Lookup(ctx context.Context, refreshToken string) (Record, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > maxRefreshTokenLen {
		return Record{}, ErrRefreshTokenInvalid
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	rec, err := s.store.GetByHash(sctx, s.hasher.Hash(refreshToken))
	if err != nil {
		return Record{}, classify("session.Lookup", err)
	}
	return rec, nil
}

// Revoke ends the lineage a refresh token belongs to. Unknown tokens are a no-op.
func (s *Service) Revoke(ctx context.Context, now time.Time, refreshToken string) error {
	rec, err := s.Lookup(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenInvalid) {
			return nil
		}
		return err
	}
	return s.RevokeLineage(ctx, now, rec.LineageID, ReasonLogout)
}

// RevokeLineage revokes every record in a lineage.
func (s *Service) RevokeLineage(ctx context.Context, now time.Time, lineageID, reason string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return classify("session.RevokeLineage", s.store.RevokeLineage(sctx, now, lineageID, reason))
}

// RevokeAll revokes every lineage of a principal (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, principalID string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return classify("session.RevokeAll", s.store.RevokePrincipal(sctx, now, principalID, ReasonLogoutAll))
}

// PurgeExpired deletes records that expired more than grace before now.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	n, err := s.store.DeleteExpired(sctx, now.Add(-grace))
	return n, classify("session.PurgeExpired", err)
}
