package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"tearoom/cmd/identity"
)

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.StoreTimeout = 200 * time.Millisecond
	cfg.RotateTimeout = 500 * time.Millisecond

	tokens, err := NewAccessTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewAccessTokenManager: %v", err)
	}
	return NewService(cfg, store, tokens)
}

func kitchenSubject() Subject {
	return Subject{
		PrincipalID: "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		TenantID:    "01HAAAAAAAAAAAAAAAAAAAAAAA",
		Role:        identity.RoleKitchen,
		KitchenID:   "kitchen-7",
	}
}

func TestService_IssuePair_ClaimsMatchSubject(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	now := time.Now().UTC()
	sub := kitchenSubject()

	pair, err := svc.IssuePair(context.Background(), now, sub)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.LineageID == "" {
		t.Fatalf("expected populated pair: %+v", pair)
	}
	if got, want := pair.RefreshExpiresAt.Sub(now), 30*24*time.Hour; got != want {
		t.Fatalf("refresh ttl: got %v want %v", got, want)
	}

	claims, err := svc.VerifyAccess(pair.AccessToken, now.Add(time.Second))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != sub {
		t.Fatalf("claims subject mismatch: %+v vs %+v", claims.Subject, sub)
	}
	if claims.LineageID != pair.LineageID {
		t.Fatalf("lineage mismatch")
	}
}

func TestService_Rotate_SameLineageAndPredecessorRevoked(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	p1, err := svc.IssuePair(ctx, now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	p2, err := svc.Rotate(ctx, now.Add(time.Minute), p1.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if p2.LineageID != p1.LineageID {
		t.Fatalf("rotation must stay in lineage")
	}
	if p2.RefreshToken == p1.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	old, err := svc.Lookup(ctx, p1.RefreshToken)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !old.Revoked() || old.ReplacedBy == "" || old.RevocationReason != ReasonRotation {
		t.Fatalf("predecessor not marked rotated: %+v", old)
	}
}

func TestService_Rotate_ReuseRevokesLineage(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	now := time.Now().UTC()

	r1, err := svc.IssuePair(ctx, now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	r2, err := svc.Rotate(ctx, now.Add(time.Second), r1.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	_, err = svc.Rotate(ctx, now.Add(2*time.Second), r1.RefreshToken)
	var reuse ReuseError
	if !errors.As(err, &reuse) {
		t.Fatalf("expected ReuseError, got %v", err)
	}
	if !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("ReuseError must wrap ErrRefreshTokenRevoked")
	}
	if reuse.LineageID != r1.LineageID || reuse.PrincipalID != kitchenSubject().PrincipalID {
		t.Fatalf("reuse context mismatch: %+v", reuse)
	}

	if _, err := svc.Rotate(ctx, now.Add(3*time.Second), r2.RefreshToken); !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("successor must be revoked with the lineage, got %v", err)
	}
}

func TestService_Rotate_ConcurrentExactlyOneSuccess(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := svc.IssuePair(ctx, now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		revoked int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Rotate(ctx, now.Add(time.Second), p.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrRefreshTokenRevoked):
				revoked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || revoked != n-1 {
		t.Fatalf("expected 1 success and %d revoked, got ok=%d revoked=%d", n-1, ok, revoked)
	}
}

func TestService_Rotate_Expired(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := svc.IssuePair(ctx, now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	_, err = svc.Rotate(ctx, p.RefreshExpiresAt.Add(time.Second), p.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
	}
}

func TestService_Rotate_UnknownAndMalformed(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	for _, tok := range []string{"", "   ", "does-not-exist", string(make([]byte, maxRefreshTokenLen+1))} {
		if _, err := svc.Rotate(context.Background(), time.Now(), tok); !errors.Is(err, ErrRefreshTokenInvalid) {
			t.Fatalf("token %q: expected ErrRefreshTokenInvalid, got %v", tok, err)
		}
	}
}

func TestService_RevokeThenRefreshFails(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := svc.IssuePair(ctx, now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if err := svc.Revoke(ctx, now, p.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, now, p.RefreshToken); err != nil {
		t.Fatalf("Revoke must be idempotent: %v", err)
	}
	if err := svc.Revoke(ctx, now, "unknown-token"); err != nil {
		t.Fatalf("Revoke of unknown token must be a no-op: %v", err)
	}

	_, err = svc.Rotate(ctx, now.Add(time.Second), p.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
	var reuse ReuseError
	if errors.As(err, &reuse) {
		t.Fatalf("logout-revoked token is not a reuse event")
	}
}

func TestService_RevokeAll(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := svc.IssuePair(ctx, now, kitchenSubject())
	b, _ := svc.IssuePair(ctx, now, kitchenSubject())

	if err := svc.RevokeAll(ctx, now, kitchenSubject().PrincipalID); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for _, p := range []Pair{a, b} {
		if _, err := svc.Rotate(ctx, now.Add(time.Second), p.RefreshToken); !errors.Is(err, ErrRefreshTokenRevoked) {
			t.Fatalf("expected revoked, got %v", err)
		}
	}
}

func TestService_PurgeExpired(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	p, _ := svc.IssuePair(ctx, now, kitchenSubject())
	n, err := svc.PurgeExpired(ctx, p.RefreshExpiresAt.Add(2*time.Hour), time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d (%v)", n, err)
	}
	if _, err := svc.Lookup(ctx, p.RefreshToken); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected purged record to be gone, got %v", err)
	}
}

// slowStore blocks every call until ctx is done and records whether any
// revocation was attempted.
type slowStore struct {
	*MemoryStore
	mu      sync.Mutex
	revoked int
}

func (s *slowStore) WithLocked(ctx context.Context, hash string, fn RotateFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *slowStore) GetByHash(ctx context.Context, hash string) (Record, error) {
	<-ctx.Done()
	return Record{}, ctx.Err()
}

func (s *slowStore) RevokeLineage(ctx context.Context, now time.Time, lineageID, reason string) error {
	s.mu.Lock()
	s.revoked++
	s.mu.Unlock()
	return s.MemoryStore.RevokeLineage(ctx, now, lineageID, reason)
}

func TestService_StoreTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	svc := newTestService(t, mem)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := svc.IssuePair(ctx, now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	slow := &slowStore{MemoryStore: mem}
	svc.store = slow

	_, err = svc.Rotate(ctx, now.Add(time.Second), p.RefreshToken)
	if !errors.Is(err, ErrTransientFailure) {
		t.Fatalf("expected ErrTransientFailure, got %v", err)
	}
	if errors.Is(err, ErrRefreshTokenInvalid) || errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("timeout must not look like an invalid credential: %v", err)
	}
	if slow.revoked != 0 {
		t.Fatalf("timeout must never revoke a lineage")
	}

	// The token is still good once the store recovers.
	svc.store = mem
	if _, err := svc.Rotate(ctx, now.Add(2*time.Second), p.RefreshToken); err != nil {
		t.Fatalf("Rotate after recovery: %v", err)
	}
}

// lostAckStore applies the rotation and then reports a deadline, the way a
// COMMIT whose acknowledgement arrives too late looks to the caller.
type lostAckStore struct {
	*MemoryStore
}

func (s *lostAckStore) WithLocked(ctx context.Context, hash string, fn RotateFunc) error {
	if err := s.MemoryStore.WithLocked(ctx, hash, fn); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

func TestService_RotateCommitUnknown(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	svc := newTestService(t, mem)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := svc.IssuePair(ctx, now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	svc.store = &lostAckStore{MemoryStore: mem}
	_, err = svc.Rotate(ctx, now.Add(time.Second), p.RefreshToken)
	if !errors.Is(err, ErrCommitUnknown) || !errors.Is(err, ErrTransientFailure) {
		t.Fatalf("expected ErrCommitUnknown wrapping ErrTransientFailure, got %v", err)
	}
	if errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("lost acknowledgement must not look like reuse: %v", err)
	}

	rec, err := mem.GetByHash(ctx, svc.hasher.Hash(p.RefreshToken))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if rec.RevocationReason != ReasonRotation || rec.ReplacedBy == "" {
		t.Fatalf("expected rotated predecessor, got reason=%q replacedBy=%q", rec.RevocationReason, rec.ReplacedBy)
	}
	mem.mu.Lock()
	next := mem.records[rec.ReplacedBy]
	mem.mu.Unlock()
	if next.Revoked() {
		t.Fatalf("successor must stay active, got reason=%q", next.RevocationReason)
	}
}

func TestService_RotateIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	now := time.Now().UTC()

	p, err := svc.IssuePair(context.Background(), now, kitchenSubject())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Rotate(ctx, now.Add(time.Second), p.RefreshToken); err != nil {
		t.Fatalf("rotation should complete despite caller cancellation: %v", err)
	}
}
