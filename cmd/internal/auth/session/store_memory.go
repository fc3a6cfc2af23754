package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-serialized Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record // id -> record
	byHash  map[string]string // token hash -> id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		byHash:  make(map[string]string),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(rec)
	return nil
}

func (s *MemoryStore) insertLocked(rec Record) {
	s.records[rec.ID] = rec
	s.byHash[rec.TokenHash] = rec.ID
}

func (s *MemoryStore) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Record{}, ErrRefreshTokenInvalid
	}
	return s.records[id], nil
}

// memoryTx stages writes until the rotation unit commits.
type memoryTx struct {
	s   *MemoryStore
	ops []func()
}

func (tx *memoryTx) Insert(_ context.Context, rec Record) error {
	tx.ops = append(tx.ops, func() { tx.s.insertLocked(rec) })
	return nil
}

func (tx *memoryTx) MarkRotated(_ context.Context, now time.Time, id, replacedBy string) error {
	tx.ops = append(tx.ops, func() {
		r, ok := tx.s.records[id]
		if !ok {
			return
		}
		t := now
		r.RevokedAt = &t
		r.RevocationReason = ReasonRotation
		r.ReplacedBy = replacedBy
		tx.s.records[id] = r
	})
	return nil
}

func (tx *memoryTx) RevokeLineage(_ context.Context, now time.Time, lineageID, reason string) error {
	tx.ops = append(tx.ops, func() { tx.s.revokeWhereLocked(now, reason, func(r Record) bool { return r.LineageID == lineageID }) })
	return nil
}

func (s *MemoryStore) WithLocked(ctx context.Context, tokenHash string, fn RotateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return ErrRefreshTokenInvalid
	}

	tx := &memoryTx{s: s}
	commit, err := fn(ctx, tx, s.records[id])
	if commit {
		for _, op := range tx.ops {
			op()
		}
	}
	return err
}

func (s *MemoryStore) RevokeLineage(ctx context.Context, now time.Time, lineageID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeWhereLocked(now, reason, func(r Record) bool { return r.LineageID == lineageID })
	return nil
}

func (s *MemoryStore) RevokePrincipal(ctx context.Context, now time.Time, principalID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeWhereLocked(now, reason, func(r Record) bool { return r.Subject.PrincipalID == principalID })
	return nil
}

func (s *MemoryStore) revokeWhereLocked(now time.Time, reason string, match func(Record) bool) {
	for id, r := range s.records {
		if !match(r) || r.RevokedAt != nil {
			continue
		}
		t := now
		r.RevokedAt = &t
		r.RevocationReason = reason
		s.records[id] = r
	}
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if r.ExpiresAt.Before(cutoff) {
			delete(s.records, id)
			delete(s.byHash, r.TokenHash)
			n++
		}
	}
	return n, nil
}
