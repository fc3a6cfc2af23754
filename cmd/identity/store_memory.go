package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"tearoom/cmd/identity/ids"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	creds *Credentials

	mu         sync.RWMutex
	tenants    map[string]Tenant
	slugs      map[string]string // slug -> tenant id
	principals map[string]Principal
	emails     map[string]string // tenant id + "\x00" + email -> principal id
}

// NewMemoryStore returns an empty MemoryStore hashing secrets with creds.
func NewMemoryStore(creds *Credentials) *MemoryStore {
	return &MemoryStore{
		creds:      creds,
		tenants:    make(map[string]Tenant),
		slugs:      make(map[string]string),
		principals: make(map[string]Principal),
		emails:     make(map[string]string),
	}
}

func emailKey(tenantID, email string) string { return tenantID + "\x00" + email }

func (s *MemoryStore) CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error) {
	const op = "identity.CreateTenant"
	if err := ctx.Err(); err != nil {
		return Tenant{}, err
	}
	in, err := prepareTenant(op, in)
	if err != nil {
		return Tenant{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Tenant{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slugs[in.Slug]; ok {
		return Tenant{}, ConflictError{Op: op, Field: "slug"}
	}
	t := Tenant{ID: id, Slug: in.Slug, Name: in.Name, Active: in.Active, CreatedAt: in.Now}
	s.tenants[id] = t
	s.slugs[in.Slug] = id
	return t, nil
}

func (s *MemoryStore) TenantByID(ctx context.Context, id string) (Tenant, error) {
	if err := ctx.Err(); err != nil {
		return Tenant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return Tenant{}, NotFoundError{Op: "identity.TenantByID", Resource: "tenant"}
	}
	return t, nil
}

func (s *MemoryStore) TenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	if err := ctx.Err(); err != nil {
		return Tenant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slugs[NormalizeSlug(slug)]
	if !ok {
		return Tenant{}, NotFoundError{Op: "identity.TenantBySlug", Resource: "tenant"}
	}
	return s.tenants[id], nil
}

func (s *MemoryStore) SetTenantActive(ctx context.Context, id string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return NotFoundError{Op: "identity.SetTenantActive", Resource: "tenant"}
	}
	t.Active = active
	s.tenants[id] = t
	return nil
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	p, err := preparePrincipal(op, s.creds, in)
	if err != nil {
		return Principal{}, err
	}
	p.ID, err = ids.NewULID(p.CreatedAt)
	if err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.TenantID != "" {
		if _, ok := s.tenants[p.TenantID]; !ok {
			return Principal{}, NotFoundError{Op: op, Resource: "tenant"}
		}
	}
	k := emailKey(p.TenantID, p.Email)
	if _, ok := s.emails[k]; ok {
		return Principal{}, ConflictError{Op: op, Field: "email"}
	}
	s.principals[p.ID] = p
	s.emails[k] = p.ID
	return p, nil
}

func (s *MemoryStore) PrincipalByID(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return Principal{}, NotFoundError{Op: "identity.PrincipalByID", Resource: "principal"}
	}
	return p, nil
}

func (s *MemoryStore) PrincipalByTenantEmail(ctx context.Context, tenantID, email string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[emailKey(tenantID, NormalizeEmail(email))]
	if !ok {
		return Principal{}, NotFoundError{Op: "identity.PrincipalByTenantEmail", Resource: "principal"}
	}
	return s.principals[id], nil
}

func (s *MemoryStore) PrincipalsByEmail(ctx context.Context, email string, limit int) ([]Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)

	s.mu.RLock()
	var out []Principal
	for _, p := range s.principals {
		if p.Email == email {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetFlags(ctx context.Context, id string, active, verified bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[id]
	if !ok {
		return NotFoundError{Op: "identity.SetFlags", Resource: "principal"}
	}
	p.Active = active
	p.EmailVerified = verified
	p.UpdatedAt = time.Now().UTC()
	s.principals[id] = p
	return nil
}

func (s *MemoryStore) SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hash == "" {
		return invalid("identity.SetPasswordHash", "empty hash")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[id]
	if !ok {
		return NotFoundError{Op: "identity.SetPasswordHash", Resource: "principal"}
	}
	p.PasswordHash = hash
	p.UpdatedAt = now
	s.principals[id] = p
	return nil
}
