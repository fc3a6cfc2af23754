package identity

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedStore memoizes tenant slug resolution in front of another Store.
// Tenant writes through the wrapper invalidate the cache.
type CachedStore struct {
	Store
	tenants *gocache.Cache
}

// NewCachedStore wraps s with a slug cache. ttl <= 0 uses one minute.
func NewCachedStore(s Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedStore{Store: s, tenants: gocache.New(ttl, 2*ttl)}
}

func (c *CachedStore) TenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	slug = NormalizeSlug(slug)
	if v, ok := c.tenants.Get(slug); ok {
		return v.(Tenant), nil
	}
	t, err := c.Store.TenantBySlug(ctx, slug)
	if err != nil {
		return Tenant{}, err
	}
	c.tenants.SetDefault(slug, t)
	return t, nil
}

func (c *CachedStore) CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error) {
	t, err := c.Store.CreateTenant(ctx, in)
	if err == nil {
		c.tenants.Delete(t.Slug)
	}
	return t, err
}

func (c *CachedStore) SetTenantActive(ctx context.Context, id string, active bool) error {
	if err := c.Store.SetTenantActive(ctx, id, active); err != nil {
		return err
	}
	// Slugs are keyed by name, so flush rather than scanning for id.
	c.tenants.Flush()
	return nil
}
