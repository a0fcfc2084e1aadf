package identify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

type cacheEntry struct {
	gen    uint64
	tenant tenant.Tenant
}

// Cache is an in-process hostname cache in front of a Lookup. Every
// lifecycle event bumps the generation; entries from an older generation
// are ignored, so no snapshot survives a mutation.
type Cache struct {
	next Lookup
	c    *ristretto.Cache[string, cacheEntry]
	gen  atomic.Uint64
	ttl  time.Duration
}

// NewCache creates a cache holding up to maxEntries hostnames.
func NewCache(next Lookup, maxEntries int64, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, cacheEntry]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{next: next, c: c, ttl: ttl}, nil
}

// Find is not cached; key lookups go straight to the registry.
func (c *Cache) Find(ctx context.Context, key string) (*tenant.Tenant, error) {
	return c.next.Find(ctx, key)
}

func (c *Cache) FindByHostname(ctx context.Context, host string) (*tenant.Tenant, error) {
	gen := c.gen.Load()
	if e, ok := c.c.Get(host); ok && e.gen == gen {
		return e.tenant.Clone(), nil
	}

	t, err := c.next.FindByHostname(ctx, host)
	if err != nil {
		return nil, err
	}
	if t.Active() {
		c.c.SetWithTTL(host, cacheEntry{gen: gen, tenant: *t.Clone()}, 1, c.ttl)
		c.c.Wait()
	}
	return t, nil
}

// Invalidate drops every cached entry.
func (c *Cache) Invalidate() {
	c.gen.Add(1)
	c.c.Clear()
}

// Name and Fire make the cache a lifecycle hook that invalidates on every
// event.
func (c *Cache) Name() string { return "identify-cache" }

func (c *Cache) Fire(_ context.Context, _ tenant.Event) error {
	c.Invalidate()
	return nil
}

func (c *Cache) Close() {
	c.c.Close()
}
