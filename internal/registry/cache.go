package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProvider decorates a Provider with a TTL cache. The cache is an
// injected component with an explicit TTL and Reset, not a process-wide
// memoized supplier: tests and operators can drop it deterministically.
type CachedProvider struct {
	inner Provider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	tlds    map[string]cachedTLD
	remotes *redis.Client
}

type cachedTLD struct {
	tld     *TLD
	expires time.Time
}

// CacheOption configures a CachedProvider.
type CacheOption func(*CachedProvider)

// WithRedis adds a shared redis layer so multiple frontends warm each other's
// cache. Misses still fall through to the inner provider.
func WithRedis(client *redis.Client) CacheOption {
	return func(c *CachedProvider) {
		c.remotes = client
	}
}

// WithClock overrides the cache's clock; tests use this to expire entries.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CachedProvider) {
		c.now = now
	}
}

// NewCachedProvider wraps inner with a cache of the given TTL.
func NewCachedProvider(inner Provider, ttl time.Duration, opts ...CacheOption) *CachedProvider {
	c := &CachedProvider{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		tlds:  make(map[string]cachedTLD),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reset drops every cached entry. Call after out-of-band configuration
// changes such as a phase transition.
func (c *CachedProvider) Reset(ctx context.Context) {
	c.mu.Lock()
	c.tlds = make(map[string]cachedTLD)
	c.mu.Unlock()
	if c.remotes != nil {
		// Best effort; a stale remote entry ages out within the TTL anyway.
		iter := c.remotes.Scan(ctx, 0, "registry:tld:*", 0).Iterator()
		for iter.Next(ctx) {
			c.remotes.Del(ctx, iter.Val())
		}
	}
}

func (c *CachedProvider) TLD(ctx context.Context, name string) (*TLD, error) {
	c.mu.Lock()
	entry, ok := c.tlds[name]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) {
		return entry.tld, nil
	}

	if c.remotes != nil {
		if raw, err := c.remotes.Get(ctx, "registry:tld:"+name).Bytes(); err == nil {
			var t TLD
			if err := json.Unmarshal(raw, &t); err == nil {
				c.put(name, &t)
				return &t, nil
			}
		}
	}

	t, err := c.inner.TLD(ctx, name)
	if err != nil {
		return nil, err
	}
	c.put(name, t)
	if c.remotes != nil {
		if raw, err := json.Marshal(t); err == nil {
			c.remotes.Set(ctx, "registry:tld:"+name, raw, c.ttl)
		}
	}
	return t, nil
}

func (c *CachedProvider) put(name string, t *TLD) {
	c.mu.Lock()
	c.tlds[name] = cachedTLD{tld: t, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Registrar lookups are not cached; login happens once per session.
func (c *CachedProvider) Registrar(ctx context.Context, id string) (*Registrar, error) {
	return c.inner.Registrar(ctx, id)
}

func (c *CachedProvider) TLDNames(ctx context.Context) ([]string, error) {
	return c.inner.TLDNames(ctx)
}
