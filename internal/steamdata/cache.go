// Package steamdata implements the stale-while-revalidate cache for Steam
// proxy data.
//
// A fetch first reads every requested endpoint from the persistent store.
// When all of them are fresh the aggregate is served immediately. A network
// call per endpoint is always issued in the background; each call that fails
// falls back to whatever the store held for that endpoint, and the aggregate
// is only replaced when the batch produced usable data.
package steamdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"steamdash/internal/cache"
	"steamdash/internal/core"
	"steamdash/internal/proxyclient"
)

const (
	// DefaultTTL is how long a stored entry may be read as fresh.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds each endpoint call.
	DefaultTimeout = 10 * time.Second
	// DefaultKeyPrefix namespaces every stored entry.
	DefaultKeyPrefix = "steam_cache_"
)

// Fetcher retrieves the raw proxy document for one endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, ep core.Endpoint) ([]byte, error)
}

// Options configures a Cache. Store and Fetcher are required.
type Options struct {
	Store   cache.Store
	Fetcher Fetcher

	TTL       time.Duration
	Timeout   time.Duration
	KeyPrefix string

	// Now is the clock; defaults to time.Now.
	Now   func() time.Time
	Hooks Hooks
}

// Cache reads and writes endpoint entries and starts fetch sessions.
// It is safe for concurrent use; sessions share the underlying store.
type Cache struct {
	store     cache.Store
	fetcher   Fetcher
	ttl       time.Duration
	timeout   time.Duration
	keyPrefix string
	now       func() time.Time
	hooks     Hooks
}

// New creates a Cache, applying defaults for unset options.
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	c := &Cache{
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		ttl:       opts.TTL,
		timeout:   opts.Timeout,
		keyPrefix: opts.KeyPrefix,
		now:       opts.Now,
		hooks:     opts.Hooks,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.keyPrefix == "" {
		c.keyPrefix = DefaultKeyPrefix
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.hooks == nil {
		c.hooks = noopHooks{}
	}
	return c, nil
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Timeout returns the per-endpoint call timeout.
func (c *Cache) Timeout() time.Duration { return c.timeout }

// Key returns the store key for ep.
func (c *Cache) Key(ep core.Endpoint) string {
	return c.keyPrefix + ep.String()
}

// cachedRead is the outcome of one store lookup. payload is set for fresh and
// expired entries alike; expired ones are only usable as a failure fallback.
type cachedRead struct {
	payload *core.Payload
	fresh   bool
}

// read looks ep up in the store. Expired and unreadable entries are deleted.
// Store and decode failures are logged and reported as a miss.
func (c *Cache) read(ctx context.Context, ep core.Endpoint) cachedRead {
	key := c.Key(ep)

	b, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			c.hooks.CacheRead(ep, ReadMiss)
		} else {
			slog.Warn("steam cache read failed", "key", key, "error", err)
			c.hooks.CacheRead(ep, ReadError)
		}
		return cachedRead{}
	}

	entry, err := decodeEntry(b)
	var payload *core.Payload
	if err == nil {
		payload, err = proxyclient.Decode(ep, entry.Data)
	}
	if err != nil {
		slog.Warn("discarding unreadable steam cache entry", "key", key,
			"error", core.NewCacheCorruptionError(key, err))
		c.hooks.CacheRead(ep, ReadCorrupt)
		c.delete(ctx, key)
		return cachedRead{}
	}

	if !fresh(c.now().UnixMilli(), entry.Timestamp, c.ttl.Milliseconds()) {
		c.hooks.CacheRead(ep, ReadExpired)
		c.delete(ctx, key)
		return cachedRead{payload: payload}
	}

	c.hooks.CacheRead(ep, ReadHit)
	return cachedRead{payload: payload, fresh: true}
}

func (c *Cache) delete(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		slog.Warn("steam cache delete failed", "key", key, "error", err)
	}
}

// Lookup returns the stored payload for ep if it is still fresh.
// An expired entry is deleted and reported as a miss.
func (c *Cache) Lookup(ctx context.Context, ep core.Endpoint) (*core.Payload, bool) {
	r := c.read(ctx, ep)
	if !r.fresh {
		return nil, false
	}
	return r.payload, true
}

// Persist stores raw as the entry for ep with the current time.
func (c *Cache) Persist(ctx context.Context, ep core.Endpoint, raw []byte) error {
	b, err := encodeEntry(raw, c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", ep, err)
	}
	if err := c.store.Set(ctx, c.Key(ep), b); err != nil {
		return fmt.Errorf("persist %s entry: %w", ep, err)
	}
	return nil
}

// ClearCache removes every stored entry under the key prefix and returns how
// many were removed. State already held by sessions is not affected.
func (c *Cache) ClearCache(ctx context.Context) (int, error) {
	n, err := c.store.DeleteByPrefix(ctx, c.keyPrefix)
	if err != nil {
		return n, fmt.Errorf("clear steam cache: %w", err)
	}
	slog.Info("steam cache cleared", "prefix", c.keyPrefix, "removed", n)
	return n, nil
}

// Fetch starts a session for endpoints and runs its first fetch. Duplicate
// endpoints are ignored. The returned session already reflects the
// synchronous cache lookup; use Wait or Done to observe the network batch.
//
// ctx bounds nothing but the refresh loop: per-endpoint calls carry their
// own timeout and are not cancelled when ctx is.
func (c *Cache) Fetch(ctx context.Context, endpoints []core.Endpoint, opts ...SessionOption) *Session {
	s := newSession(c, core.UniqueEndpoints(endpoints), opts...)
	// a new session is always mounted
	_, _ = s.start(ctx)
	if s.refreshInterval > 0 {
		go s.refreshLoop(ctx)
	}
	return s
}
