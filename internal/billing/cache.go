// Package billing implements the TTL-cached commerce client (C6) and
// the per-request admission gate (C7). The cache generalizes the
// teacher's catalog.Catalog TTL/refresh pattern
// (internal/catalog/catalog.go) into a small single-flight cache
// reused for subscription, plan, and balance lookups, keyed so a
// per-viewer bearer token cannot leak across callers.
package billing

import (
	"context"
	"sync"
	"time"
)

// entry is a cached value with an expiry, per spec.md §3.
type entry struct {
	value     any
	expiresAt time.Time
}

// ttlCache is a single-flight, TTL-expiring cache. Stale entries are
// deleted lazily on read; concurrent callers for the same key await
// the first in-flight fetch instead of issuing duplicate requests.
type ttlCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry
	inFlight map[string]*call
}

type call struct {
	done  chan struct{}
	value any
	err   error
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		ttl:      ttl,
		entries:  make(map[string]entry),
		inFlight: make(map[string]*call),
	}
}

// getOrFetch returns the cached value for key if it hasn't expired,
// otherwise calls fetch exactly once per process for concurrent
// callers sharing key.
func (c *ttlCache) getOrFetch(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if time.Now().Before(e.expiresAt) {
			c.mu.Unlock()
			return e.value, nil
		}
		delete(c.entries, key)
	}

	if inFlight, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		<-inFlight.done
		return inFlight.value, inFlight.err
	}

	cl := &call{done: make(chan struct{})}
	c.inFlight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = fetch(ctx)

	c.mu.Lock()
	delete(c.inFlight, key)
	if cl.err == nil {
		c.entries[key] = entry{value: cl.value, expiresAt: time.Now().Add(c.ttl)}
	}
	c.mu.Unlock()

	close(cl.done)
	return cl.value, cl.err
}

// set stores a value directly (used to cache negative plan lookups).
func (c *ttlCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
}
