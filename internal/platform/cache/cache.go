// Package cache provides an in-process response cache with single-flight
// computation. Concurrent requests for the same key share one computation;
// waiters that outlast the bounded wait recompute independently so a stuck
// leader cannot stall the whole station view.
package cache

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stationboard/stationboard/internal/platform/middleware"
)

// DefaultWait bounds how long a caller waits on another caller's in-flight
// computation before computing independently.
const DefaultWait = 5 * time.Second

type entry struct {
	value     []byte
	etag      string
	expiresAt time.Time
}

// Cache is a TTL response cache keyed by string. Values are serialized
// response bodies; every entry carries a weak ETag derived from the body.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	wait    time.Duration
	now     func() time.Time
}

// New returns an empty cache with the default bounded wait.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		wait:    DefaultWait,
		now:     time.Now,
	}
}

type computed struct {
	value []byte
	etag  string
}

// GetOrCompute returns the cached value for key if present and fresh,
// otherwise computes it via fn and stores the result for ttl. Concurrent
// callers for the same key share a single fn invocation; a caller that
// waits longer than the bounded wait falls through and computes on its own.
func (c *Cache) GetOrCompute(key string, fn func() ([]byte, error), ttl time.Duration) ([]byte, string, error) {
	if v, etag, ok := c.get(key); ok {
		return v, etag, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have stored the
		// entry between our miss and the flight starting.
		if v, etag, ok := c.get(key); ok {
			return computed{value: v, etag: etag}, nil
		}
		v, etag, err := c.compute(key, fn, ttl)
		if err != nil {
			return nil, err
		}
		return computed{value: v, etag: etag}, nil
	})

	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		got := res.Val.(computed)
		return got.value, got.etag, nil
	case <-timer.C:
		// The shared computation is taking too long. Compute independently
		// rather than queueing behind it.
		c.group.Forget(key)
		return c.compute(key, fn, ttl)
	}
}

func (c *Cache) compute(key string, fn func() ([]byte, error), ttl time.Duration) ([]byte, string, error) {
	v, err := fn()
	if err != nil {
		return nil, "", err
	}
	etag := middleware.ComputeETag(v)
	c.mu.Lock()
	c.entries[key] = entry{value: v, etag: etag, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return v, etag, nil
}

func (c *Cache) get(key string) ([]byte, string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, "", false
	}
	return e.value, e.etag, true
}

// CheckETag reports whether the cached entry for key is fresh and its ETag
// matches the client-supplied If-None-Match value.
func (c *Cache) CheckETag(key, clientETag string) bool {
	_, etag, ok := c.get(key)
	return ok && middleware.ETagMatch(clientETag, etag)
}

// Invalidate drops every entry whose key starts with prefix and returns how
// many were removed. Mutations invalidate by station prefix so sibling
// stations keep their cached views.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
