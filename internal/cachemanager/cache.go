// Package cachemanager provides typed TTL caching over patrickmn/go-cache,
// with a read-through layer for values that are cheap to serve but costly
// to recompute.
package cachemanager

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vigil-dev/vigil/internal/log"
)

// Cache is a typed wrapper around a go-cache store. The useCase string
// labels log lines so concurrent caches are distinguishable.
type Cache[V any] struct {
	useCase string
	cache   *gocache.Cache
}

// New creates a cache. A cleanupInterval of zero disables the background
// janitor; expired entries are then dropped lazily on read, which suits
// single-key caches that are overwritten anyway.
func New[V any](useCase string, defaultTTL, cleanupInterval time.Duration) *Cache[V] {
	return &Cache[V]{
		useCase: useCase,
		cache:   gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value by key.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	value, found := c.cache.Get(key)
	if !found {
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type in cache", "use_case", c.useCase, "key", key)
		return zero, false
	}

	log.Debug(log.CatCache, "cache hit", "use_case", c.useCase, "key", key)
	return v, true
}

// Set stores a value under key for the given TTL. A zero ttl uses the
// cache's default.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}

// Delete removes keys from the cache.
func (c *Cache[V]) Delete(keys ...string) {
	for _, key := range keys {
		c.cache.Delete(key)
	}
}

// Flush removes everything from the cache.
func (c *Cache[V]) Flush() {
	c.cache.Flush()
}
