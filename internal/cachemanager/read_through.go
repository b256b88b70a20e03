package cachemanager

import "time"

// ReadThrough serves values from a cache, computing and storing them on a
// miss. Concurrent misses may compute redundantly; the compute functions
// used here are cheap enough that singleflight is not worth the coupling.
type ReadThrough[V any] struct {
	cache *Cache[V]
	ttl   time.Duration
	fn    func() (V, error)
}

// NewReadThrough wraps a cache and a compute function.
func NewReadThrough[V any](cache *Cache[V], ttl time.Duration, fn func() (V, error)) *ReadThrough[V] {
	return &ReadThrough[V]{cache: cache, ttl: ttl, fn: fn}
}

// Get returns the cached value for key, computing and caching it on a miss.
// Compute errors are returned without poisoning the cache.
func (r *ReadThrough[V]) Get(key string) (V, error) {
	if value, ok := r.cache.Get(key); ok {
		return value, nil
	}

	value, err := r.fn()
	if err != nil {
		return value, err
	}
	r.cache.Set(key, value, r.ttl)
	return value, nil
}

// Invalidate drops the cached value so the next Get recomputes.
func (r *ReadThrough[V]) Invalidate(key string) {
	r.cache.Delete(key)
}
