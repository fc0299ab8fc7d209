package cachemanager

import (
	"context"
	"sync"
	"time"
)

// ReadThroughCache serves values from a cache and falls back to fn on a miss,
// storing what fn returns. Writes must go through Set, Delete and Flush so a
// miss that raced a write does not store the value it read before the write.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache           CacheManager[K, V]
	fn              func(ctx context.Context, input I) (V, error)
	shouldSkipCache bool

	mu    sync.Mutex
	gens  map[K]uint64
	epoch uint64
}

// NewReadThroughCache wraps fn. With shouldSkipCache set every call goes to fn.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	shouldSkipCache bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:           cache,
		fn:              fn,
		shouldSkipCache: shouldSkipCache,
		gens:            make(map[K]uint64),
	}
}

// Get returns the cached value for key or loads it with fn(input).
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	return r.get(ctx, key, input, ttl, r.cache.Get)
}

// GetWithRefresh is Get, extending the TTL of a cache hit.
func (r *ReadThroughCache[K, V, I]) GetWithRefresh(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	return r.get(ctx, key, input, ttl, func(ctx context.Context, key K) (V, bool) {
		return r.cache.GetWithRefresh(ctx, key, ttl)
	})
}

// Set stores a value written by the caller, e.g. the result of a write
// through to the backing store.
func (r *ReadThroughCache[K, V, I]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[key]++
	r.cache.Set(ctx, key, value, ttl)
}

// Delete drops key.
func (r *ReadThroughCache[K, V, I]) Delete(ctx context.Context, key K) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[key]++
	return r.cache.Delete(ctx, key)
}

// Flush drops every key.
func (r *ReadThroughCache[K, V, I]) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	clear(r.gens)
	return r.cache.Flush(ctx)
}

func (r *ReadThroughCache[K, V, I]) get(
	ctx context.Context,
	key K,
	input I,
	ttl time.Duration,
	lookup func(context.Context, K) (V, bool),
) (V, error) {
	if r.shouldSkipCache {
		return r.fn(ctx, input)
	}

	if v, ok := lookup(ctx, key); ok {
		return v, nil
	}

	epoch, gen := r.stamp(key)
	v, err := r.fn(ctx, input)
	if err != nil {
		return v, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch == epoch && r.gens[key] == gen {
		r.cache.Set(ctx, key, v, ttl)
	}
	return v, nil
}

func (r *ReadThroughCache[K, V, I]) stamp(key K) (epoch, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch, r.gens[key]
}
