// Package cache memoizes expensive asynchronous computations, typically
// fee and gas estimations, keyed by a caller-computed fingerprint.
//
// Two guarantees: at most one computation runs per fingerprint at a time
// (concurrent callers share the in-flight result), and completed results
// are retained in a bounded LRU. Failures are never cached: the next call
// with the same fingerprint retries.
package cache

import (
	"context"

	"github.com/ethereum/go-ethereum/common/lru"
	"golang.org/x/sync/singleflight"
)

// Cache is an asynchronous memoizer for values of type V.
type Cache[V any] struct {
	group   singleflight.Group
	results *lru.Cache[string, V]
}

// New returns a Cache retaining up to capacity results.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache[V]{
		results: lru.NewCache[string, V](capacity),
	}
}

// Get returns the cached value for key, or runs compute to produce it.
// Concurrent calls with the same key while a computation is in flight all
// await that single computation. The context passed to compute is the one
// of the caller that started the computation.
func (c *Cache[V]) Get(ctx context.Context, key string, compute func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.results.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A result may have landed between the miss and acquiring the
		// flight; honor it rather than recomputing.
		if v, ok := c.results.Get(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.results.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops any cached result for key. An in-flight computation is
// unaffected; its result will still be cached when it completes.
func (c *Cache[V]) Invalidate(key string) {
	c.results.Remove(key)
}

// Len reports the number of retained results.
func (c *Cache[V]) Len() int {
	return c.results.Len()
}
