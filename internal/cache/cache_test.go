package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_CachesResult(t *testing.T) {
	c := New[int](10)
	ctx := context.Background()

	var calls int32
	compute := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	v, err := c.Get(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.Get(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGet_ConcurrentCallersShareOneComputation(t *testing.T) {
	c := New[string](10)
	ctx := context.Background()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return "estimate", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(ctx, "same-fingerprint", compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "estimate", results[0])
	assert.Equal(t, "estimate", results[1])
}

func TestGet_FailureIsNotCached(t *testing.T) {
	c := New[int](10)
	ctx := context.Background()

	var calls int32
	boom := errors.New("oracle down")
	compute := func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return 0, boom
		}
		return 7, nil
	}

	_, err := c.Get(ctx, "k", compute)
	require.ErrorIs(t, err, boom)

	v, err := c.Get(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGet_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2)
	ctx := context.Background()

	counting := func(n int, calls *int32) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) {
			atomic.AddInt32(calls, 1)
			return n, nil
		}
	}

	var callsA, callsB, callsC int32
	_, _ = c.Get(ctx, "a", counting(1, &callsA))
	_, _ = c.Get(ctx, "b", counting(2, &callsB))
	_, _ = c.Get(ctx, "a", counting(1, &callsA)) // refresh "a"
	_, _ = c.Get(ctx, "c", counting(3, &callsC)) // evicts "b"

	_, _ = c.Get(ctx, "b", counting(2, &callsB))
	assert.Equal(t, int32(2), atomic.LoadInt32(&callsB))
	assert.Equal(t, int32(1), atomic.LoadInt32(&callsA))
}

func TestInvalidate_ForcesRecompute(t *testing.T) {
	c := New[int](10)
	ctx := context.Background()

	var calls int32
	compute := func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	v, err := c.Get(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	c.Invalidate("k")

	v, err = c.Get(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
