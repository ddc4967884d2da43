package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockCacheGetMiss(t *testing.T) {
	c := NewBlockCache(4)
	_, ok := c.Get(BlockKey{SstID: 1, BlockIdx: 0})
	assert.False(t, ok)
}

func TestBlockCacheInsertThenGetHits(t *testing.T) {
	c := NewBlockCache(4)
	key := BlockKey{SstID: 1, BlockIdx: 0}
	c.Insert(key, []byte("data"))

	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("data"), v)
	assert.Equal(t, 1, c.Size())
}

func TestBlockCacheGetOrFetchDedupesConcurrentMisses(t *testing.T) {
	c := NewBlockCache(4)
	key := BlockKey{SstID: 7, BlockIdx: 2}

	var calls int32
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("fetched"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), key, fetch)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, []byte("fetched"), v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent misses for the same key must fetch exactly once")
}

func TestBlockCacheGetOrFetchPropagatesError(t *testing.T) {
	c := NewBlockCache(4)
	key := BlockKey{SstID: 1, BlockIdx: 0}
	_, err := c.GetOrFetch(context.Background(), key, func(ctx context.Context) ([]byte, error) {
		return nil, assertErr
	})
	assert.Error(t, err)
}

var assertErr = &testError{"fetch failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestMetaCacheRoundTrip(t *testing.T) {
	c := NewMetaCache(4)
	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Insert(1, []byte("footer"))
	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("footer"), v)
}

func TestMetaCacheGetOrFetchDedupesConcurrentMisses(t *testing.T) {
	c := NewMetaCache(4)
	var calls int32
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("footer"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(context.Background(), 42, fetch)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
