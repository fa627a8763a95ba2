package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Del(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	now = now.Add(50 * time.Second)
	require.NoError(t, s.Expire(ctx, "k", time.Minute))
	now = now.Add(50 * time.Second)

	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Expire(ctx, "absent", time.Minute), ErrNotFound)
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "bounded", "v", time.Minute))
	require.NoError(t, s.Set(ctx, "forever", "v", 0))

	d, err := s.TTL(ctx, "bounded")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	_, err = s.TTL(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrBy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.IncrBy(ctx, "counter", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)

	n, err = s.IncrBy(ctx, "counter", 15)
	require.NoError(t, err)
	assert.Equal(t, int64(35), n)

	n, err = s.IncrBy(ctx, "counter", -35)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestIncrByConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrBy(ctx, "counter", 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.IncrBy(ctx, "counter", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestListOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.RPush(ctx, "list", "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	vals, err := s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, vals)

	vals, err = s.LRange(ctx, "list", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, vals)

	length, err := s.LLen(ctx, "list")
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)

	length, err = s.LLen(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestLTrimSlidingWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, v := range []string{"a", "b", "c", "d"} {
		_, err := s.RPush(ctx, "win", v)
		require.NoError(t, err)
	}

	// Keep the last 3 entries.
	require.NoError(t, s.LTrim(ctx, "win", -3, -1))

	vals, err := s.LRange(ctx, "win", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, vals)
}

func TestKeysPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "stm:s1:window", "x", 0))
	require.NoError(t, s.Set(ctx, "stm:s2:window", "x", 0))
	require.NoError(t, s.Set(ctx, "reflection:a1", "x", 0))

	keys, err := s.Keys(ctx, "stm:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stm:s1:window", "stm:s2:window"}, keys)
}
