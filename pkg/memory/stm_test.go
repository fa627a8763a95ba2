package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo/mnemo/pkg/store/cache"
)

func newTestSTM(t *testing.T, cfg STMConfig) (*STMManager, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	return NewSTMManager(cfg, store, nil, nil), store
}

func TestSTMAppendAndRead(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, STMConfig{WindowSize: 10, TTL: time.Hour})

	require.NoError(t, stm.Append(ctx, "s1", "first"))
	require.NoError(t, stm.Append(ctx, "s1", "second"))

	entries, err := stm.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, entries)

	joined, err := stm.ReadJoined(ctx, "s1", "\n")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", joined)
}

func TestSTMSlidingWindowEviction(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, STMConfig{WindowSize: 3, TTL: time.Hour})

	require.NoError(t, stm.AppendAll(ctx, "s1", "a", "b", "c", "d"))

	entries, err := stm.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, entries)

	n, err := stm.Length(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSTMValidation(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, DefaultSTMConfig())

	assert.ErrorIs(t, stm.Append(ctx, "", "text"), ErrValidation)
	assert.ErrorIs(t, stm.Append(ctx, "s1", ""), ErrValidation)

	_, err := stm.Read(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSTMReadMissingSession(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, DefaultSTMConfig())

	entries, err := stm.Read(ctx, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSTMSetWindowSize(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, STMConfig{WindowSize: 10, TTL: time.Hour})

	require.NoError(t, stm.AppendAll(ctx, "s1", "a", "b", "c", "d", "e"))

	// Shrinking trims the existing window immediately.
	require.NoError(t, stm.SetWindowSize(ctx, "s1", 2))

	entries, err := stm.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, entries)

	size, err := stm.WindowSize(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	// The override only applies to its own session.
	size, err = stm.WindowSize(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 10, size)
}

func TestSTMSetWindowSizeBounds(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, DefaultSTMConfig())

	assert.ErrorIs(t, stm.SetWindowSize(ctx, "s1", 0), ErrInvalidWindowSize)
	assert.ErrorIs(t, stm.SetWindowSize(ctx, "s1", 101), ErrInvalidWindowSize)
	assert.NoError(t, stm.SetWindowSize(ctx, "s1", 1))
	assert.NoError(t, stm.SetWindowSize(ctx, "s1", 100))
}

func TestSTMSetWindowSizeBeforeAppend(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, STMConfig{WindowSize: 10, TTL: time.Hour})

	require.NoError(t, stm.SetWindowSize(ctx, "s1", 2))
	require.NoError(t, stm.AppendAll(ctx, "s1", "a", "b", "c"))

	entries, err := stm.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, entries)
}

func TestSTMClear(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, DefaultSTMConfig())

	require.NoError(t, stm.Append(ctx, "s1", "a"))
	require.NoError(t, stm.SetWindowSize(ctx, "s1", 5))
	require.NoError(t, stm.Clear(ctx, "s1"))

	entries, err := stm.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The override is gone too.
	size, err := stm.WindowSize(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, DefaultSTMConfig().WindowSize, size)

	exists, err := stm.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSTMTimeToLive(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, STMConfig{WindowSize: 10, TTL: time.Hour})

	_, err := stm.TimeToLive(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, stm.Append(ctx, "s1", "a"))
	d, err := stm.TimeToLive(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, time.Hour, d, float64(time.Second))
}

func TestSTMStats(t *testing.T) {
	ctx := context.Background()
	stm, _ := newTestSTM(t, STMConfig{WindowSize: 10, TTL: time.Hour})

	require.NoError(t, stm.AppendAll(ctx, "s1", "a", "b"))
	require.NoError(t, stm.Append(ctx, "s2", "x"))
	require.NoError(t, stm.SetWindowSize(ctx, "s2", 5))

	stats, err := stm.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byID := make(map[string]SessionStats)
	for _, st := range stats {
		byID[st.SessionID] = st
	}
	assert.Equal(t, 2, byID["s1"].Entries)
	assert.Equal(t, 10, byID["s1"].WindowSize)
	assert.Equal(t, 1, byID["s2"].Entries)
	assert.Equal(t, 5, byID["s2"].WindowSize)
}
