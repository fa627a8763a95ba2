package embedding

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/cache"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestMockProviderDeterministic(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider(64)

	a1, err := p.Embed(ctx, "the same text")
	require.NoError(t, err)
	a2, err := p.Embed(ctx, "the same text")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "different text")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.Len(t, a1, 64)
	assert.Equal(t, 64, p.Dimensions())

	// Unit length.
	assert.InDelta(t, 1.0, CosineSimilarity(a1, a1), 1e-6)
}

func TestMockProviderBatch(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider(32)

	vecs, err := p.EmbedBatch(ctx, []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestOpenAIProvider(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		resp := map[string]interface{}{"data": []map[string]interface{}{}}
		data := resp["data"].([]map[string]interface{})
		for i := range req.Input {
			data = append(data, map[string]interface{}{
				"index":     i,
				"embedding": []float32{float32(i), 1, 0},
			})
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Dimension: 3,
	})

	vecs, err := p.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0, 1, 0}, vecs[0])
	assert.Equal(t, []float32{1, 1, 0}, vecs[1])
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAIProviderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, MaxRetries: 2, Dimension: 2})

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIProviderDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, MaxRetries: 3, Dimension: 2})

	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// countingProvider wraps MockProvider and counts EmbedBatch calls.
type countingProvider struct {
	*MockProvider
	batchCalls int32
	embedded   int32
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.batchCalls, 1)
	atomic.AddInt32(&c.embedded, int32(len(texts)))
	return c.MockProvider.EmbedBatch(ctx, texts)
}

func TestCachedProviderHitsSkipInner(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{MockProvider: NewMockProvider(16)}

	p, err := NewCachedProvider(inner, cache.NewMemoryStore(), CachedConfig{}, nil)
	require.NoError(t, err)

	v1, err := p.Embed(ctx, "remember this")
	require.NoError(t, err)
	p.Wait()

	v2, err := p.Embed(ctx, "remember this")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.batchCalls))
}

func TestCachedProviderBatchOnlyComputesMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{MockProvider: NewMockProvider(16)}

	p, err := NewCachedProvider(inner, cache.NewMemoryStore(), CachedConfig{}, nil)
	require.NoError(t, err)

	_, err = p.Embed(ctx, "a")
	require.NoError(t, err)
	p.Wait()

	vecs, err := p.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// "a" was cached, so the second call embeds just "b" and "c".
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.batchCalls))
	assert.Equal(t, int32(3), atomic.LoadInt32(&inner.embedded))
}

func TestCachedProviderRecordsProviderCalls(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{MockProvider: NewMockProvider(16)}
	m := metrics.NewManager(metrics.DefaultConfig())

	p, err := NewCachedProvider(inner, cache.NewMemoryStore(), CachedConfig{}, m)
	require.NoError(t, err)

	_, err = p.Embed(ctx, "first miss")
	require.NoError(t, err)
	p.Wait()
	_, err = p.Embed(ctx, "first miss")
	require.NoError(t, err)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Only the miss reached the inner provider.
	assert.Contains(t, string(body), `provider_calls_total{provider="embedding",status="success"} 1`)
}

func TestCachedProviderSharedStoreFallback(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewMemoryStore()

	inner1 := &countingProvider{MockProvider: NewMockProvider(16)}
	p1, err := NewCachedProvider(inner1, shared, CachedConfig{}, nil)
	require.NoError(t, err)

	want, err := p1.Embed(ctx, "shared across processes")
	require.NoError(t, err)

	// A second provider with a cold in-process cache finds the vector in
	// the shared store.
	inner2 := &countingProvider{MockProvider: NewMockProvider(16)}
	p2, err := NewCachedProvider(inner2, shared, CachedConfig{}, nil)
	require.NoError(t, err)

	got, err := p2.Embed(ctx, "shared across processes")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&inner2.batchCalls))
}
