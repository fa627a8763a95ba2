package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/time/rate"

	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/cache"
)

// CachedConfig holds configuration for the caching layer.
type CachedConfig struct {
	// CacheTTL is the lifetime of embeddings in the shared cache store.
	CacheTTL time.Duration

	// RateLimit caps provider calls per second. Zero disables limiting.
	RateLimit float64

	// L1MaxEntries bounds the in-process cache. Zero means 10k entries.
	L1MaxEntries int64
}

// CachedProvider wraps a Provider with a two-level cache: an in-process
// ristretto cache in front of the shared cache store. Provider calls are
// rate limited.
type CachedProvider struct {
	inner   Provider
	store   cache.Store
	l1      *ristretto.Cache
	limiter *rate.Limiter
	ttl     time.Duration
	metrics *metrics.Manager
}

// NewCachedProvider wraps inner with caching and rate limiting. The store
// may be nil to run with the in-process cache only.
func NewCachedProvider(inner Provider, store cache.Store, cfg CachedConfig, m *metrics.Manager) (*CachedProvider, error) {
	maxEntries := cfg.L1MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10_000
	}

	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if m == nil {
		m = metrics.NoOpManager()
	}

	return &CachedProvider{
		inner:   inner,
		store:   store,
		l1:      l1,
		limiter: limiter,
		ttl:     cfg.CacheTTL,
		metrics: m,
	}, nil
}

// cacheKey derives a stable key from the text content.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + hex.EncodeToString(sum[:])
}

// Embed returns a cached embedding or computes and caches a new one.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch resolves each text from the caches and computes only the
// misses, in one provider call.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec := p.lookup(ctx, cacheKey(text)); vec != nil {
			p.metrics.RecordEmbeddingCacheHit()
			out[i] = vec
			continue
		}
		p.metrics.RecordEmbeddingCacheMiss()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	computed, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		p.metrics.RecordProviderCall("embedding", "error", time.Since(started))
		return nil, err
	}
	p.metrics.RecordProviderCall("embedding", "success", time.Since(started))

	for j, vec := range computed {
		out[missIdx[j]] = vec
		p.save(ctx, cacheKey(missTexts[j]), vec)
	}
	return out, nil
}

// lookup checks the in-process cache, then the shared store.
func (p *CachedProvider) lookup(ctx context.Context, key string) []float32 {
	if v, ok := p.l1.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec
		}
	}

	if p.store == nil {
		return nil
	}

	raw, err := p.store.Get(ctx, key)
	if err != nil {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil
	}
	p.l1.Set(key, vec, 1)
	return vec
}

// save writes a vector to both cache levels. Store failures are dropped;
// the embedding is already computed.
func (p *CachedProvider) save(ctx context.Context, key string, vec []float32) {
	p.l1.Set(key, vec, 1)

	if p.store == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	_ = p.store.Set(ctx, key, string(raw), p.ttl)
}

// Dimensions returns the inner provider's vector size.
func (p *CachedProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Wait flushes pending in-process cache writes. Tests use it to make
// lookups deterministic.
func (p *CachedProvider) Wait() {
	p.l1.Wait()
}
