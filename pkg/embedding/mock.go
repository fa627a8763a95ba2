package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockProvider generates deterministic pseudo-random embeddings from a hash
// of the input text. Identical texts always produce identical vectors, which
// is all similarity tests need.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider with the given vector size.
func NewMockProvider(dimension int) *MockProvider {
	if dimension <= 0 {
		dimension = 1536
	}
	return &MockProvider{dimension: dimension}
}

// Embed returns a deterministic unit vector derived from the text.
func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dimension)
	var norm float64
	for i := range vec {
		// Linear congruential step per component.
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11))/float64(1<<52) - 1
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (p *MockProvider) Dimensions() int {
	return p.dimension
}
