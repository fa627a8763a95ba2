// Package embedding provides pluggable text embedding providers with
// caching and rate limiting.
package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrProviderUnavailable is returned when the embedding backend cannot be
// reached or keeps failing after retries.
var ErrProviderUnavailable = errors.New("embedding: provider unavailable")

// Provider generates embedding vectors from text.
type Provider interface {
	// Embed returns the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
