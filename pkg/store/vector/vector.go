// Package vector provides the embedded vector index backing episodic and
// semantic memory.
package vector

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a point does not exist.
var ErrNotFound = errors.New("vector: point not found")

// Payload is the structured data stored alongside an embedding.
type Payload struct {
	// AgentID is the owning agent.
	AgentID string `json:"agent_id"`

	// Content is the memory text.
	Content string `json:"content"`

	// MemoryType classifies the point (episodic, reflection, semantic).
	MemoryType string `json:"memory_type"`

	// Importance is the 1-10 importance score.
	Importance int `json:"importance"`

	// Timestamp is when the memory was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Context carries arbitrary structured context.
	Context map[string]interface{} `json:"context,omitempty"`
}

// Point is an embedding with its payload.
type Point struct {
	ID        string
	Embedding []float32
	Payload   Payload
}

// SearchResult is a point with its similarity score.
type SearchResult struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter narrows a search. Zero values mean no constraint.
type Filter struct {
	// AgentID restricts results to one agent.
	AgentID string

	// MemoryType restricts results to one memory type.
	MemoryType string

	// MinImportance excludes points below this importance.
	MinImportance int

	// Since excludes points recorded before this time.
	Since time.Time

	// Until excludes points recorded after this time.
	Until time.Time
}

// hasRangeConstraints reports whether the filter needs post-query evaluation.
func (f Filter) hasRangeConstraints() bool {
	return f.MinImportance > 0 || !f.Since.IsZero() || !f.Until.IsZero()
}

// matches evaluates the range constraints against a payload.
func (f Filter) matches(p Payload) bool {
	if f.MinImportance > 0 && p.Importance < f.MinImportance {
		return false
	}
	if !f.Since.IsZero() && p.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && p.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Store is the vector index interface. Implementations must be safe for
// concurrent use.
type Store interface {
	// Upsert stores or replaces a point.
	Upsert(ctx context.Context, point Point) error

	// Get returns a point by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Point, error)

	// Delete removes points by id. Missing ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// DeleteByAgent removes every point owned by an agent and returns the
	// number removed.
	DeleteByAgent(ctx context.Context, agentID string) (int, error)

	// Search returns up to limit points nearest to the embedding, filtered
	// and ordered by descending similarity.
	Search(ctx context.Context, embedding []float32, limit int, filter Filter) ([]SearchResult, error)

	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}
