// Package index provides a relational catalog of every stored memory,
// tracking where each one lives and how often it is accessed.
package index

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an index entry does not exist.
var ErrNotFound = errors.New("index: entry not found")

// Entry is a catalog row describing one stored memory.
type Entry struct {
	// ID is the memory id shared with the backing store.
	ID string `json:"id"`

	// AgentID is the owning agent.
	AgentID string `json:"agent_id"`

	// MemoryType classifies the memory (episodic, reflection, semantic).
	MemoryType string `json:"memory_type"`

	// StorageLocation names the backing store (vector, graph, cache).
	StorageLocation string `json:"storage_location"`

	// Importance is the 1-10 importance score.
	Importance int `json:"importance"`

	// Metadata carries arbitrary structured context.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the memory was recorded.
	CreatedAt time.Time `json:"created_at"`

	// AccessedAt is when the memory was last retrieved.
	AccessedAt time.Time `json:"accessed_at"`

	// AccessCount is how many times the memory was retrieved.
	AccessCount int `json:"access_count"`
}

// Filter narrows a List call. Zero values mean no constraint.
type Filter struct {
	AgentID       string
	MemoryType    string
	MinImportance int
	Since         time.Time
	Until         time.Time

	// OrderBy is one of "created_at", "importance", "access_count".
	// Empty orders by created_at descending.
	OrderBy string

	Limit  int
	Offset int
}

// Stats summarizes the catalog for one agent.
type Stats struct {
	Total         int            `json:"total"`
	ByType        map[string]int `json:"by_type"`
	AvgImportance float64        `json:"avg_importance"`
	Oldest        time.Time      `json:"oldest"`
	Newest        time.Time      `json:"newest"`
}

// Index is the memory catalog interface.
type Index interface {
	// Record inserts or replaces an entry.
	Record(ctx context.Context, e Entry) error

	// Get returns an entry by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns entries matching the filter.
	List(ctx context.Context, f Filter) ([]Entry, error)

	// TrackAccess bumps the access count and timestamp for an entry.
	TrackAccess(ctx context.Context, id string) error

	// Delete removes entries by id. Missing ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// DeleteByAgent removes every entry for an agent and returns the count.
	DeleteByAgent(ctx context.Context, agentID string) (int, error)

	// Stats summarizes an agent's catalog.
	Stats(ctx context.Context, agentID string) (Stats, error)

	// Close releases resources held by the index.
	Close() error
}
