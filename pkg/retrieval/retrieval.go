// Package retrieval implements the read strategies over the memory stores:
// pure vector similarity, graph traversal and the weighted hybrid of both.
package retrieval

import (
	"errors"
	"time"
)

// Sentinel errors for the retrievers.
var (
	ErrValidation        = errors.New("retrieval: validation failed")
	ErrUnknownCollection = errors.New("retrieval: unknown collection")
)

// Strategy names a retrieval path, used for logging and metrics labels.
type Strategy string

const (
	StrategyVector Strategy = "vector"
	StrategyGraph  Strategy = "graph"
	StrategyHybrid Strategy = "hybrid"
)

// Result is one retrieved memory.
type Result struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agent_id"`
	MemoryType string                 `json:"memory_type"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
}
