// Package memory implements the tiered memory engines: the short-term
// window, the episodic event log, the semantic knowledge store and the
// reflection consolidator.
package memory

import (
	"fmt"
	"time"
)

// Type classifies a memory record.
type Type string

const (
	TypeShortTerm  Type = "short-term"
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeReflection Type = "reflection"
)

// EventType classifies an episodic event.
type EventType string

const (
	EventObservation EventType = "observation"
	EventAction      EventType = "action"
	EventInteraction EventType = "interaction"
)

// Priority marks the urgency carried in an event's context.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Event is an episodic occurrence to be recorded.
type Event struct {
	// AgentID is the owning agent.
	AgentID string

	// SessionID optionally ties the event to a conversation session.
	SessionID string

	// Type classifies the event. Defaults to observation.
	Type EventType

	// Content is the event text.
	Content string

	// Priority raises the importance of urgent events.
	Priority Priority

	// Context carries arbitrary structured context stored with the event.
	Context map[string]interface{}

	// Timestamp defaults to now when zero.
	Timestamp time.Time
}

// Validate rejects malformed events before any I/O.
func (e *Event) Validate() error {
	if e.AgentID == "" {
		return fmt.Errorf("%w: event agent id is required", ErrValidation)
	}
	if e.Content == "" {
		return fmt.Errorf("%w: event content is required", ErrValidation)
	}
	switch e.Type {
	case "", EventObservation, EventAction, EventInteraction:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.Type)
	}
	switch e.Priority {
	case "", PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, e.Priority)
	}
	return nil
}

// Record is a stored memory returned by retrieval.
type Record struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agent_id"`
	SessionID  string                 `json:"session_id,omitempty"`
	Type       Type                   `json:"type"`
	Content    string                 `json:"content"`
	Importance int                    `json:"importance"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// ScoredRecord is a record with its retrieval scores.
type ScoredRecord struct {
	Record

	// Relevance is the raw vector similarity, 1.0 for scans without a query.
	Relevance float64 `json:"relevance"`

	// Composite is the weighted recency/importance/relevance score.
	Composite float64 `json:"composite"`
}

// Reflection is a consolidated insight memory.
type Reflection struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	Insights        []string  `json:"insights"`
	SourceMemoryIDs []string  `json:"source_memory_ids"`
	Importance      int       `json:"importance"`
	Timestamp       time.Time `json:"timestamp"`
}

// SemanticMemory is a free-text knowledge snippet.
type SemanticMemory struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Category  string    `json:"category,omitempty"`
	Verified  bool      `json:"verified"`
	Timestamp time.Time `json:"timestamp"`

	// Relevance is set on search results.
	Relevance float64 `json:"relevance,omitempty"`
}

// EpisodicStats aggregates an agent's episodic tier.
type EpisodicStats struct {
	Total         int            `json:"total"`
	ByEventType   map[string]int `json:"by_event_type"`
	AvgImportance float64        `json:"avg_importance"`
	Oldest        time.Time      `json:"oldest"`
	Newest        time.Time      `json:"newest"`
}

// SemanticStats aggregates an agent's semantic tier.
type SemanticStats struct {
	Memories   int            `json:"memories"`
	ByCategory map[string]int `json:"by_category"`
	BySource   map[string]int `json:"by_source"`
	Entities   int            `json:"entities"`
	Relations  int            `json:"relations"`
}
