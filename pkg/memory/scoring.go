package memory

import (
	"math"
	"time"
)

// ImportanceWeights is the named weight table for the importance heuristic.
// Scoring is a pure function over this table.
type ImportanceWeights struct {
	// Base is the starting score for every event.
	Base int

	// Action and Interaction are added for the respective event types.
	// Observations add nothing.
	Action      int
	Interaction int

	// LongContent is added once above 500 chars and again above 1000.
	LongContent int

	// HighPriority and CriticalPriority are added for flagged events.
	HighPriority     int
	CriticalPriority int
}

// DefaultImportanceWeights returns the standard heuristic table.
func DefaultImportanceWeights() ImportanceWeights {
	return ImportanceWeights{
		Base:             5,
		Action:           1,
		Interaction:      2,
		LongContent:      1,
		HighPriority:     2,
		CriticalPriority: 3,
	}
}

// ComputeImportance scores an event deterministically, clamped to [1,10].
func ComputeImportance(e *Event, w ImportanceWeights) int {
	score := w.Base

	switch e.Type {
	case EventAction:
		score += w.Action
	case EventInteraction:
		score += w.Interaction
	}

	if len(e.Content) > 500 {
		score += w.LongContent
	}
	if len(e.Content) > 1000 {
		score += w.LongContent
	}

	switch e.Priority {
	case PriorityHigh:
		score += w.HighPriority
	case PriorityCritical:
		score += w.CriticalPriority
	}

	return clampImportance(score)
}

func clampImportance(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// ScoreWeights is the named weight table for composite ranking.
type ScoreWeights struct {
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Relevance  float64 `json:"relevance"`
}

// DefaultScoreWeights returns equal thirds.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Recency: 1.0 / 3, Importance: 1.0 / 3, Relevance: 1.0 / 3}
}

// RecencyScore maps an age to (0,1] with exponential decay. halfLifeDays is
// the e-folding time, 30 days by default.
func RecencyScore(timestamp, now time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	ageDays := now.Sub(timestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / halfLifeDays)
}

// CompositeScore combines recency, importance and relevance under the given
// weights. Importance is normalized from [1,10] to [0.1,1].
func CompositeScore(timestamp, now time.Time, importance int, relevance float64, w ScoreWeights, halfLifeDays float64) float64 {
	recency := RecencyScore(timestamp, now, halfLifeDays)
	return w.Recency*recency + w.Importance*(float64(importance)/10) + w.Relevance*relevance
}
