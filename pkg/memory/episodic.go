package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo/mnemo/pkg/embedding"
	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/index"
	"github.com/mnemo/mnemo/pkg/store/vector"
)

// ImportanceAccumulator receives the importance of every recorded event.
// The reflection engine implements it.
type ImportanceAccumulator interface {
	// Accumulate adds amount to the agent's counter and reports whether
	// the reflection threshold was crossed from below.
	Accumulate(ctx context.Context, agentID string, amount int) (crossed bool, total int64, err error)
}

// EpisodicConfig holds episodic engine tunables.
type EpisodicConfig struct {
	// ImportanceWeights is the scoring table for recorded events.
	ImportanceWeights ImportanceWeights

	// ScoreWeights is the default composite ranking table.
	ScoreWeights ScoreWeights

	// RecencyHalfLifeDays controls the exponential recency decay.
	RecencyHalfLifeDays float64

	// DefaultTopK is the default result count for retrieval.
	DefaultTopK int
}

// DefaultEpisodicConfig returns the standard tunables.
func DefaultEpisodicConfig() EpisodicConfig {
	return EpisodicConfig{
		ImportanceWeights:   DefaultImportanceWeights(),
		ScoreWeights:        DefaultScoreWeights(),
		RecencyHalfLifeDays: 30,
		DefaultTopK:         10,
	}
}

// EpisodicEngine records timestamped events and retrieves them by composite
// recency/importance/relevance rank. Every durable record is written twice:
// the vector index holds content and embedding, the relational index holds
// the metadata used for filtering and statistics.
type EpisodicEngine struct {
	cfg      EpisodicConfig
	vectors  vector.Store
	catalog  index.Index
	embedder embedding.Provider
	acc      ImportanceAccumulator
	logger   logger.Logger
	metrics  *metrics.Manager
	now      func() time.Time
}

// NewEpisodicEngine creates an episodic memory engine.
func NewEpisodicEngine(cfg EpisodicConfig, vectors vector.Store, catalog index.Index, embedder embedding.Provider, acc ImportanceAccumulator, log logger.Logger, m *metrics.Manager) *EpisodicEngine {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.RecencyHalfLifeDays <= 0 {
		cfg.RecencyHalfLifeDays = 30
	}
	if cfg.ScoreWeights == (ScoreWeights{}) {
		cfg.ScoreWeights = DefaultScoreWeights()
	}
	if cfg.ImportanceWeights == (ImportanceWeights{}) {
		cfg.ImportanceWeights = DefaultImportanceWeights()
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &EpisodicEngine{
		cfg:      cfg,
		vectors:  vectors,
		catalog:  catalog,
		embedder: embedder,
		acc:      acc,
		logger:   log,
		metrics:  m,
		now:      time.Now,
	}
}

// RecordEvent scores, embeds and stores an event, and feeds its importance
// into the reflection accumulator. It returns the new memory id and whether
// the agent's reflection threshold was crossed by this write.
func (e *EpisodicEngine) RecordEvent(ctx context.Context, event *Event) (string, bool, error) {
	if err := event.Validate(); err != nil {
		return "", false, err
	}

	importance := ComputeImportance(event, e.cfg.ImportanceWeights)

	emb, err := e.embedder.Embed(ctx, event.Content)
	if err != nil {
		e.metrics.RecordMemoryWrite("episodic", "error")
		return "", false, fmt.Errorf("failed to embed event: %w", err)
	}

	id := uuid.New().String()
	ts := event.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	payloadCtx := make(map[string]interface{}, len(event.Context)+3)
	for k, v := range event.Context {
		payloadCtx[k] = v
	}
	eventType := event.Type
	if eventType == "" {
		eventType = EventObservation
	}
	payloadCtx["event_type"] = string(eventType)
	if event.SessionID != "" {
		payloadCtx["session_id"] = event.SessionID
	}
	if event.Priority != "" {
		payloadCtx["priority"] = string(event.Priority)
	}

	err = e.vectors.Upsert(ctx, vector.Point{
		ID:        id,
		Embedding: emb,
		Payload: vector.Payload{
			AgentID:    event.AgentID,
			Content:    event.Content,
			MemoryType: string(TypeEpisodic),
			Importance: importance,
			Timestamp:  ts,
			Context:    payloadCtx,
		},
	})
	if err != nil {
		e.metrics.RecordMemoryWrite("episodic", "error")
		return "", false, fmt.Errorf("failed to store event vector: %w", err)
	}

	err = e.catalog.Record(ctx, index.Entry{
		ID:              id,
		AgentID:         event.AgentID,
		MemoryType:      string(TypeEpisodic),
		StorageLocation: "vector",
		Importance:      importance,
		Metadata: map[string]interface{}{
			"event_type": string(eventType),
			"session_id": event.SessionID,
		},
		CreatedAt: ts,
	})
	if err != nil {
		// The vector copy exists without its index row; flag the orphan
		// for a repair job.
		e.logger.Error("consistency gap: vector stored without index row",
			"memory_id", id, "agent_id", event.AgentID, "error", err)
		e.metrics.RecordMemoryWrite("episodic", "error")
		return "", false, fmt.Errorf("failed to index event: %w", err)
	}

	e.metrics.RecordMemoryWrite("episodic", "success")
	e.metrics.RecordImportance("episodic", importance)

	var crossed bool
	if e.acc != nil {
		var total int64
		crossed, total, err = e.acc.Accumulate(ctx, event.AgentID, importance)
		if err != nil {
			// The event itself is stored; the counter drift is logged,
			// not fatal.
			e.logger.Warn("failed to accumulate importance",
				"agent_id", event.AgentID, "error", err)
		} else {
			e.metrics.SetAccumulatedImportance(total)
		}
	}

	e.logger.Debug("event recorded",
		"memory_id", id, "agent_id", event.AgentID,
		"event_type", string(eventType), "importance", importance)
	return id, crossed, nil
}

// EpisodicQuery selects and ranks episodic memories.
type EpisodicQuery struct {
	// AgentID is required.
	AgentID string

	// QueryText enables similarity search when set.
	QueryText string

	// Since and Until bound the time range.
	Since time.Time
	Until time.Time

	// MinImportance excludes low-value memories.
	MinImportance int

	// TopK is the result count, defaulting to the engine's DefaultTopK.
	TopK int

	// Weights overrides the composite ranking table.
	Weights *ScoreWeights
}

// RetrieveEpisodes returns the agent's top memories by composite score.
// With query text it re-ranks a 2x candidate pool from the vector index;
// without it, candidates come from a recency-ordered catalog scan.
func (e *EpisodicEngine) RetrieveEpisodes(ctx context.Context, q EpisodicQuery) ([]ScoredRecord, error) {
	if q.AgentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	topK := q.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	weights := e.cfg.ScoreWeights
	if q.Weights != nil {
		weights = *q.Weights
	}

	started := e.now()
	var candidates []ScoredRecord
	var err error
	if q.QueryText != "" {
		candidates, err = e.searchCandidates(ctx, q, topK*2)
	} else {
		candidates, err = e.scanCandidates(ctx, q, topK*2)
	}
	if err != nil {
		e.metrics.RecordRetrieval("episodic", "error", e.now().Sub(started), 0)
		return nil, err
	}

	now := e.now()
	for i := range candidates {
		candidates[i].Composite = CompositeScore(
			candidates[i].Timestamp, now,
			candidates[i].Importance, candidates[i].Relevance,
			weights, e.cfg.RecencyHalfLifeDays,
		)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Composite != candidates[j].Composite {
			return candidates[i].Composite > candidates[j].Composite
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	e.metrics.RecordRetrieval("episodic", "success", e.now().Sub(started), len(candidates))
	return candidates, nil
}

// searchCandidates pulls a re-ranking pool from the vector index.
func (e *EpisodicEngine) searchCandidates(ctx context.Context, q EpisodicQuery, pool int) ([]ScoredRecord, error) {
	emb, err := e.embedder.Embed(ctx, q.QueryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := e.vectors.Search(ctx, emb, pool, vector.Filter{
		AgentID:       q.AgentID,
		MinImportance: q.MinImportance,
		Since:         q.Since,
		Until:         q.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}

	candidates := make([]ScoredRecord, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, ScoredRecord{
			Record:    payloadToRecord(r.ID, r.Payload),
			Relevance: r.Score,
		})
	}
	return candidates, nil
}

// scanCandidates enumerates recent memories from the catalog and loads
// their payloads by id. Relevance is 1 for every candidate.
func (e *EpisodicEngine) scanCandidates(ctx context.Context, q EpisodicQuery, pool int) ([]ScoredRecord, error) {
	entries, err := e.catalog.List(ctx, index.Filter{
		AgentID:       q.AgentID,
		MemoryType:    string(TypeEpisodic),
		MinImportance: q.MinImportance,
		Since:         q.Since,
		Until:         q.Until,
		Limit:         pool,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog: %w", err)
	}

	candidates := make([]ScoredRecord, 0, len(entries))
	for _, entry := range entries {
		point, err := e.vectors.Get(ctx, entry.ID)
		if errors.Is(err, vector.ErrNotFound) {
			e.logger.Warn("consistency gap: index row without vector",
				"memory_id", entry.ID, "agent_id", q.AgentID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load event %s: %w", entry.ID, err)
		}
		candidates = append(candidates, ScoredRecord{
			Record:    payloadToRecord(point.ID, point.Payload),
			Relevance: 1.0,
		})
	}
	return candidates, nil
}

// GetByID fetches one memory by id.
func (e *EpisodicEngine) GetByID(ctx context.Context, id string) (*Record, error) {
	point, err := e.vectors.Get(ctx, id)
	if errors.Is(err, vector.ErrNotFound) {
		return nil, fmt.Errorf("%w: memory %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory %s: %w", id, err)
	}
	rec := payloadToRecord(point.ID, point.Payload)
	return &rec, nil
}

// TrackAccess bumps the access counters without affecting ranking.
func (e *EpisodicEngine) TrackAccess(ctx context.Context, id string) error {
	if err := e.catalog.TrackAccess(ctx, id); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return fmt.Errorf("%w: memory %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to track access: %w", err)
	}
	return nil
}

// DeleteMemory removes both store copies of a memory.
func (e *EpisodicEngine) DeleteMemory(ctx context.Context, id string) error {
	if err := e.vectors.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete memory vector %s: %w", id, err)
	}
	if err := e.catalog.Delete(ctx, id); err != nil {
		e.logger.Error("consistency gap: vector deleted without index row",
			"memory_id", id, "error", err)
		return fmt.Errorf("failed to delete index row %s: %w", id, err)
	}
	e.metrics.RecordMemoryDelete("episodic")
	return nil
}

// PurgeAgent removes every durable episodic memory for an agent and
// returns the number of catalog rows removed.
func (e *EpisodicEngine) PurgeAgent(ctx context.Context, agentID string) (int, error) {
	if agentID == "" {
		return 0, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	if _, err := e.vectors.DeleteByAgent(ctx, agentID); err != nil {
		return 0, fmt.Errorf("failed to purge vectors for %s: %w", agentID, err)
	}

	entries, err := e.catalog.List(ctx, index.Filter{AgentID: agentID, MemoryType: string(TypeEpisodic)})
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate catalog for %s: %w", agentID, err)
	}
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}
	if err := e.catalog.Delete(ctx, ids...); err != nil {
		return 0, fmt.Errorf("failed to purge catalog for %s: %w", agentID, err)
	}

	e.logger.Info("agent episodic memories purged", "agent_id", agentID, "removed", len(ids))
	return len(ids), nil
}

// GetStats aggregates the agent's episodic tier from the catalog only.
func (e *EpisodicEngine) GetStats(ctx context.Context, agentID string) (*EpisodicStats, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	entries, err := e.catalog.List(ctx, index.Filter{
		AgentID:    agentID,
		MemoryType: string(TypeEpisodic),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	stats := &EpisodicStats{ByEventType: make(map[string]int)}
	var importanceSum int
	for _, entry := range entries {
		stats.Total++
		importanceSum += entry.Importance

		eventType, _ := entry.Metadata["event_type"].(string)
		if eventType == "" {
			eventType = string(EventObservation)
		}
		stats.ByEventType[eventType]++

		if stats.Oldest.IsZero() || entry.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.Newest) {
			stats.Newest = entry.CreatedAt
		}
	}
	if stats.Total > 0 {
		stats.AvgImportance = float64(importanceSum) / float64(stats.Total)
	}
	return stats, nil
}

// payloadToRecord rebuilds a Record from a vector payload.
func payloadToRecord(id string, p vector.Payload) Record {
	rec := Record{
		ID:         id,
		AgentID:    p.AgentID,
		Type:       Type(p.MemoryType),
		Content:    p.Content,
		Importance: p.Importance,
		Timestamp:  p.Timestamp,
		Context:    p.Context,
	}
	if sid, ok := p.Context["session_id"].(string); ok {
		rec.SessionID = sid
	}
	return rec
}
