package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo/mnemo/pkg/embedding"
	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/graph"
	"github.com/mnemo/mnemo/pkg/store/index"
	"github.com/mnemo/mnemo/pkg/store/vector"
)

// SemanticConfig holds semantic engine tunables.
type SemanticConfig struct {
	// DefaultTopK is the default result count for search.
	DefaultTopK int

	// DefaultTraversalDepth bounds knowledge queries without an explicit depth.
	DefaultTraversalDepth int
}

// DefaultSemanticConfig returns the standard tunables.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{DefaultTopK: 10, DefaultTraversalDepth: 2}
}

// SemanticEngine stores agent knowledge in two shapes: free-text memories in
// the vector index and subject-predicate-object facts in the knowledge graph.
// The graph is shared across agents; text memories are agent-scoped.
type SemanticEngine struct {
	cfg      SemanticConfig
	vectors  vector.Store
	catalog  index.Index
	graph    graph.Store
	embedder embedding.Provider
	logger   logger.Logger
	metrics  *metrics.Manager
	now      func() time.Time
}

// NewSemanticEngine creates a semantic memory engine. The vector store must
// be the semantic collection.
func NewSemanticEngine(cfg SemanticConfig, vectors vector.Store, catalog index.Index, g graph.Store, embedder embedding.Provider, log logger.Logger, m *metrics.Manager) *SemanticEngine {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.DefaultTraversalDepth <= 0 {
		cfg.DefaultTraversalDepth = 2
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &SemanticEngine{
		cfg:      cfg,
		vectors:  vectors,
		catalog:  catalog,
		graph:    g,
		embedder: embedder,
		logger:   log,
		metrics:  m,
		now:      time.Now,
	}
}

// StoreSemanticMemory embeds and stores a knowledge snippet, returning its
// id. New memories always start unverified.
func (s *SemanticEngine) StoreSemanticMemory(ctx context.Context, mem *SemanticMemory) (string, error) {
	if mem.AgentID == "" {
		return "", fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	if mem.Content == "" {
		return "", fmt.Errorf("%w: content is required", ErrValidation)
	}

	emb, err := s.embedder.Embed(ctx, mem.Content)
	if err != nil {
		s.metrics.RecordMemoryWrite("semantic", "error")
		return "", fmt.Errorf("failed to embed semantic memory: %w", err)
	}

	id := mem.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := mem.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	err = s.vectors.Upsert(ctx, vector.Point{
		ID:        id,
		Embedding: emb,
		Payload: vector.Payload{
			AgentID:    mem.AgentID,
			Content:    mem.Content,
			MemoryType: string(TypeSemantic),
			Importance: 5,
			Timestamp:  ts,
			Context: map[string]interface{}{
				"category": mem.Category,
				"source":   mem.Source,
				"verified": strconv.FormatBool(false),
			},
		},
	})
	if err != nil {
		s.metrics.RecordMemoryWrite("semantic", "error")
		return "", fmt.Errorf("failed to store semantic vector: %w", err)
	}

	err = s.catalog.Record(ctx, index.Entry{
		ID:              id,
		AgentID:         mem.AgentID,
		MemoryType:      string(TypeSemantic),
		StorageLocation: "vector",
		Importance:      5,
		Metadata: map[string]interface{}{
			"category": mem.Category,
			"source":   mem.Source,
		},
		CreatedAt: ts,
	})
	if err != nil {
		s.logger.Error("consistency gap: semantic vector stored without index row",
			"memory_id", id, "error", err)
		s.metrics.RecordMemoryWrite("semantic", "error")
		return "", fmt.Errorf("failed to index semantic memory: %w", err)
	}

	s.metrics.RecordMemoryWrite("semantic", "success")
	s.logger.Debug("semantic memory stored",
		"memory_id", id, "agent_id", mem.AgentID, "category", mem.Category)
	return id, nil
}

// SearchSemanticMemories returns the agent's most similar knowledge
// snippets, optionally restricted to one category.
func (s *SemanticEngine) SearchSemanticMemories(ctx context.Context, agentID, query, category string, topK int) ([]SemanticMemory, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Category is filtered after the search, so over-fetch when one is set.
	limit := topK
	if category != "" {
		limit = topK * 3
	}

	started := s.now()
	results, err := s.vectors.Search(ctx, emb, limit, vector.Filter{AgentID: agentID})
	if err != nil {
		s.metrics.RecordRetrieval("semantic", "error", s.now().Sub(started), 0)
		return nil, fmt.Errorf("failed to search semantic memories: %w", err)
	}

	memories := make([]SemanticMemory, 0, len(results))
	for _, r := range results {
		mem := resultToSemantic(r)
		if category != "" && mem.Category != category {
			continue
		}
		memories = append(memories, mem)
		if len(memories) == topK {
			break
		}
	}

	s.metrics.RecordRetrieval("semantic", "success", s.now().Sub(started), len(memories))
	return memories, nil
}

// GetSemanticMemory fetches one knowledge snippet by id.
func (s *SemanticEngine) GetSemanticMemory(ctx context.Context, id string) (*SemanticMemory, error) {
	point, err := s.vectors.Get(ctx, id)
	if errors.Is(err, vector.ErrNotFound) {
		return nil, fmt.Errorf("%w: semantic memory %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic memory %s: %w", id, err)
	}
	mem := resultToSemantic(vector.SearchResult{ID: point.ID, Payload: point.Payload})
	mem.Relevance = 0
	return &mem, nil
}

// DeleteSemanticMemory removes both store copies of a knowledge snippet.
func (s *SemanticEngine) DeleteSemanticMemory(ctx context.Context, id string) error {
	if err := s.vectors.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete semantic vector %s: %w", id, err)
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		s.logger.Error("consistency gap: semantic vector deleted without index row",
			"memory_id", id, "error", err)
		return fmt.Errorf("failed to delete index row %s: %w", id, err)
	}
	s.metrics.RecordMemoryDelete("semantic")
	return nil
}

// StoreFact merges a subject-predicate-object triple into the graph.
func (s *SemanticEngine) StoreFact(ctx context.Context, subject, predicate, object string) (*graph.Fact, error) {
	fact, err := s.graph.MergeFact(ctx, subject, predicate, object)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("fact stored",
		"subject", subject, "predicate", predicate, "object", object)
	return fact, nil
}

// CreateEntity stores a new graph entity.
func (s *SemanticEngine) CreateEntity(ctx context.Context, e graph.Entity) (*graph.Entity, error) {
	return s.graph.CreateEntity(ctx, e)
}

// GetEntity returns a graph entity by id.
func (s *SemanticEngine) GetEntity(ctx context.Context, id string) (*graph.Entity, error) {
	return s.graph.GetEntity(ctx, id)
}

// GetEntityByName returns a graph entity by exact name.
func (s *SemanticEngine) GetEntityByName(ctx context.Context, name string) (*graph.Entity, error) {
	return s.graph.GetEntityByName(ctx, name)
}

// UpdateEntity merges properties into a graph entity.
func (s *SemanticEngine) UpdateEntity(ctx context.Context, id string, props map[string]interface{}) (*graph.Entity, error) {
	return s.graph.UpdateEntity(ctx, id, props)
}

// DeleteEntity removes a graph entity and its relations.
func (s *SemanticEngine) DeleteEntity(ctx context.Context, id string) error {
	return s.graph.DeleteEntity(ctx, id)
}

// TraverseGraph walks the graph breadth-first from an entity.
func (s *SemanticEngine) TraverseGraph(ctx context.Context, entityID string, maxDepth int) ([]graph.TraversalNode, error) {
	if maxDepth <= 0 {
		maxDepth = s.cfg.DefaultTraversalDepth
	}
	return s.graph.Traverse(ctx, entityID, maxDepth)
}

// KnowledgeQuery selects graph knowledge either by traversal from an entity
// or by a fact pattern. At least one of EntityID, Subject or Object must be
// set; a bare Predicate cannot anchor a query.
type KnowledgeQuery struct {
	// EntityID requests a traversal from this entity.
	EntityID string

	// Subject, Predicate and Object form a fact pattern. Empty fields match
	// anything.
	Subject   string
	Predicate string
	Object    string

	// Depth bounds the traversal.
	Depth int
}

// KnowledgeResult is the answer to a knowledge query.
type KnowledgeResult struct {
	// Nodes is set for traversal queries.
	Nodes []graph.TraversalNode `json:"nodes,omitempty"`

	// Facts is set for pattern queries.
	Facts []graph.Fact `json:"facts,omitempty"`
}

// QueryKnowledge answers a knowledge query against the graph.
func (s *SemanticEngine) QueryKnowledge(ctx context.Context, q KnowledgeQuery) (*KnowledgeResult, error) {
	if q.EntityID != "" {
		nodes, err := s.TraverseGraph(ctx, q.EntityID, q.Depth)
		if err != nil {
			return nil, err
		}
		return &KnowledgeResult{Nodes: nodes}, nil
	}

	if q.Subject == "" && q.Object == "" {
		return nil, fmt.Errorf("%w: knowledge query needs an entity id, subject or object", ErrValidation)
	}

	facts, err := s.matchFacts(ctx, q)
	if err != nil {
		return nil, err
	}
	return &KnowledgeResult{Facts: facts}, nil
}

// matchFacts resolves a fact pattern anchored on the subject or object name.
func (s *SemanticEngine) matchFacts(ctx context.Context, q KnowledgeQuery) ([]graph.Fact, error) {
	anchor := q.Subject
	if anchor == "" {
		anchor = q.Object
	}

	entity, err := s.graph.GetEntityByName(ctx, anchor)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	neighbors, err := s.graph.Neighbors(ctx, entity.ID)
	if err != nil {
		return nil, err
	}

	var facts []graph.Fact
	for _, n := range neighbors {
		if q.Predicate != "" && n.Relation.Type != q.Predicate {
			continue
		}

		var fact graph.Fact
		if n.Outgoing {
			fact = graph.Fact{Subject: *entity, Predicate: n.Relation, Object: n.Entity}
		} else {
			fact = graph.Fact{Subject: n.Entity, Predicate: n.Relation, Object: *entity}
		}

		if q.Subject != "" && fact.Subject.Name != q.Subject {
			continue
		}
		if q.Object != "" && fact.Object.Name != q.Object {
			continue
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// Subgraph is a deduplicated export of a graph neighborhood.
type Subgraph struct {
	Entities  []graph.Entity   `json:"entities"`
	Relations []graph.Relation `json:"relations"`
}

// ExportSubgraph returns the entity, everything reachable within maxDepth
// hops, and the relations walked to get there. Entities and relations each
// appear once.
func (s *SemanticEngine) ExportSubgraph(ctx context.Context, entityID string, maxDepth int) (*Subgraph, error) {
	root, err := s.graph.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	nodes, err := s.TraverseGraph(ctx, entityID, maxDepth)
	if err != nil {
		return nil, err
	}

	sub := &Subgraph{Entities: []graph.Entity{*root}}
	seenEntities := map[string]bool{root.ID: true}
	seenRelations := map[string]bool{}
	for _, n := range nodes {
		if !seenEntities[n.Entity.ID] {
			seenEntities[n.Entity.ID] = true
			sub.Entities = append(sub.Entities, n.Entity)
		}
		if !seenRelations[n.Via.ID] {
			seenRelations[n.Via.ID] = true
			sub.Relations = append(sub.Relations, n.Via)
		}
	}
	return sub, nil
}

// GetStats aggregates the agent's semantic tier plus the shared graph.
func (s *SemanticEngine) GetStats(ctx context.Context, agentID string) (*SemanticStats, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	entries, err := s.catalog.List(ctx, index.Filter{
		AgentID:    agentID,
		MemoryType: string(TypeSemantic),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic stats: %w", err)
	}

	stats := &SemanticStats{
		ByCategory: make(map[string]int),
		BySource:   make(map[string]int),
	}
	for _, entry := range entries {
		stats.Memories++
		if category, _ := entry.Metadata["category"].(string); category != "" {
			stats.ByCategory[category]++
		}
		if source, _ := entry.Metadata["source"].(string); source != "" {
			stats.BySource[source]++
		}
	}

	gs, err := s.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph stats: %w", err)
	}
	stats.Entities = gs.Entities
	stats.Relations = gs.Relations
	return stats, nil
}

// PurgeAgent removes the agent's semantic text memories. The shared graph
// is left untouched.
func (s *SemanticEngine) PurgeAgent(ctx context.Context, agentID string) (int, error) {
	if agentID == "" {
		return 0, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	if _, err := s.vectors.DeleteByAgent(ctx, agentID); err != nil {
		return 0, fmt.Errorf("failed to purge semantic vectors for %s: %w", agentID, err)
	}

	entries, err := s.catalog.List(ctx, index.Filter{AgentID: agentID, MemoryType: string(TypeSemantic)})
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate catalog for %s: %w", agentID, err)
	}
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}
	if err := s.catalog.Delete(ctx, ids...); err != nil {
		return 0, fmt.Errorf("failed to purge catalog for %s: %w", agentID, err)
	}

	s.logger.Info("agent semantic memories purged", "agent_id", agentID, "removed", len(ids))
	return len(ids), nil
}

// resultToSemantic rebuilds a SemanticMemory from a search result.
func resultToSemantic(r vector.SearchResult) SemanticMemory {
	mem := SemanticMemory{
		ID:        r.ID,
		AgentID:   r.Payload.AgentID,
		Content:   r.Payload.Content,
		Timestamp: r.Payload.Timestamp,
		Relevance: r.Score,
	}
	if category, ok := r.Payload.Context["category"].(string); ok {
		mem.Category = category
	}
	if source, ok := r.Payload.Context["source"].(string); ok {
		mem.Source = source
	}
	if verified, ok := r.Payload.Context["verified"].(string); ok {
		mem.Verified = verified == "true"
	}
	return mem
}
