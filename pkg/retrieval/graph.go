package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/graph"
)

// EntityResult is one entity reached by a graph retrieval, scored by
// distance from the anchor.
type EntityResult struct {
	Entity graph.Entity `json:"entity"`

	// Depth is the hops from the anchor, 0 for the anchor itself.
	Depth int `json:"depth"`

	// Score decays with depth: 1 / (1 + depth).
	Score float64 `json:"score"`
}

// depthScore maps a traversal depth to (0,1].
func depthScore(depth int) float64 {
	return 1 / float64(1+depth)
}

// GraphQuery anchors a graph retrieval on an entity by id or exact name.
type GraphQuery struct {
	EntityID   string
	EntityName string

	// Depth bounds the traversal, default 2.
	Depth int

	// RelationType restricts the walk to one relation type when set. Only
	// depth 1 is reachable under a relation type restriction.
	RelationType string

	// Direction restricts a relation-type walk to incoming or outgoing
	// edges. Empty means both.
	Direction graph.Direction
}

// GraphRetriever answers queries by walking the knowledge graph.
type GraphRetriever struct {
	graph   graph.Store
	logger  logger.Logger
	metrics *metrics.Manager
}

// NewGraphRetriever creates a graph retriever.
func NewGraphRetriever(g graph.Store, log logger.Logger, m *metrics.Manager) *GraphRetriever {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &GraphRetriever{graph: g, logger: log, metrics: m}
}

// resolve finds the anchor entity of a query.
func (r *GraphRetriever) resolve(ctx context.Context, q GraphQuery) (*graph.Entity, error) {
	if q.EntityID != "" {
		return r.graph.GetEntity(ctx, q.EntityID)
	}
	if q.EntityName != "" {
		return r.graph.GetEntityByName(ctx, q.EntityName)
	}
	return nil, fmt.Errorf("%w: entity id or name is required", ErrValidation)
}

// Retrieve returns the anchor and its neighborhood, scored by depth. A
// missing anchor yields an empty result rather than an error.
func (r *GraphRetriever) Retrieve(ctx context.Context, q GraphQuery) ([]EntityResult, error) {
	started := time.Now()

	anchor, err := r.resolve(ctx, q)
	if errors.Is(err, graph.ErrNotFound) {
		r.metrics.RecordRetrieval(string(StrategyGraph), "success", time.Since(started), 0)
		return nil, nil
	}
	if err != nil {
		r.metrics.RecordRetrieval(string(StrategyGraph), "error", time.Since(started), 0)
		return nil, err
	}

	results := []EntityResult{{Entity: *anchor, Depth: 0, Score: depthScore(0)}}

	if q.RelationType != "" {
		related, err := r.graph.Related(ctx, anchor.ID, q.RelationType, q.Direction)
		if err != nil {
			r.metrics.RecordRetrieval(string(StrategyGraph), "error", time.Since(started), 0)
			return nil, err
		}
		for _, e := range related {
			results = append(results, EntityResult{Entity: e, Depth: 1, Score: depthScore(1)})
		}
		r.metrics.RecordRetrieval(string(StrategyGraph), "success", time.Since(started), len(results))
		return results, nil
	}

	depth := q.Depth
	if depth <= 0 {
		depth = 2
	}
	nodes, err := r.graph.Traverse(ctx, anchor.ID, depth)
	if err != nil {
		r.metrics.RecordRetrieval(string(StrategyGraph), "error", time.Since(started), 0)
		return nil, err
	}
	for _, n := range nodes {
		results = append(results, EntityResult{Entity: n.Entity, Depth: n.Depth, Score: depthScore(n.Depth)})
	}

	r.metrics.RecordRetrieval(string(StrategyGraph), "success", time.Since(started), len(results))
	return results, nil
}

// FindPaths returns the paths between two named entities, shortest first.
func (r *GraphRetriever) FindPaths(ctx context.Context, fromName, toName string, maxDepth int) ([]graph.Path, error) {
	from, err := r.graph.GetEntityByName(ctx, fromName)
	if err != nil {
		return nil, err
	}
	to, err := r.graph.GetEntityByName(ctx, toName)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return r.graph.FindPaths(ctx, from.ID, to.ID, maxDepth)
}

// ByType returns every entity of one type.
func (r *GraphRetriever) ByType(ctx context.Context, entityType string) ([]graph.Entity, error) {
	if entityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", ErrValidation)
	}
	return r.graph.EntitiesByType(ctx, entityType)
}

// Neighbors returns the entities directly connected to an entity.
func (r *GraphRetriever) Neighbors(ctx context.Context, entityID string) ([]graph.Neighbor, error) {
	return r.graph.Neighbors(ctx, entityID)
}

// Related returns the entities connected to an entity over one relation
// type, restricted to the given direction.
func (r *GraphRetriever) Related(ctx context.Context, entityID, relType string, direction graph.Direction) ([]graph.Entity, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrValidation)
	}
	if relType == "" {
		return nil, fmt.Errorf("%w: relation type is required", ErrValidation)
	}
	return r.graph.Related(ctx, entityID, relType, direction)
}

// Query runs a raw declarative pattern query for advanced callers.
func (r *GraphRetriever) Query(ctx context.Context, rawQuery string, params map[string]interface{}) ([]graph.Fact, error) {
	if rawQuery == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	return r.graph.Query(ctx, rawQuery, params)
}
