package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/graph"
	"github.com/mnemo/mnemo/pkg/store/vector"
)

// Weights favoring the graph side for factual questions.
const (
	factualVectorWeight = 0.4
	factualGraphWeight  = 0.6
)

// maxQueryEntities caps how many entities seed the graph expansion.
const maxQueryEntities = 3

// HybridConfig holds the hybrid retriever tunables.
type HybridConfig struct {
	// VectorWeight and GraphWeight blend the two score sources.
	VectorWeight float64
	GraphWeight  float64

	// GraphDepth bounds the entity expansion walk.
	GraphDepth int

	// Collections are the vector collections searched, default episodic
	// and semantic.
	Collections []string

	// DefaultTopK applies when a caller passes topK <= 0.
	DefaultTopK int
}

// DefaultHybridConfig returns the standard blend.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		VectorWeight: 0.7,
		GraphWeight:  0.3,
		GraphDepth:   1,
		Collections:  []string{vector.CollectionEpisodic, vector.CollectionSemantic},
		DefaultTopK:  10,
	}
}

// HybridResult is a memory scored by both retrieval paths.
type HybridResult struct {
	Result

	// VectorScore is the raw similarity, GraphScore the entity-proximity
	// score. Score on the embedded Result is the weighted blend.
	VectorScore float64 `json:"vector_score"`
	GraphScore  float64 `json:"graph_score"`
}

// HybridRetriever blends vector similarity with knowledge-graph proximity.
// Memories mentioning entities close to the query's entities get boosted.
type HybridRetriever struct {
	cfg     HybridConfig
	vectors *VectorRetriever
	graph   graph.Store
	logger  logger.Logger
	metrics *metrics.Manager
}

// NewHybridRetriever creates a hybrid retriever.
func NewHybridRetriever(cfg HybridConfig, vectors *VectorRetriever, g graph.Store, log logger.Logger, m *metrics.Manager) *HybridRetriever {
	def := DefaultHybridConfig()
	if cfg.VectorWeight <= 0 && cfg.GraphWeight <= 0 {
		cfg.VectorWeight = def.VectorWeight
		cfg.GraphWeight = def.GraphWeight
	}
	if cfg.GraphDepth <= 0 {
		cfg.GraphDepth = def.GraphDepth
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = def.Collections
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &HybridRetriever{cfg: cfg, vectors: vectors, graph: g, logger: log, metrics: m}
}

// Retrieve blends both paths under the configured weights.
func (h *HybridRetriever) Retrieve(ctx context.Context, agentID, query string, topK int) ([]HybridResult, error) {
	return h.retrieve(ctx, agentID, query, topK, h.cfg.VectorWeight, h.cfg.GraphWeight)
}

// HybridQuery overrides the retriever defaults for a single call.
type HybridQuery struct {
	// AgentID and QueryText select the memories, as in Retrieve.
	AgentID   string
	QueryText string

	// TopK falls back to the configured DefaultTopK when <= 0.
	TopK int

	// VectorWeight and GraphWeight replace the configured blend when at
	// least one is positive.
	VectorWeight float64
	GraphWeight  float64

	// IncludeGraph false skips the graph side entirely; results carry the
	// raw similarity with a zero GraphScore.
	IncludeGraph bool
}

// RetrieveWith runs one retrieval under per-call weights.
func (h *HybridRetriever) RetrieveWith(ctx context.Context, q HybridQuery) ([]HybridResult, error) {
	if q.QueryText == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if !q.IncludeGraph {
		topK := q.TopK
		if topK <= 0 {
			topK = h.cfg.DefaultTopK
		}
		return h.vectorOnly(ctx, q.AgentID, q.QueryText, topK)
	}

	vw, gw := q.VectorWeight, q.GraphWeight
	if vw <= 0 && gw <= 0 {
		vw, gw = h.cfg.VectorWeight, h.cfg.GraphWeight
	}
	return h.retrieve(ctx, q.AgentID, q.QueryText, q.TopK, vw, gw)
}

// RetrieveAuto picks the strategy from the query shape: queries naming at
// least two entities go through the hybrid path, with graph-favoring
// weights for factual questions; everything else is pure vector search.
func (h *HybridRetriever) RetrieveAuto(ctx context.Context, agentID, query string, topK int) ([]HybridResult, error) {
	mentions := extractMentions(query)
	if len(mentions) < 2 {
		return h.vectorOnly(ctx, agentID, query, topK)
	}

	vw, gw := h.cfg.VectorWeight, h.cfg.GraphWeight
	if hasFactualMarker(query) {
		vw, gw = factualVectorWeight, factualGraphWeight
	}
	return h.retrieve(ctx, agentID, query, topK, vw, gw)
}

// vectorOnly wraps a plain multi-collection vector search.
func (h *HybridRetriever) vectorOnly(ctx context.Context, agentID, query string, topK int) ([]HybridResult, error) {
	results, err := h.vectors.RetrieveMulti(ctx, h.cfg.Collections, agentID, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]HybridResult, len(results))
	for i, r := range results {
		out[i] = HybridResult{Result: r, VectorScore: r.Score}
	}
	return out, nil
}

func (h *HybridRetriever) retrieve(ctx context.Context, agentID, query string, topK int, vw, gw float64) ([]HybridResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if topK <= 0 {
		topK = h.cfg.DefaultTopK
	}
	started := time.Now()

	candidates, err := h.collectCandidates(ctx, agentID, query, topK*2)
	if err != nil {
		h.metrics.RecordRetrieval(string(StrategyHybrid), "error", time.Since(started), 0)
		return nil, err
	}

	seeds := seedEntities(query, candidates)
	entityScores, graphErr := h.expandEntities(ctx, seeds)
	if graphErr != nil {
		// Degrade to vector-only scores rather than failing the query.
		h.logger.Warn("graph expansion failed, degrading to vector scores",
			"query", query, "error", graphErr)
		h.metrics.RecordRetrieval(string(StrategyHybrid), "degraded", time.Since(started), 0)
		entityScores = nil
	}

	merged := mergeCandidates(candidates, entityScores, vw, gw)
	if len(merged) > topK {
		merged = merged[:topK]
	}

	h.metrics.RecordRetrieval(string(StrategyHybrid), "success", time.Since(started), len(merged))
	return merged, nil
}

// collectCandidates fans the query out over the configured collections.
func (h *HybridRetriever) collectCandidates(ctx context.Context, agentID, query string, pool int) ([]Result, error) {
	emb, err := h.vectors.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var (
		mu         sync.Mutex
		candidates []Result
		firstErr   error
		wg         sync.WaitGroup
	)
	for _, collection := range h.cfg.Collections {
		wg.Add(1)
		go func(collection string) {
			defer wg.Done()
			results, err := h.vectors.RetrieveEmbedding(ctx, collection, emb, vector.Filter{AgentID: agentID}, pool)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			candidates = append(candidates, results...)
		}(collection)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return candidates, nil
}

// seedEntities picks the entities to expand. Names mentioned in the query
// take precedence; only when the query names none do the most frequent
// entity references across the candidates seed the walk. At most
// maxQueryEntities seeds.
func seedEntities(query string, candidates []Result) []string {
	seeds := extractMentions(query)

	if len(seeds) == 0 {
		counts := make(map[string]int)
		for _, c := range candidates {
			for _, name := range contextEntities(c.Context) {
				if counts[name] == 0 {
					seeds = append(seeds, name)
				}
				counts[name]++
			}
		}
		sort.SliceStable(seeds, func(i, j int) bool {
			return counts[seeds[i]] > counts[seeds[j]]
		})
	}

	if len(seeds) > maxQueryEntities {
		seeds = seeds[:maxQueryEntities]
	}
	return seeds
}

// expandEntities walks the graph outward from the seeds, keeping the best
// depth score per entity name. Seeds score 1, neighbors decay with depth.
func (h *HybridRetriever) expandEntities(ctx context.Context, seeds []string) (map[string]float64, error) {
	if len(seeds) == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	for _, seed := range seeds {
		entity, err := h.graph.GetEntityByName(ctx, seed)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s := depthScore(0); s > scores[entity.Name] {
			scores[entity.Name] = s
		}

		nodes, err := h.graph.Traverse(ctx, entity.ID, h.cfg.GraphDepth)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if s := depthScore(n.Depth); s > scores[n.Entity.Name] {
				scores[n.Entity.Name] = s
			}
		}
	}
	return scores, nil
}

// mergeCandidates blends the scores and deduplicates by id, keeping the
// best blend. Order is score descending, id ascending on ties.
func mergeCandidates(candidates []Result, entityScores map[string]float64, vw, gw float64) []HybridResult {
	best := make(map[string]HybridResult)
	for _, c := range candidates {
		var gs float64
		for _, name := range contextEntities(c.Context) {
			if s := entityScores[name]; s > gs {
				gs = s
			}
		}

		hr := HybridResult{Result: c, VectorScore: c.Score, GraphScore: gs}
		hr.Score = vw*c.Score + gw*gs

		if prev, ok := best[c.ID]; !ok || hr.Score > prev.Score {
			best[c.ID] = hr
		}
	}

	merged := make([]HybridResult, 0, len(best))
	for _, hr := range best {
		merged = append(merged, hr)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// contextEntities reads the comma-separated entity references a memory was
// stored with.
func contextEntities(ctx map[string]interface{}) []string {
	raw, _ := ctx["entities"].(string)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mentionStopwords are capitalized tokens that are not entity names.
var mentionStopwords = map[string]bool{
	"who": true, "what": true, "when": true, "where": true, "which": true,
	"why": true, "how": true, "the": true, "a": true, "an": true,
	"is": true, "are": true, "was": true, "were": true,
	"do": true, "does": true, "did": true, "i": true,
}

// extractMentions returns the capitalized tokens of a query that look like
// entity names.
func extractMentions(query string) []string {
	var mentions []string
	for _, token := range strings.Fields(query) {
		token = strings.Trim(token, ".,!?;:'\"()")
		if len(token) < 2 {
			continue
		}
		first := token[0]
		if first < 'A' || first > 'Z' {
			continue
		}
		if mentionStopwords[strings.ToLower(token)] {
			continue
		}
		mentions = append(mentions, token)
	}
	return mentions
}

// factualMarkers open questions that ask for a specific fact.
var factualMarkers = []string{"who ", "what ", "when ", "where ", "which ", "how many "}

// hasFactualMarker reports whether the query opens like a factual question.
func hasFactualMarker(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, marker := range factualMarkers {
		if strings.HasPrefix(q, marker) {
			return true
		}
	}
	return false
}
