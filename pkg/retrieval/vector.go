package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnemo/mnemo/pkg/embedding"
	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/vector"
)

// maxThresholdPool caps the candidate pool growth for threshold retrieval.
const maxThresholdPool = 1024

// VectorRetriever answers similarity queries against named vector
// collections.
type VectorRetriever struct {
	stores   map[string]vector.Store
	embedder embedding.Provider
	logger   logger.Logger
	metrics  *metrics.Manager

	// DefaultTopK applies when a caller passes topK <= 0.
	DefaultTopK int
}

// NewVectorRetriever creates a vector retriever over the given collections,
// keyed by collection name.
func NewVectorRetriever(stores map[string]vector.Store, embedder embedding.Provider, log logger.Logger, m *metrics.Manager) *VectorRetriever {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &VectorRetriever{
		stores:      stores,
		embedder:    embedder,
		logger:      log,
		metrics:     m,
		DefaultTopK: 10,
	}
}

func (r *VectorRetriever) store(collection string) (vector.Store, error) {
	s, ok := r.stores[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return s, nil
}

func (r *VectorRetriever) topK(k int) int {
	if k <= 0 {
		return r.DefaultTopK
	}
	return k
}

// Retrieve returns the agent's most similar memories in one collection.
func (r *VectorRetriever) Retrieve(ctx context.Context, collection, agentID, query string, topK int) ([]Result, error) {
	return r.RetrieveWithFilters(ctx, collection, query, vector.Filter{AgentID: agentID}, topK)
}

// RetrieveWithFilters runs a similarity query under an explicit filter.
func (r *VectorRetriever) RetrieveWithFilters(ctx context.Context, collection, query string, filter vector.Filter, topK int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return r.RetrieveEmbedding(ctx, collection, emb, filter, topK)
}

// RetrieveEmbedding runs a similarity query with a precomputed embedding.
func (r *VectorRetriever) RetrieveEmbedding(ctx context.Context, collection string, emb []float32, filter vector.Filter, topK int) ([]Result, error) {
	s, err := r.store(collection)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	found, err := s.Search(ctx, emb, r.topK(topK), filter)
	if err != nil {
		r.metrics.RecordRetrieval(string(StrategyVector), "error", time.Since(started), 0)
		return nil, fmt.Errorf("vector retrieval in %s failed: %w", collection, err)
	}

	results := toResults(found)
	r.metrics.RecordRetrieval(string(StrategyVector), "success", time.Since(started), len(results))
	return results, nil
}

// RetrieveMulti fans the query out over several collections concurrently and
// merges the results into one ranked list.
func (r *VectorRetriever) RetrieveMulti(ctx context.Context, collections []string, agentID, query string, topK int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if len(collections) == 0 {
		return nil, fmt.Errorf("%w: at least one collection is required", ErrValidation)
	}
	for _, c := range collections {
		if _, err := r.store(c); err != nil {
			return nil, err
		}
	}

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	k := r.topK(topK)
	var (
		mu       sync.Mutex
		merged   []Result
		firstErr error
		wg       sync.WaitGroup
	)
	for _, collection := range collections {
		wg.Add(1)
		go func(collection string) {
			defer wg.Done()
			results, err := r.RetrieveEmbedding(ctx, collection, emb, vector.Filter{AgentID: agentID}, k)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			merged = append(merged, results...)
		}(collection)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	sortResults(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// RetrieveAboveThreshold returns up to maxResults memories scoring at least
// minScore, growing the candidate pool until enough qualify or the
// collection is exhausted.
func (r *VectorRetriever) RetrieveAboveThreshold(ctx context.Context, collection, agentID, query string, minScore float64, maxResults int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if maxResults <= 0 {
		maxResults = r.DefaultTopK
	}

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	s, err := r.store(collection)
	if err != nil {
		return nil, err
	}

	pool := maxResults
	for {
		found, err := s.Search(ctx, emb, pool, vector.Filter{AgentID: agentID})
		if err != nil {
			return nil, fmt.Errorf("vector retrieval in %s failed: %w", collection, err)
		}

		var qualified []Result
		for _, f := range found {
			if f.Score >= minScore {
				qualified = append(qualified, toResult(f))
			}
		}

		if len(qualified) >= maxResults {
			return qualified[:maxResults], nil
		}
		// Results come back ranked, so once the page's tail dips below the
		// threshold a bigger pool can only add lower scores. A short page
		// means the collection ran out.
		if len(qualified) < len(found) || len(found) < pool || pool >= maxThresholdPool {
			return qualified, nil
		}
		pool *= 2
	}
}

func toResult(f vector.SearchResult) Result {
	return Result{
		ID:         f.ID,
		AgentID:    f.Payload.AgentID,
		MemoryType: f.Payload.MemoryType,
		Content:    f.Payload.Content,
		Score:      f.Score,
		Timestamp:  f.Payload.Timestamp,
		Context:    f.Payload.Context,
	}
}

func toResults(found []vector.SearchResult) []Result {
	out := make([]Result, len(found))
	for i, f := range found {
		out[i] = toResult(f)
	}
	return out
}

// sortResults orders by score descending, id ascending on ties.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
