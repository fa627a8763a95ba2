package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// Well-known collection names.
const (
	CollectionEpisodic    = "episodic"
	CollectionSemantic    = "semantic"
	CollectionReflections = "reflections"
)

// ChromemConfig holds configuration for the embedded chromem index.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path string

	// Compress enables gzip compression for persisted collections.
	Compress bool
}

// DB is the embedded vector database. Collections partition the index per
// memory tier.
type DB struct {
	db *chromem.DB
}

// NewDB opens the vector database, persisted when cfg.Path is set.
func NewDB(cfg ChromemConfig) (*DB, error) {
	if cfg.Path != "" {
		db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index at %s: %w", cfg.Path, err)
		}
		return &DB{db: db}, nil
	}
	return &DB{db: chromem.NewDB()}, nil
}

// Collection returns a Store handle for a named collection, creating it on
// first use.
func (d *DB) Collection(name string) (*ChromemStore, error) {
	// Embeddings are always provided by the caller, so the collection gets
	// an embedding func that refuses to be called.
	col, err := d.db.GetOrCreateCollection(name, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return &ChromemStore{col: col}, nil
}

// ChromemStore implements Store for one chromem collection.
type ChromemStore struct {
	col *chromem.Collection
}

// NewChromemStore creates a standalone single-collection store. Most callers
// should share a DB and use Collection instead.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	db, err := NewDB(cfg)
	if err != nil {
		return nil, err
	}
	return db.Collection(CollectionEpisodic)
}

func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vector: embeddings must be precomputed")
}

// Upsert stores or replaces a point.
func (s *ChromemStore) Upsert(ctx context.Context, point Point) error {
	if point.ID == "" {
		return fmt.Errorf("vector: point id is required")
	}
	if len(point.Embedding) == 0 {
		return fmt.Errorf("vector: point embedding is required")
	}

	meta, err := encodeMetadata(point.Payload)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        point.ID,
		Content:   point.Payload.Content,
		Embedding: point.Embedding,
		Metadata:  meta,
	}

	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to store point %s: %w", point.ID, err)
	}
	return nil
}

// Get returns a point by id.
func (s *ChromemStore) Get(ctx context.Context, id string) (*Point, error) {
	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}

	payload := decodeMetadata(doc.Metadata, doc.Content)
	return &Point{
		ID:        doc.ID,
		Embedding: doc.Embedding,
		Payload:   payload,
	}, nil
}

// Delete removes points by id.
func (s *ChromemStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// DeleteByAgent removes every point owned by an agent.
func (s *ChromemStore) DeleteByAgent(ctx context.Context, agentID string) (int, error) {
	before := s.col.Count()
	if err := s.col.Delete(ctx, map[string]string{"agent_id": agentID}, nil); err != nil {
		return 0, fmt.Errorf("failed to delete agent points: %w", err)
	}
	return before - s.col.Count(), nil
}

// Search returns up to limit points nearest to the embedding.
func (s *ChromemStore) Search(ctx context.Context, embedding []float32, limit int, filter Filter) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	total := s.col.Count()
	if total == 0 {
		return nil, nil
	}

	// Equality constraints push down to the index; range constraints are
	// evaluated after the query, so fetch the whole candidate set when any
	// are present.
	nResults := limit
	if filter.hasRangeConstraints() || nResults > total {
		nResults = total
	}

	where := make(map[string]string)
	if filter.AgentID != "" {
		where["agent_id"] = filter.AgentID
	}
	if filter.MemoryType != "" {
		where["memory_type"] = filter.MemoryType
	}
	if len(where) == 0 {
		where = nil
	}

	// chromem rejects nResults above the filtered document count, which is
	// unknown before the query. Halve and retry until it fits.
	var results []chromem.Result
	for {
		var err error
		results, err = s.col.QueryEmbedding(ctx, embedding, nResults, where, nil)
		if err == nil {
			break
		}
		if !isTooFewDocsError(err) {
			return nil, fmt.Errorf("vector query failed: %w", err)
		}
		if nResults <= 1 {
			return nil, nil
		}
		nResults /= 2
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		payload := decodeMetadata(r.Metadata, r.Content)
		if !filter.matches(payload) {
			continue
		}
		out = append(out, SearchResult{
			ID:      r.ID,
			Score:   float64(r.Similarity),
			Payload: payload,
		})
		if len(out) == limit {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

// Count returns the number of stored points.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.col.Count(), nil
}

// Close releases resources. chromem keeps its state on disk or in memory,
// nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// encodeMetadata flattens a payload into chromem's string metadata.
func encodeMetadata(p Payload) (map[string]string, error) {
	meta := map[string]string{
		"agent_id":    p.AgentID,
		"memory_type": p.MemoryType,
		"importance":  strconv.Itoa(p.Importance),
		"timestamp":   p.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	if len(p.Context) > 0 {
		raw, err := json.Marshal(p.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context: %w", err)
		}
		meta["context"] = string(raw)
	}

	return meta, nil
}

// decodeMetadata rebuilds a payload from chromem metadata and content.
func decodeMetadata(meta map[string]string, content string) Payload {
	p := Payload{
		AgentID:    meta["agent_id"],
		Content:    content,
		MemoryType: meta["memory_type"],
	}

	if v, err := strconv.Atoi(meta["importance"]); err == nil {
		p.Importance = v
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta["timestamp"]); err == nil {
		p.Timestamp = ts
	}
	if raw, ok := meta["context"]; ok {
		var ctx map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &ctx); err == nil {
			p.Context = ctx
		}
	}

	return p
}

// isTooFewDocsError matches chromem's error when nResults exceeds the
// number of filtered documents.
func isTooFewDocsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nResults")
}
