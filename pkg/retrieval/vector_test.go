package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo/mnemo/pkg/embedding"
	"github.com/mnemo/mnemo/pkg/store/vector"
)

func newTestStores(t *testing.T) map[string]vector.Store {
	t.Helper()
	db, err := vector.NewDB(vector.ChromemConfig{})
	require.NoError(t, err)

	stores := make(map[string]vector.Store)
	for _, name := range []string{vector.CollectionEpisodic, vector.CollectionSemantic} {
		col, err := db.Collection(name)
		require.NoError(t, err)
		stores[name] = col
	}
	return stores
}

func seedPoint(t *testing.T, s vector.Store, embedder embedding.Provider, id, agentID, content string, importance int, ctx map[string]interface{}) {
	t.Helper()
	emb, err := embedder.Embed(context.Background(), content)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(context.Background(), vector.Point{
		ID:        id,
		Embedding: emb,
		Payload: vector.Payload{
			AgentID:    agentID,
			Content:    content,
			MemoryType: "episodic",
			Importance: importance,
			Timestamp:  time.Now(),
			Context:    ctx,
		},
	}))
}

func newVectorEnv(t *testing.T) (*VectorRetriever, map[string]vector.Store, embedding.Provider) {
	t.Helper()
	stores := newTestStores(t)
	embedder := embedding.NewMockProvider(64)
	return NewVectorRetriever(stores, embedder, nil, nil), stores, embedder
}

func TestVectorRetrieveRanksExactMatchFirst(t *testing.T) {
	ctx := context.Background()
	r, stores, embedder := newVectorEnv(t)
	episodic := stores[vector.CollectionEpisodic]

	seedPoint(t, episodic, embedder, "m-1", "agent-1", "debugging the cache layer", 5, nil)
	seedPoint(t, episodic, embedder, "m-2", "agent-1", "writing release notes", 5, nil)

	results, err := r.Retrieve(ctx, vector.CollectionEpisodic, "agent-1", "debugging the cache layer", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m-1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorRetrieveUnknownCollection(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newVectorEnv(t)

	_, err := r.Retrieve(ctx, "nonexistent", "agent-1", "query", 5)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestVectorRetrieveValidation(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newVectorEnv(t)

	_, err := r.Retrieve(ctx, vector.CollectionEpisodic, "agent-1", "", 5)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVectorRetrieveWithFilters(t *testing.T) {
	ctx := context.Background()
	r, stores, embedder := newVectorEnv(t)
	episodic := stores[vector.CollectionEpisodic]

	seedPoint(t, episodic, embedder, "m-1", "agent-1", "minor note", 2, nil)
	seedPoint(t, episodic, embedder, "m-2", "agent-1", "major incident", 9, nil)
	seedPoint(t, episodic, embedder, "m-3", "agent-2", "someone else", 9, nil)

	results, err := r.RetrieveWithFilters(ctx, vector.CollectionEpisodic, "anything",
		vector.Filter{AgentID: "agent-1", MinImportance: 5}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m-2", results[0].ID)
}

func TestVectorRetrieveMulti(t *testing.T) {
	ctx := context.Background()
	r, stores, embedder := newVectorEnv(t)

	seedPoint(t, stores[vector.CollectionEpisodic], embedder, "e-1", "agent-1", "met with the platform team", 5, nil)
	seedPoint(t, stores[vector.CollectionSemantic], embedder, "s-1", "agent-1", "the platform team owns deploys", 5, nil)

	results, err := r.RetrieveMulti(ctx,
		[]string{vector.CollectionEpisodic, vector.CollectionSemantic},
		"agent-1", "the platform team owns deploys", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Exact match from the semantic collection ranks first.
	assert.Equal(t, "s-1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	seen := make(map[string]bool)
	for _, res := range results {
		assert.False(t, seen[res.ID])
		seen[res.ID] = true
	}
}

func TestVectorRetrieveMultiValidation(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newVectorEnv(t)

	_, err := r.RetrieveMulti(ctx, nil, "agent-1", "query", 5)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.RetrieveMulti(ctx, []string{"nonexistent"}, "agent-1", "query", 5)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestVectorRetrieveAboveThreshold(t *testing.T) {
	ctx := context.Background()
	r, stores, embedder := newVectorEnv(t)
	episodic := stores[vector.CollectionEpisodic]

	seedPoint(t, episodic, embedder, "m-1", "agent-1", "the exact phrase", 5, nil)
	for _, id := range []string{"m-2", "m-3", "m-4"} {
		seedPoint(t, episodic, embedder, id, "agent-1", "unrelated content "+id, 5, nil)
	}

	results, err := r.RetrieveAboveThreshold(ctx, vector.CollectionEpisodic,
		"agent-1", "the exact phrase", 0.9, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m-1", results[0].ID)

	// A threshold nothing clears returns empty, not an error.
	results, err = r.RetrieveAboveThreshold(ctx, vector.CollectionEpisodic,
		"agent-1", "completely different text", 0.99, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
