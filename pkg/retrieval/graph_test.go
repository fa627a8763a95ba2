package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo/mnemo/pkg/store/graph"
)

func newGraphEnv(t *testing.T) (*GraphRetriever, graph.Store) {
	t.Helper()
	g, err := graph.NewBadgerStore(graph.BadgerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return NewGraphRetriever(g, nil, nil), g
}

func mustFact(t *testing.T, g graph.Store, subject, predicate, object string) {
	t.Helper()
	_, err := g.MergeFact(context.Background(), subject, predicate, object)
	require.NoError(t, err)
}

func TestGraphRetrieveScoresByDepth(t *testing.T) {
	ctx := context.Background()
	r, g := newGraphEnv(t)

	mustFact(t, g, "alice", "mentors", "bob")
	mustFact(t, g, "bob", "deploys", "billing")

	results, err := r.Retrieve(ctx, GraphQuery{EntityName: "alice", Depth: 2})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "alice", results[0].Entity.Name)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "bob", results[1].Entity.Name)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	assert.Equal(t, "billing", results[2].Entity.Name)
	assert.InDelta(t, 1.0/3, results[2].Score, 1e-9)
}

func TestGraphRetrieveMissingAnchor(t *testing.T) {
	ctx := context.Background()
	r, _ := newGraphEnv(t)

	results, err := r.Retrieve(ctx, GraphQuery{EntityName: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGraphRetrieveValidation(t *testing.T) {
	ctx := context.Background()
	r, _ := newGraphEnv(t)

	_, err := r.Retrieve(ctx, GraphQuery{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGraphRetrieveByRelationType(t *testing.T) {
	ctx := context.Background()
	r, g := newGraphEnv(t)

	mustFact(t, g, "alice", "mentors", "bob")
	mustFact(t, g, "alice", "manages", "billing")

	results, err := r.Retrieve(ctx, GraphQuery{EntityName: "alice", RelationType: "mentors"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alice", results[0].Entity.Name)
	assert.Equal(t, "bob", results[1].Entity.Name)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestGraphRetrieveByRelationTypeDirection(t *testing.T) {
	ctx := context.Background()
	r, g := newGraphEnv(t)

	// alice mentors bob; carol mentors alice.
	mustFact(t, g, "alice", "mentors", "bob")
	mustFact(t, g, "carol", "mentors", "alice")

	results, err := r.Retrieve(ctx, GraphQuery{
		EntityName:   "alice",
		RelationType: "mentors",
		Direction:    graph.DirectionOutgoing,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "bob", results[1].Entity.Name)

	results, err = r.Retrieve(ctx, GraphQuery{
		EntityName:   "alice",
		RelationType: "mentors",
		Direction:    graph.DirectionIncoming,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "carol", results[1].Entity.Name)
}

func TestGraphRelated(t *testing.T) {
	ctx := context.Background()
	r, g := newGraphEnv(t)

	mustFact(t, g, "alice", "mentors", "bob")
	mustFact(t, g, "carol", "mentors", "alice")
	alice, err := g.GetEntityByName(ctx, "alice")
	require.NoError(t, err)

	mentees, err := r.Related(ctx, alice.ID, "mentors", graph.DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, mentees, 1)
	assert.Equal(t, "bob", mentees[0].Name)

	mentors, err := r.Related(ctx, alice.ID, "mentors", graph.DirectionIncoming)
	require.NoError(t, err)
	require.Len(t, mentors, 1)
	assert.Equal(t, "carol", mentors[0].Name)

	_, err = r.Related(ctx, "", "mentors", graph.DirectionBoth)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.Related(ctx, alice.ID, "", graph.DirectionBoth)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGraphQuery(t *testing.T) {
	ctx := context.Background()
	r, g := newGraphEnv(t)

	mustFact(t, g, "alice", "deploys", "billing")
	mustFact(t, g, "bob", "deploys", "billing")

	facts, err := r.Query(ctx, "MATCH (?)-[deploys]->($svc)",
		map[string]interface{}{"svc": "billing"})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "alice", facts[0].Subject.Name)
	assert.Equal(t, "bob", facts[1].Subject.Name)

	_, err = r.Query(ctx, "", nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.Query(ctx, "not a pattern", nil)
	assert.ErrorIs(t, err, graph.ErrInvalidQuery)
}

func TestGraphFindPaths(t *testing.T) {
	ctx := context.Background()
	r, g := newGraphEnv(t)

	mustFact(t, g, "alice", "mentors", "bob")
	mustFact(t, g, "bob", "deploys", "billing")

	paths, err := r.FindPaths(ctx, "alice", "billing", 3)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, 2, paths[0].Len())

	_, err = r.FindPaths(ctx, "alice", "nobody", 3)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestGraphByType(t *testing.T) {
	ctx := context.Background()
	r, g := newGraphEnv(t)

	_, err := g.CreateEntity(ctx, graph.Entity{Name: "alice", Type: "Person"})
	require.NoError(t, err)
	_, err = g.CreateEntity(ctx, graph.Entity{Name: "billing", Type: "Service"})
	require.NoError(t, err)

	people, err := r.ByType(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "alice", people[0].Name)

	_, err = r.ByType(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
}
