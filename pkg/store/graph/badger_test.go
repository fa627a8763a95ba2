package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(BadgerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustEntity(t *testing.T, s *BadgerStore, name, entityType string) *Entity {
	t.Helper()
	e, err := s.CreateEntity(context.Background(), Entity{Name: name, Type: entityType})
	require.NoError(t, err)
	return e
}

func TestValidRelationType(t *testing.T) {
	assert.True(t, ValidRelationType("WORKS_AT"))
	assert.True(t, ValidRelationType("knows"))
	assert.True(t, ValidRelationType("r2d2"))
	assert.False(t, ValidRelationType(""))
	assert.False(t, ValidRelationType("2fast"))
	assert.False(t, ValidRelationType("has space"))
	assert.False(t, ValidRelationType("drop;table"))
}

func TestEntityLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.CreateEntity(ctx, Entity{Name: "Alice", Type: "Person"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	byName, err := s.GetEntityByName(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, e.ID, byName.ID)

	// Duplicate names are rejected.
	_, err = s.CreateEntity(ctx, Entity{Name: "Alice", Type: "Person"})
	assert.ErrorIs(t, err, ErrExists)

	updated, err := s.UpdateEntity(ctx, e.ID, map[string]interface{}{"role": "engineer"})
	require.NoError(t, err)
	assert.Equal(t, "engineer", updated.Properties["role"])

	require.NoError(t, s.DeleteEntity(ctx, e.ID))
	_, err = s.GetEntity(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetEntityByName(ctx, "Alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRelation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := mustEntity(t, s, "Alice", "Person")
	acme := mustEntity(t, s, "Acme", "Company")

	rel, err := s.CreateRelation(ctx, alice.ID, acme.ID, "WORKS_AT", nil)
	require.NoError(t, err)
	assert.Equal(t, "WORKS_AT", rel.Type)

	_, err = s.CreateRelation(ctx, alice.ID, acme.ID, "not valid!", nil)
	assert.ErrorIs(t, err, ErrInvalidRelationType)

	_, err = s.CreateRelation(ctx, alice.ID, "ghost", "KNOWS", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteEntityCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := mustEntity(t, s, "Alice", "Person")
	bob := mustEntity(t, s, "Bob", "Person")
	_, err := s.CreateRelation(ctx, alice.ID, bob.ID, "KNOWS", nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteEntity(ctx, bob.ID))

	neighbors, err := s.Neighbors(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entities)
	assert.Equal(t, 0, st.Relations)
}

func TestMergeFact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fact, err := s.MergeFact(ctx, "Alice", "WORKS_AT", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "Alice", fact.Subject.Name)
	assert.Equal(t, "Unknown", fact.Subject.Type)
	assert.Equal(t, "Acme", fact.Object.Name)
	assert.Equal(t, "WORKS_AT", fact.Predicate.Type)

	// Merging the same fact reuses every element.
	again, err := s.MergeFact(ctx, "Alice", "WORKS_AT", "Acme")
	require.NoError(t, err)
	assert.Equal(t, fact.Subject.ID, again.Subject.ID)
	assert.Equal(t, fact.Predicate.ID, again.Predicate.ID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entities)
	assert.Equal(t, 1, st.Relations)

	// A typed entity created beforehand keeps its type.
	mustEntity(t, s, "Globex", "Company")
	fact2, err := s.MergeFact(ctx, "Alice", "CONSULTS_FOR", "Globex")
	require.NoError(t, err)
	assert.Equal(t, "Company", fact2.Object.Type)

	_, err = s.MergeFact(ctx, "Alice", "bad predicate", "Acme")
	assert.ErrorIs(t, err, ErrInvalidRelationType)
}

func TestNeighborsBothDirections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := mustEntity(t, s, "Alice", "Person")
	bob := mustEntity(t, s, "Bob", "Person")
	carol := mustEntity(t, s, "Carol", "Person")

	_, err := s.CreateRelation(ctx, alice.ID, bob.ID, "KNOWS", nil)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, carol.ID, alice.ID, "MANAGES", nil)
	require.NoError(t, err)

	neighbors, err := s.Neighbors(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)

	byName := make(map[string]Neighbor)
	for _, n := range neighbors {
		byName[n.Entity.Name] = n
	}
	assert.True(t, byName["Bob"].Outgoing)
	assert.False(t, byName["Carol"].Outgoing)
}

func TestTraverseDepth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// a -> b -> c -> d
	a := mustEntity(t, s, "a", "Node")
	b := mustEntity(t, s, "b", "Node")
	c := mustEntity(t, s, "c", "Node")
	d := mustEntity(t, s, "d", "Node")
	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, c.ID}, {c.ID, d.ID}} {
		_, err := s.CreateRelation(ctx, pair[0], pair[1], "NEXT", nil)
		require.NoError(t, err)
	}

	nodes, err := s.Traverse(ctx, a.ID, 2)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "b", nodes[0].Entity.Name)
	assert.Equal(t, 1, nodes[0].Depth)
	assert.Equal(t, "c", nodes[1].Entity.Name)
	assert.Equal(t, 2, nodes[1].Depth)

	nodes, err = s.Traverse(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestFindPaths(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Two routes from a to c: direct, and through b.
	a := mustEntity(t, s, "a", "Node")
	b := mustEntity(t, s, "b", "Node")
	c := mustEntity(t, s, "c", "Node")
	_, err := s.CreateRelation(ctx, a.ID, c.ID, "DIRECT", nil)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, a.ID, b.ID, "NEXT", nil)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, b.ID, c.ID, "NEXT", nil)
	require.NoError(t, err)

	paths, err := s.FindPaths(ctx, a.ID, c.ID, 3)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, 1, paths[0].Len())
	assert.Equal(t, 2, paths[1].Len())

	// Depth 1 only finds the direct edge.
	paths, err = s.FindPaths(ctx, a.ID, c.ID, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "DIRECT", paths[0].Relations[0].Type)
}

func TestEntitiesByTypeAndRelated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := mustEntity(t, s, "Alice", "Person")
	mustEntity(t, s, "Bob", "Person")
	acme := mustEntity(t, s, "Acme", "Company")

	_, err := s.CreateRelation(ctx, alice.ID, acme.ID, "WORKS_AT", nil)
	require.NoError(t, err)

	people, err := s.EntitiesByType(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "Alice", people[0].Name)

	employers, err := s.Related(ctx, alice.ID, "WORKS_AT", DirectionBoth)
	require.NoError(t, err)
	require.Len(t, employers, 1)
	assert.Equal(t, "Acme", employers[0].Name)
}

func TestRelatedDirections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := mustEntity(t, s, "Alice", "Person")
	bob := mustEntity(t, s, "Bob", "Person")
	carol := mustEntity(t, s, "Carol", "Person")

	// Alice manages Bob; Carol manages Alice.
	_, err := s.CreateRelation(ctx, alice.ID, bob.ID, "MANAGES", nil)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, carol.ID, alice.ID, "MANAGES", nil)
	require.NoError(t, err)

	outgoing, err := s.Related(ctx, alice.ID, "MANAGES", DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, "Bob", outgoing[0].Name)

	incoming, err := s.Related(ctx, alice.ID, "MANAGES", DirectionIncoming)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "Carol", incoming[0].Name)

	both, err := s.Related(ctx, alice.ID, "MANAGES", DirectionBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	// The zero direction behaves like both.
	unset, err := s.Related(ctx, alice.ID, "MANAGES", "")
	require.NoError(t, err)
	assert.Len(t, unset, 2)

	_, err = s.Related(ctx, alice.ID, "MANAGES", "sideways")
	assert.Error(t, err)
}

func TestQueryPatterns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.MergeFact(ctx, "Alice", "WORKS_AT", "Acme")
	require.NoError(t, err)
	_, err = s.MergeFact(ctx, "Bob", "WORKS_AT", "Acme")
	require.NoError(t, err)
	_, err = s.MergeFact(ctx, "Alice", "KNOWS", "Bob")
	require.NoError(t, err)

	// Literal subject, wildcard object.
	facts, err := s.Query(ctx, "MATCH (Alice)-[WORKS_AT]->(?)", nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Acme", facts[0].Object.Name)

	// Wildcard subject, literal predicate and object.
	facts, err = s.Query(ctx, "MATCH (?)-[WORKS_AT]->(Acme)", nil)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "Alice", facts[0].Subject.Name)
	assert.Equal(t, "Bob", facts[1].Subject.Name)

	// Parameter binding.
	facts, err = s.Query(ctx, "MATCH ($person)-[?]->(?)", map[string]interface{}{"person": "Alice"})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "KNOWS", facts[0].Predicate.Type)
	assert.Equal(t, "WORKS_AT", facts[1].Predicate.Type)

	// No matches is empty, not an error.
	facts, err = s.Query(ctx, "MATCH (Nobody)-[?]->(?)", nil)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Query(ctx, "SELECT * FROM facts", nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = s.Query(ctx, "MATCH ($person)-[?]->(?)", nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)

	alice, err := s.CreateEntity(ctx, Entity{Name: "Alice", Type: "Person"})
	require.NoError(t, err)
	_, err = s.MergeFact(ctx, "Alice", "WORKS_AT", "Acme")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetEntity(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	neighbors, err := reopened.Neighbors(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "Acme", neighbors[0].Entity.Name)
}
