package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerConfig holds configuration for the graph store.
type BadgerConfig struct {
	// Path is the Badger data directory. Empty keeps the graph in memory only.
	Path string

	// SyncWrites forces fsync on every Badger write.
	SyncWrites bool
}

// BadgerStore implements Store with in-memory adjacency maps and optional
// Badger write-through persistence. All traversals run against memory; Badger
// only rebuilds the maps on open.
type BadgerStore struct {
	mu sync.RWMutex
	db *badger.DB

	entities  map[string]*Entity
	byName    map[string]string
	relations map[string]*Relation
	out       map[string][]string
	in        map[string][]string

	now func() time.Time
}

// NewBadgerStore opens the graph store, loading persisted state when a path
// is configured.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	s := &BadgerStore{
		entities:  make(map[string]*Entity),
		byName:    make(map[string]string),
		relations: make(map[string]*Relation),
		out:       make(map[string][]string),
		in:        make(map[string][]string),
		now:       time.Now,
	}

	if cfg.Path == "" {
		return s, nil
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store at %s: %w", cfg.Path, err)
	}
	s.db = db

	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func entityKey(id string) []byte   { return []byte("entity:" + id) }
func relationKey(id string) []byte { return []byte("relation:" + id) }

// load rebuilds the in-memory maps from Badger.
func (s *BadgerStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(val []byte) error {
				switch {
				case strings.HasPrefix(key, "entity:"):
					var e Entity
					if err := json.Unmarshal(val, &e); err != nil {
						return fmt.Errorf("failed to decode entity %s: %w", key, err)
					}
					s.entities[e.ID] = &e
					s.byName[e.Name] = e.ID
				case strings.HasPrefix(key, "relation:"):
					var r Relation
					if err := json.Unmarshal(val, &r); err != nil {
						return fmt.Errorf("failed to decode relation %s: %w", key, err)
					}
					s.relations[r.ID] = &r
					s.out[r.FromID] = append(s.out[r.FromID], r.ID)
					s.in[r.ToID] = append(s.in[r.ToID], r.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// persist writes a key-value pair through to Badger.
func (s *BadgerStore) persist(key []byte, v interface{}) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode graph record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// unpersist removes keys from Badger.
func (s *BadgerStore) unpersist(keys ...[]byte) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateEntity stores a new entity. Names are unique across the graph.
func (s *BadgerStore) CreateEntity(ctx context.Context, e Entity) (*Entity, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("graph: entity name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[e.Name]; taken {
		return nil, fmt.Errorf("%w: %s", ErrExists, e.Name)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Type == "" {
		e.Type = "Unknown"
	}
	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now

	stored := copyEntity(&e)
	s.entities[e.ID] = stored
	s.byName[e.Name] = e.ID

	if err := s.persist(entityKey(e.ID), stored); err != nil {
		return nil, err
	}
	return copyEntity(stored), nil
}

// GetEntity returns an entity by id.
func (s *BadgerStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, id)
	}
	return copyEntity(e), nil
}

// GetEntityByName returns an entity by exact name.
func (s *BadgerStore) GetEntityByName(ctx context.Context, name string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: entity named %q", ErrNotFound, name)
	}
	return copyEntity(s.entities[id]), nil
}

// UpdateEntity merges properties into an existing entity.
func (s *BadgerStore) UpdateEntity(ctx context.Context, id string, props map[string]interface{}) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, id)
	}

	if e.Properties == nil {
		e.Properties = make(map[string]interface{}, len(props))
	}
	for k, v := range props {
		e.Properties[k] = v
	}
	e.UpdatedAt = s.now()

	if err := s.persist(entityKey(id), e); err != nil {
		return nil, err
	}
	return copyEntity(e), nil
}

// DeleteEntity removes an entity and every relation touching it.
func (s *BadgerStore) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: entity %s", ErrNotFound, id)
	}

	keys := [][]byte{entityKey(id)}
	for _, relID := range append(append([]string(nil), s.out[id]...), s.in[id]...) {
		if rel, ok := s.relations[relID]; ok {
			s.detachRelation(rel)
			keys = append(keys, relationKey(relID))
		}
	}

	delete(s.entities, id)
	delete(s.byName, e.Name)
	delete(s.out, id)
	delete(s.in, id)

	return s.unpersist(keys...)
}

// CreateRelation stores a typed edge between two existing entities.
func (s *BadgerStore) CreateRelation(ctx context.Context, fromID, toID, relType string, props map[string]interface{}) (*Relation, error) {
	if !ValidRelationType(relType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRelationType, relType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[fromID]; !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, fromID)
	}
	if _, ok := s.entities[toID]; !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, toID)
	}

	rel := &Relation{
		ID:         uuid.New().String(),
		FromID:     fromID,
		ToID:       toID,
		Type:       relType,
		Properties: copyProps(props),
		CreatedAt:  s.now(),
	}

	s.relations[rel.ID] = rel
	s.out[fromID] = append(s.out[fromID], rel.ID)
	s.in[toID] = append(s.in[toID], rel.ID)

	if err := s.persist(relationKey(rel.ID), rel); err != nil {
		return nil, err
	}
	return copyRelation(rel), nil
}

// DeleteRelation removes a relation by id.
func (s *BadgerStore) DeleteRelation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.relations[id]
	if !ok {
		return fmt.Errorf("%w: relation %s", ErrNotFound, id)
	}
	s.detachRelation(rel)
	return s.unpersist(relationKey(id))
}

// detachRelation removes a relation from the maps. Caller holds mu.
func (s *BadgerStore) detachRelation(rel *Relation) {
	delete(s.relations, rel.ID)
	s.out[rel.FromID] = removeString(s.out[rel.FromID], rel.ID)
	s.in[rel.ToID] = removeString(s.in[rel.ToID], rel.ID)
}

// MergeFact resolves both endpoints by name, creating missing ones with
// type "Unknown", and ensures the predicate edge exists exactly once.
func (s *BadgerStore) MergeFact(ctx context.Context, subject, predicate, object string) (*Fact, error) {
	if subject == "" || object == "" {
		return nil, fmt.Errorf("graph: fact subject and object are required")
	}
	if !ValidRelationType(predicate) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRelationType, predicate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.mergeEntity(subject)
	if err != nil {
		return nil, err
	}
	obj, err := s.mergeEntity(object)
	if err != nil {
		return nil, err
	}

	// Reuse an existing edge of the same type between the same endpoints.
	var rel *Relation
	for _, relID := range s.out[sub.ID] {
		if r := s.relations[relID]; r != nil && r.ToID == obj.ID && r.Type == predicate {
			rel = r
			break
		}
	}

	if rel == nil {
		rel = &Relation{
			ID:        uuid.New().String(),
			FromID:    sub.ID,
			ToID:      obj.ID,
			Type:      predicate,
			CreatedAt: s.now(),
		}
		s.relations[rel.ID] = rel
		s.out[sub.ID] = append(s.out[sub.ID], rel.ID)
		s.in[obj.ID] = append(s.in[obj.ID], rel.ID)

		if err := s.persist(relationKey(rel.ID), rel); err != nil {
			return nil, err
		}
	}

	return &Fact{
		Subject:   *copyEntity(sub),
		Predicate: *copyRelation(rel),
		Object:    *copyEntity(obj),
	}, nil
}

// mergeEntity returns the entity with the given name, creating it when
// missing. Caller holds mu.
func (s *BadgerStore) mergeEntity(name string) (*Entity, error) {
	if id, ok := s.byName[name]; ok {
		return s.entities[id], nil
	}

	now := s.now()
	e := &Entity{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      "Unknown",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entities[e.ID] = e
	s.byName[name] = e.ID

	if err := s.persist(entityKey(e.ID), e); err != nil {
		return nil, err
	}
	return e, nil
}

// Neighbors returns the entities directly connected to an entity.
func (s *BadgerStore) Neighbors(ctx context.Context, entityID string) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
	}

	var out []Neighbor
	for _, relID := range s.out[entityID] {
		rel := s.relations[relID]
		if other, ok := s.entities[rel.ToID]; ok {
			out = append(out, Neighbor{Entity: *copyEntity(other), Relation: *copyRelation(rel), Outgoing: true})
		}
	}
	for _, relID := range s.in[entityID] {
		rel := s.relations[relID]
		if other, ok := s.entities[rel.FromID]; ok {
			out = append(out, Neighbor{Entity: *copyEntity(other), Relation: *copyRelation(rel), Outgoing: false})
		}
	}
	return out, nil
}

// Traverse walks breadth-first from an entity up to maxDepth hops.
func (s *BadgerStore) Traverse(ctx context.Context, entityID string, maxDepth int) ([]TraversalNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
	}
	if maxDepth < 1 {
		return nil, nil
	}

	type frontier struct {
		id    string
		depth int
	}

	visited := map[string]bool{entityID: true}
	queue := []frontier{{id: entityID, depth: 0}}
	var nodes []TraversalNode

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth == maxDepth {
			continue
		}

		for _, hop := range s.adjacent(cur.id) {
			if visited[hop.otherID] {
				continue
			}
			visited[hop.otherID] = true
			other := s.entities[hop.otherID]
			nodes = append(nodes, TraversalNode{
				Entity: *copyEntity(other),
				Depth:  cur.depth + 1,
				Via:    *copyRelation(hop.rel),
			})
			queue = append(queue, frontier{id: hop.otherID, depth: cur.depth + 1})
		}
	}

	return nodes, nil
}

type hop struct {
	otherID string
	rel     *Relation
}

// adjacent lists both directions of an entity's edges. Caller holds mu.
func (s *BadgerStore) adjacent(id string) []hop {
	var hops []hop
	for _, relID := range s.out[id] {
		rel := s.relations[relID]
		hops = append(hops, hop{otherID: rel.ToID, rel: rel})
	}
	for _, relID := range s.in[id] {
		rel := s.relations[relID]
		hops = append(hops, hop{otherID: rel.FromID, rel: rel})
	}
	return hops
}

// FindPaths returns every simple path between two entities up to maxDepth
// hops, shortest first.
func (s *BadgerStore) FindPaths(ctx context.Context, fromID, toID string, maxDepth int) ([]Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[fromID]; !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, fromID)
	}
	if _, ok := s.entities[toID]; !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, toID)
	}

	var paths []Path
	visited := map[string]bool{fromID: true}

	var walk func(current string, entities []Entity, relations []Relation)
	walk = func(current string, entities []Entity, relations []Relation) {
		if len(relations) > maxDepth {
			return
		}
		if current == toID && len(relations) > 0 {
			paths = append(paths, Path{
				Entities:  append([]Entity(nil), entities...),
				Relations: append([]Relation(nil), relations...),
			})
			return
		}
		if len(relations) == maxDepth {
			return
		}

		for _, h := range s.adjacent(current) {
			if visited[h.otherID] {
				continue
			}
			visited[h.otherID] = true
			walk(h.otherID,
				append(entities, *copyEntity(s.entities[h.otherID])),
				append(relations, *copyRelation(h.rel)))
			visited[h.otherID] = false
		}
	}

	walk(fromID, []Entity{*copyEntity(s.entities[fromID])}, nil)

	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].Len() < paths[j].Len()
	})
	return paths, nil
}

// EntitiesByType returns entities of one type, sorted by name.
func (s *BadgerStore) EntitiesByType(ctx context.Context, entityType string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entity
	for _, e := range s.entities {
		if e.Type == entityType {
			out = append(out, *copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Related returns entities reachable over relations of one type, restricted
// to the given direction. The zero direction behaves like DirectionBoth.
func (s *BadgerStore) Related(ctx context.Context, entityID, relType string, direction Direction) ([]Entity, error) {
	switch direction {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth, "":
	default:
		return nil, fmt.Errorf("graph: invalid direction %q", direction)
	}

	neighbors, err := s.Neighbors(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var out []Entity
	seen := make(map[string]bool)
	for _, n := range neighbors {
		if n.Relation.Type != relType || seen[n.Entity.ID] {
			continue
		}
		if direction == DirectionOutgoing && !n.Outgoing {
			continue
		}
		if direction == DirectionIncoming && n.Outgoing {
			continue
		}
		seen[n.Entity.ID] = true
		out = append(out, n.Entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// queryPattern matches MATCH (subject)-[predicate]->(object).
var queryPattern = regexp.MustCompile(`^\s*MATCH\s*\(([^()]*)\)\s*-\s*\[([^\[\]]*)\]\s*->\s*\(([^()]*)\)\s*$`)

// queryTerm is one resolved position of a pattern query.
type queryTerm struct {
	value    string
	wildcard bool
}

func (t queryTerm) matches(v string) bool {
	return t.wildcard || t.value == v
}

/// resolveTerm resolves a pattern term: "?" or empty is a wildcard, "$name"
// reads params, anything else is a literal (surrounding quotes stripped).
func resolveTerm(raw string, params map[string]interface{}) (queryTerm, error) {
	term := strings.TrimSpace(raw)
	if term == "" || term == "?" {
		return queryTerm{wildcard: true}, nil
	}
	if strings.HasPrefix(term, "$") {
		name := term[1:]
		v, ok := params[name]
		if !ok {
			return queryTerm{}, fmt.Errorf("%w: unbound parameter $%s", ErrInvalidQuery, name)
		}
		return queryTerm{value: fmt.Sprintf("%v", v)}, nil
	}
	return queryTerm{value: strings.Trim(term, `"'`)}, nil
}

// Query runs a declarative pattern query over the relation set and returns
// the matching facts, ordered by subject, predicate and object.
func (s *BadgerStore) Query(ctx context.Context, rawQuery string, params map[string]interface{}) ([]Fact, error) {
	groups := queryPattern.FindStringSubmatch(rawQuery)
	if groups == nil {
		return nil, fmt.Errorf("%w: expected MATCH (subject)-[predicate]->(object), got %q", ErrInvalidQuery, rawQuery)
	}

	subject, err := resolveTerm(groups[1], params)
	if err != nil {
		return nil, err
	}
	predicate, err := resolveTerm(groups[2], params)
	if err != nil {
		return nil, err
	}
	object, err := resolveTerm(groups[3], params)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var facts []Fact
	for _, rel := range s.relations {
		if !predicate.matches(rel.Type) {
			continue
		}
		sub, ok := s.entities[rel.FromID]
		if !ok || !subject.matches(sub.Name) {
			continue
		}
		obj, ok := s.entities[rel.ToID]
		if !ok || !object.matches(obj.Name) {
			continue
		}
		facts = append(facts, Fact{
			Subject:   *copyEntity(sub),
			Predicate: *copyRelation(rel),
			Object:    *copyEntity(obj),
		})
	}

	sort.Slice(facts, func(i, j int) bool {
		if facts[i].Subject.Name != facts[j].Subject.Name {
			return facts[i].Subject.Name < facts[j].Subject.Name
		}
		if facts[i].Predicate.Type != facts[j].Predicate.Type {
			return facts[i].Predicate.Type < facts[j].Predicate.Type
		}
		return facts[i].Object.Name < facts[j].Object.Name
	})
	return facts, nil
}

// Stats summarizes the graph contents.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Entities:  len(s.entities),
		Relations: len(s.relations),
		ByType:    make(map[string]int),
	}
	for _, e := range s.entities {
		st.ByType[e.Type]++
	}
	return st, nil
}

// Close closes the Badger database when persistence is enabled.
func (s *BadgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func copyEntity(e *Entity) *Entity {
	copied := *e
	copied.Properties = copyProps(e.Properties)
	return &copied
}

func copyRelation(r *Relation) *Relation {
	copied := *r
	copied.Properties = copyProps(r.Properties)
	return &copied
}

func copyProps(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(props))
	for k, v := range props {
		copied[k] = v
	}
	return copied
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
