// Package graph provides the entity-relation store backing semantic memory.
package graph

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when an entity or relation does not exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrExists is returned when creating an entity whose name is taken.
	ErrExists = errors.New("graph: entity already exists")

	// ErrInvalidRelationType is returned for relation type tokens that are
	// not a leading letter followed by letters, digits or underscores.
	ErrInvalidRelationType = errors.New("graph: invalid relation type")

	// ErrInvalidQuery is returned for malformed declarative queries or
	// unbound query parameters.
	ErrInvalidQuery = errors.New("graph: invalid query")
)

// Direction selects which edges count when listing related entities.
type Direction string

const (
	// DirectionOutgoing follows edges pointing away from the entity.
	DirectionOutgoing Direction = "outgoing"

	// DirectionIncoming follows edges pointing at the entity.
	DirectionIncoming Direction = "incoming"

	// DirectionBoth follows edges in either direction. The zero value of
	// Direction behaves the same.
	DirectionBoth Direction = "both"
)

var relationTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidRelationType reports whether a relation type token is well formed.
func ValidRelationType(relType string) bool {
	return relationTypePattern.MatchString(relType)
}

// Entity is a node in the knowledge graph.
type Entity struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	ID         string                 `json:"id"`
	FromID     string                 `json:"from_id"`
	ToID       string                 `json:"to_id"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Fact is a subject-predicate-object triple resolved to graph elements.
type Fact struct {
	Subject   Entity   `json:"subject"`
	Predicate Relation `json:"predicate"`
	Object    Entity   `json:"object"`
}

// Neighbor is an entity reached over one relation.
type Neighbor struct {
	Entity   Entity   `json:"entity"`
	Relation Relation `json:"relation"`

	// Outgoing is true when the relation points away from the start entity.
	Outgoing bool `json:"outgoing"`
}

// TraversalNode is an entity discovered during a breadth-first traversal.
type TraversalNode struct {
	Entity Entity `json:"entity"`

	// Depth is the number of hops from the start entity, starting at 1.
	Depth int `json:"depth"`

	// Via is the relation that led to this entity.
	Via Relation `json:"via"`
}

// Path is an alternating entity-relation sequence between two entities.
type Path struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Len returns the number of hops in the path.
func (p Path) Len() int {
	return len(p.Relations)
}

// Stats summarizes the graph contents.
type Stats struct {
	Entities  int            `json:"entities"`
	Relations int            `json:"relations"`
	ByType    map[string]int `json:"by_type"`
}

// Store is the knowledge graph interface. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateEntity stores a new entity. A missing ID is generated.
	CreateEntity(ctx context.Context, e Entity) (*Entity, error)

	// GetEntity returns an entity by id, or ErrNotFound.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// GetEntityByName returns an entity by exact name, or ErrNotFound.
	GetEntityByName(ctx context.Context, name string) (*Entity, error)

	// UpdateEntity merges properties into an existing entity.
	UpdateEntity(ctx context.Context, id string, props map[string]interface{}) (*Entity, error)

	// DeleteEntity removes an entity and every relation touching it.
	DeleteEntity(ctx context.Context, id string) error

	// CreateRelation stores a typed edge between two existing entities.
	CreateRelation(ctx context.Context, fromID, toID, relType string, props map[string]interface{}) (*Relation, error)

	// DeleteRelation removes a relation by id.
	DeleteRelation(ctx context.Context, id string) error

	// MergeFact resolves subject and object by name, creating missing
	// endpoints with type "Unknown", and ensures the predicate edge exists.
	MergeFact(ctx context.Context, subject, predicate, object string) (*Fact, error)

	// Neighbors returns the entities directly connected to an entity.
	Neighbors(ctx context.Context, entityID string) ([]Neighbor, error)

	// Traverse walks breadth-first from an entity up to maxDepth hops.
	// The start entity itself is not included.
	Traverse(ctx context.Context, entityID string, maxDepth int) ([]TraversalNode, error)

	// FindPaths returns every path between two entities up to maxDepth hops,
	// shortest first.
	FindPaths(ctx context.Context, fromID, toID string, maxDepth int) ([]Path, error)

	// EntitiesByType returns entities of one type.
	EntitiesByType(ctx context.Context, entityType string) ([]Entity, error)

	// Related returns entities reachable from an entity over relations of
	// one type, restricted to the given direction.
	Related(ctx context.Context, entityID, relType string, direction Direction) ([]Entity, error)

	// Query runs a declarative pattern query of the form
	// MATCH (subject)-[predicate]->(object), where each term is a literal,
	// a $param reference resolved from params, or the wildcard ?.
	Query(ctx context.Context, rawQuery string, params map[string]interface{}) ([]Fact, error)

	// Stats summarizes the graph contents.
	Stats(ctx context.Context) (Stats, error)

	// Close releases resources held by the store.
	Close() error
}
