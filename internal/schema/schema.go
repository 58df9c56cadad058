// Package schema is the engine's read-only projection of the indexed
// domain: types, fields, index definitions, routing/rollover metadata and
// relationship directions. Nothing here executes a query; it is consulted
// by the filter interpreter, the relationship resolver and the hidden-type
// gate to decide what is queryable and how.
package schema

import "fmt"

// Kind enumerates the GraphQL type kinds the schema view tracks.
type Kind int

const (
	KindObject Kind = iota
	KindInterface
	KindUnion
	KindEnum
	KindScalar
	KindInput
)

// Cardinality of a relationship.
type Cardinality int

const (
	CardinalityOne Cardinality = iota
	CardinalityMany
)

// Direction of a relationship's foreign key.
type Direction int

const (
	// DirectionOut means the parent holds the foreign key and points at the
	// child's id.
	DirectionOut Direction = iota
	// DirectionIn means the child holds a foreign key pointing back at the
	// parent; the resolver cannot route this hop.
	DirectionIn
)

// Relationship describes one graph edge between two indexed types.
type Relationship struct {
	FieldPath        string
	Direction        Direction
	Cardinality      Cardinality
	TargetType       string
	AdditionalFilter map[string]interface{}
}

// Field is one field of an object or interface type.
type Field struct {
	Name             string
	NameInIndex      string
	Type             string
	List             bool
	Relationship     *Relationship
	GraphQLOnly      bool
	AlternateSubfield string
	// IsRoutingField marks the field whose equal_to_any_of predicate
	// exposes shard-routing values to the Dispatcher (§4.1 step 9). At most
	// one field per indexed type should set this.
	IsRoutingField bool
	// IsRolloverTimeField marks the field whose range predicates drive
	// rollover-index pruning (§4.1 step 8). At most one field per indexed
	// type should set this.
	IsRolloverTimeField bool
}

// IndexName returns the field's name as it appears in the datastore mapping,
// falling back to the public name when no override is set.
func (f Field) IndexName() string {
	if f.NameInIndex != "" {
		return f.NameInIndex
	}
	return f.Name
}

// Type is one entry of the schema view: an object/interface/union/enum/
// scalar/input type and, for object/interface kinds, its fields.
type Type struct {
	Name   string
	Kind   Kind
	Fields map[string]Field
	// Index is the backing IndexDefinition name for object types that map
	// directly onto an indexed document; empty for pure GraphQL types.
	Index string
}

// RolloverGranularity is the truncation unit used to slice a rollover index
// family.
type RolloverGranularity int

const (
	RolloverNone RolloverGranularity = iota
	RolloverDaily
	RolloverMonthly
	RolloverYearly
)

// Rollover describes how an index family is time-sliced.
type Rollover struct {
	Granularity RolloverGranularity
	TimeField   string
}

// IndexDefinition describes one logical index and how it maps to concrete
// datastore indexes.
type IndexDefinition struct {
	LogicalName  string
	IndexPattern string
	RoutingField string // empty means unrouted
	Rollover     *Rollover
	// QueryCluster is the datastore cluster name this index is served from.
	// An empty string means the index is unreachable for this deployment —
	// the Hidden-Type Gate hides any type whose every backing index has
	// QueryCluster == "".
	QueryCluster string
}

// Reachable reports whether this index can be queried in the current
// configuration.
func (d IndexDefinition) Reachable() bool { return d.QueryCluster != "" }

// View is the full read-only schema projection: types plus index
// definitions, keyed by name.
type View struct {
	Types   map[string]Type
	Indexes map[string]IndexDefinition
}

// NewView builds a View from types and index definitions.
func NewView(types []Type, indexes []IndexDefinition) *View {
	v := &View{
		Types:   make(map[string]Type, len(types)),
		Indexes: make(map[string]IndexDefinition, len(indexes)),
	}
	for _, t := range types {
		v.Types[t.Name] = t
	}
	for _, idx := range indexes {
		v.Indexes[idx.LogicalName] = idx
	}
	return v
}

// FieldOf returns the named field of typeName, or an error if either the
// type or the field is unknown.
func (v *View) FieldOf(typeName, fieldName string) (Field, error) {
	t, ok := v.Types[typeName]
	if !ok {
		return Field{}, fmt.Errorf("schema: unknown type %q", typeName)
	}
	f, ok := t.Fields[fieldName]
	if !ok {
		return Field{}, fmt.Errorf("schema: unknown field %q on type %q", fieldName, typeName)
	}
	return f, nil
}

// IndexFor returns the IndexDefinition backing typeName.
func (v *View) IndexFor(typeName string) (IndexDefinition, bool) {
	t, ok := v.Types[typeName]
	if !ok || t.Index == "" {
		return IndexDefinition{}, false
	}
	idx, ok := v.Indexes[t.Index]
	return idx, ok
}
