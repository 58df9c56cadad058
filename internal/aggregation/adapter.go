package aggregation

import (
	"encoding/json"

	"github.com/searchlayer/gqlengine/internal/dsl"
)

// KeyPart is one element of a bucket's grouping-key tuple.
type KeyPart struct {
	Alias string
	// Value is nil for the missing-value bucket.
	Value interface{}
}

// Bucket is one decoded grouping result, flattened from whatever
// nested-aggregation shape the datastore returned it in.
type Bucket struct {
	Key         []KeyPart
	DocCount    int64
	CountDetail CountDetail
	Values      map[string]float64
	Children    []Bucket
	// AfterKey carries the composite adapter's pagination cursor for this
	// bucket's position in datastore-side pagination, nil for non-composite.
	AfterKey map[string]interface{}
}

// DecodeResult is what decoding one aggregation node's raw response yields.
type DecodeResult struct {
	Buckets     []Bucket
	HasNextPage bool
}

// NestingError is returned by EncodeRequest when a node cannot legally be
// nested under its parent for the adapter in use (§4.3: "implementations
// MUST surface a clear error... rather than falling back silently").
type NestingError struct {
	Msg string
}

func (e *NestingError) Error() string { return e.Msg }

// Adapter is the shared contract the composite and non-composite grouping
// strategies both implement (§9 "Polymorphism over adapters").
type Adapter interface {
	// EncodeRequest builds the datastore aggregation request for node,
	// including its child sub-aggregations.
	EncodeRequest(node Node) (dsl.Aggregation, error)
	// Root builds the top-level aggregation request for node plus the wire
	// key the adapter would use to name it, for a node encoded at the root
	// of a query's aggs object rather than as another node's child.
	Root(node Node) (string, dsl.Aggregation, error)
	// DecodeResponse decodes the raw response for node (already unwrapped
	// of any nested/filter scaffolding the adapter itself added) back into
	// a bucket list honoring node's requested page size.
	DecodeResponse(node Node, raw json.RawMessage, first int) (DecodeResult, error)
	// SupportsNestingUnder reports whether a node using this adapter can be
	// nested under a parent aggregation of parentKind.
	SupportsNestingUnder(parentKind string) bool
}

// WrapForNestedPath wraps agg in the nested->filter scaffolding used when a
// node's Path addresses a nested document field, following the
// reveald-reveald NestedDocumentWrapper pattern: nested aggregation whose
// sub-aggregation is a `filter` matching the node's own Filter (or
// match_all), which in turn contains the real aggregation. This keeps a
// nested sub-aggregation's bucket tree reachable by a single predictable
// key path regardless of how many object-field levels it flattens.
func WrapForNestedPath(path string, inner dsl.Aggregation, filter dsl.Query) dsl.Aggregation {
	return dsl.Aggregation{
		Nested: &dsl.NestedAgg{Path: path},
		Aggs: dsl.Aggregations{
			"_filter": {
				Filter: &filter,
				Aggs:   dsl.Aggregations{"_inner": inner},
			},
		},
	}
}

// UnwrapNestedPath reverses WrapForNestedPath's key path over a decoded raw
// response tree, returning the raw bytes of the real inner aggregation.
func UnwrapNestedPath(raw map[string]json.RawMessage) (map[string]json.RawMessage, bool) {
	filterRaw, ok := raw["_filter"]
	if !ok {
		return nil, false
	}
	var filterNode map[string]json.RawMessage
	if err := json.Unmarshal(filterRaw, &filterNode); err != nil {
		return nil, false
	}
	innerRaw, ok := filterNode["_inner"]
	if !ok {
		return nil, false
	}
	var innerNode map[string]json.RawMessage
	if err := json.Unmarshal(innerRaw, &innerNode); err != nil {
		return nil, false
	}
	return innerNode, true
}
