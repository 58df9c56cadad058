// Package query implements the DatastoreQuery value: an immutable plan
// combining index pattern, routing, filter, sort, pagination and
// aggregation tree, plus the operations the optimizer and dispatcher need
// (merge, short_circuit?, to_header_body) (§4.2).
package query

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/searchlayer/gqlengine/internal/aggregation"
	"github.com/searchlayer/gqlengine/internal/dsl"
)

// SortDirection is the direction of one sort key.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// SortKey is one entry of a DatastoreQuery's sort list.
type SortKey struct {
	Field     string
	Direction SortDirection
}

// Pagination carries the cursor-decoded forward/backward paging state for a
// connection query.
type Pagination struct {
	First  *int
	Last   *int
	After  string
	Before string
}

// DatastoreQuery is the immutable plan the filter interpreter, optimizer
// and dispatcher all operate on.
type DatastoreQuery struct {
	Cluster          string
	IndexPattern     []string // concrete rollover slices, or the single logical pattern
	RoutingValues    []interface{}
	Routed           bool // true if a routing predicate was present at all
	Query            dsl.Query
	Sort             []SortKey
	Pagination       Pagination
	Size             int
	SearchPreference string
	SourceEnabled    bool

	// Aggregations maps a response-facing alias to its aggregation node.
	// Multiple aliases may coexist after the optimizer merges plans that
	// differ only in their aggregations (§4.4).
	Aggregations map[string]aggregation.Node

	// RolloverEmptied and RoutingEmpty record why ShortCircuit is true, for
	// logging; dispatching never distinguishes them.
	RolloverEmptied bool
	RoutingEmpty    bool
}

// ShortCircuit reports whether this query must never reach the datastore
// (§4.2): the compiled filter is statically false, the routing set is
// present but empty, or rollover pruning emptied the index set.
func (q DatastoreQuery) ShortCircuit() bool {
	return q.Query.IsMatchNone() || q.RoutingEmpty || q.RolloverEmptied
}

// IsAggregationOnly reports whether this plan only requests aggregations
// (no hits), which forces size:0, no sort, _source:false (§4.2).
func (q DatastoreQuery) IsAggregationOnly() bool {
	return len(q.Aggregations) > 0 && q.Size == 0
}

// Incompatible is returned by Merge when two plans cannot be folded into
// one search.
type Incompatible struct {
	Reason string
}

func (e *Incompatible) Error() string { return e.Reason }

// mergeKey serializes the fields compared for equality to decide merge-compatibility
// (§4.2: "agree on index pattern, routing set, filter, sort, size/pagination,
// and search preference").
func (q DatastoreQuery) mergeKey() string {
	b, _ := json.Marshal(struct {
		Cluster    string
		Index      []string
		Routing    []interface{}
		Query      dsl.Query
		Sort       []SortKey
		Size       int
		Pagination Pagination
		Preference string
	}{q.Cluster, q.IndexPattern, q.RoutingValues, q.Query, q.Sort, q.Size, q.Pagination, q.SearchPreference})
	return string(b)
}

// MergeCompatible reports whether q and other agree on everything merge
// cares about.
func (q DatastoreQuery) MergeCompatible(other DatastoreQuery) bool {
	return q.mergeKey() == other.mergeKey()
}

// Merge folds other into q, iff they are merge-compatible, re-keying
// aggregation aliases to avoid collisions (§4.2, §4.4).
func (q DatastoreQuery) Merge(other DatastoreQuery) (DatastoreQuery, error) {
	if !q.MergeCompatible(other) {
		return DatastoreQuery{}, &Incompatible{Reason: "plans disagree on filter/sort/routing/index-set/size"}
	}
	merged := q
	merged.Aggregations = make(map[string]aggregation.Node, len(q.Aggregations)+len(other.Aggregations))
	for alias, node := range q.Aggregations {
		merged.Aggregations[alias] = node
	}
	for alias, node := range other.Aggregations {
		key := alias
		if _, collides := merged.Aggregations[key]; collides {
			key = disambiguateAlias(merged.Aggregations, alias)
		}
		merged.Aggregations[key] = node
	}
	return merged, nil
}

func disambiguateAlias(existing map[string]aggregation.Node, alias string) string {
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", alias, i)
		if _, ok := existing[candidate]; !ok {
			return candidate
		}
	}
}

// Equal reports deep equality, for callers where a plain == comparison is
// unsafe due to map/slice fields. The optimizer's partitioning does not use
// it; it compares plans with MergeCompatible.
func (q DatastoreQuery) Equal(other DatastoreQuery) bool {
	return reflect.DeepEqual(q, other)
}

// Header is the msearch header line for one query.
type Header struct {
	Index            []string `json:"index,omitempty"`
	Preference       string   `json:"preference,omitempty"`
	SearchType       string   `json:"search_type,omitempty"`
}

// Body is the msearch body line for one query.
type Body struct {
	Query   dsl.Query           `json:"query"`
	Sort    []sortWire          `json:"sort,omitempty"`
	From    int                 `json:"from,omitempty"`
	Size    int                 `json:"size"`
	Source  bool                `json:"_source"`
	Timeout string              `json:"timeout,omitempty"`
	Aggs    dsl.Aggregations    `json:"aggs,omitempty"`
}

type sortWire struct {
	Field     string `json:"-"`
	Direction string `json:"-"`
}

func (s sortWire) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{s.Field: s.Direction})
}

// ToHeaderBody produces the msearch header/body pair, clamping the body's
// timeout to min(configured, remaining_deadline), applying the
// aggregation-only forcing rules, and encoding q.Aggregations through
// adapter into body.Aggs (§4.2, §4.3). adapter is a per-request
// configuration choice, not a property of DatastoreQuery; a nil adapter
// defaults to NonCompositeAdapter, matching config.New's own default (§9).
func (q DatastoreQuery) ToHeaderBody(remainingDeadlineMs int64, configuredTimeoutMs int64, adapter aggregation.Adapter) (Header, Body, error) {
	header := Header{Index: q.IndexPattern, Preference: q.SearchPreference}

	timeoutMs := configuredTimeoutMs
	if remainingDeadlineMs < timeoutMs {
		timeoutMs = remainingDeadlineMs
	}

	body := Body{
		Query:   q.Query,
		Size:    q.Size,
		Source:  q.SourceEnabled,
		Timeout: fmt.Sprintf("%dms", timeoutMs),
	}

	if q.IsAggregationOnly() {
		body.Size = 0
		body.Sort = nil
		body.Source = false
	} else {
		for _, s := range q.Sort {
			body.Sort = append(body.Sort, sortWire{Field: s.Field, Direction: string(s.Direction)})
		}
	}

	if len(q.Aggregations) > 0 {
		if adapter == nil {
			adapter = aggregation.NonCompositeAdapter{}
		}
		aggs, err := aggregation.EncodeAggregations(adapter, q.Aggregations)
		if err != nil {
			return Header{}, Body{}, err
		}
		body.Aggs = aggs
	}

	return header, body, nil
}
