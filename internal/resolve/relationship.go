// Package resolve implements the Relationship Resolver (§4.6) and
// Aggregation Resolver (§4.7): turning a DatastoreQuery/aggregation.Node
// plus its raw datastore response into the relay-shaped values a GraphQL
// field resolver returns.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samsarahq/go/oops"
	"golang.org/x/sync/errgroup"

	"github.com/searchlayer/gqlengine/internal/dsl"
	"github.com/searchlayer/gqlengine/internal/filter"
	"github.com/searchlayer/gqlengine/internal/query"
	"github.com/searchlayer/gqlengine/internal/schema"
)

// selfSentinel is the field name used to validate that a document in a
// merged multi-type index actually belongs to the type being resolved,
// filtering out stub documents written by a different source stream
// (§4.6: "validate the primary-source sentinel __self").
const selfSentinel = "__self"

// EdgeGroup is one (target index, routing signature, filter shape)
// combination a wave of sibling relationship lookups collapses into —
// the fan-out unit bounded by §4.6.
type EdgeGroup struct {
	Relationship schema.Relationship
	FKValues     []interface{}
	ParentsByFK  map[interface{}][]ParentRef
}

// ParentRef identifies one parent document whose relationship field is
// being resolved, so the resolved children can be routed back to it.
type ParentRef struct {
	ParentID interface{}
}

// PlanRelationshipQuery builds the DatastoreQuery for one edge group,
// choosing direction per §4.6: an `out` FK collects values from parents
// and filters target documents by id; an `in` FK filters target documents
// by their own FK field against the parent id set (and cannot route).
// additionalFilter, if non-zero, is the relationship descriptor's
// additional_filter already compiled by the filter interpreter (e.g.
// dollar_widget — the widget whose cost is exactly $1).
func PlanRelationshipQuery(rel schema.Relationship, targetIndex schema.IndexDefinition, fkValues []interface{}, additionalFilter *dsl.Query) (query.DatastoreQuery, error) {
	if len(fkValues) == 0 {
		return query.DatastoreQuery{
			Cluster:      targetIndex.QueryCluster,
			Query:        dsl.MatchNoneQuery(),
			RoutingEmpty: rel.Direction == schema.DirectionOut,
		}, nil
	}

	var idField string
	switch rel.Direction {
	case schema.DirectionOut:
		idField = "id"
	case schema.DirectionIn:
		idField = rel.FieldPath
	default:
		return query.DatastoreQuery{}, fmt.Errorf("resolve: unknown relationship direction %q", rel.Direction)
	}

	filter := dsl.Query{Terms: &dsl.TermsQuery{Field: idField, Values: fkValues}}
	if additionalFilter != nil {
		filter = dsl.And(filter, *additionalFilter)
	}

	plan := query.DatastoreQuery{
		Cluster:      targetIndex.QueryCluster,
		IndexPattern: []string{targetIndex.IndexPattern},
		Query:        filter,
		Size:         defaultRelationshipPageSize,
	}

	if rel.Direction == schema.DirectionOut {
		plan.Routed = true
		plan.RoutingValues = fkValues
	}

	return plan, nil
}

const defaultRelationshipPageSize = 200

// CompileAdditionalFilter compiles a relationship descriptor's
// additional_filter (e.g. dollar_widget's "cost is exactly $1") against the
// target type, for passing into PlanRelationshipQuery. Returns nil when the
// relationship carries no additional filter.
func CompileAdditionalFilter(compiler *filter.Compiler, targetTypeName string, rel schema.Relationship) (*dsl.Query, error) {
	if len(rel.AdditionalFilter) == 0 {
		return nil, nil
	}
	res, err := compiler.Compile(targetTypeName, rel.AdditionalFilter)
	if err != nil {
		return nil, oops.Wrapf(err, "resolve: compiling additional_filter for relationship %q", rel.FieldPath)
	}
	return &res.Query, nil
}

// Document is one decoded datastore hit, with its raw source preserved for
// field-level resolvers that pull additional columns out of it.
type Document struct {
	Source map[string]json.RawMessage
}

// DecodeHits parses a datastore search response's hits array into
// Documents, dropping any document that fails the __self sentinel check
// (§4.6) when expectedSelf is non-empty.
func DecodeHits(raw json.RawMessage, expectedSelf string) ([]Document, error) {
	var wire struct {
		Hits struct {
			Hits []struct {
				Source map[string]json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, oops.Wrapf(err, "resolve: decoding hits")
	}

	var docs []Document
	for _, h := range wire.Hits.Hits {
		if expectedSelf != "" {
			if raw, ok := h.Source[selfSentinel]; ok {
				var self string
				_ = json.Unmarshal(raw, &self)
				if self != expectedSelf {
					continue
				}
			}
		}
		docs = append(docs, Document{Source: h.Source})
	}
	return docs, nil
}

// EdgeGroupResponse pairs one edge group's raw msearch response with the
// __self sentinel its target type expects.
type EdgeGroupResponse struct {
	Raw          json.RawMessage
	ExpectedSelf string
}

// DecodeEdgeGroups decodes every edge group's hits concurrently, bounded
// by maxConcurrency, since distinct (target index, routing signature,
// filter shape) groups in one wave are independent of each other (§4.6's
// fan-out unit; §10.7's errgroup-bounded per-edge-set batching).
func DecodeEdgeGroups(ctx context.Context, responses []EdgeGroupResponse, maxConcurrency int) ([][]Document, error) {
	out := make([][]Document, len(responses))
	group, _ := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		group.SetLimit(maxConcurrency)
	}
	for i, resp := range responses {
		i, resp := i, resp
		group.Go(func() error {
			docs, err := DecodeHits(resp.Raw, resp.ExpectedSelf)
			if err != nil {
				return err
			}
			out[i] = docs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupByFK partitions decoded documents by the value found at fkField,
// so a caller can assign each parent's slice of children after one
// follow-up query resolves an entire sibling wave.
func GroupByFK(docs []Document, fkField string) map[string][]Document {
	out := map[string][]Document{}
	for _, d := range docs {
		raw, ok := d.Source[fkField]
		if !ok {
			continue
		}
		var key string
		if err := json.Unmarshal(raw, &key); err != nil {
			key = string(raw)
		}
		out[key] = append(out[key], d)
	}
	return out
}
