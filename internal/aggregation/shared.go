package aggregation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/searchlayer/gqlengine/internal/dsl"
)

// EncodeAggregations builds the complete top-level "aggs" object for a wave
// of aggregation plans (§4.2, §4.3): one entry per response alias, encoded
// through adapter and wrapped in the nested->filter scaffolding when the
// node's own Path addresses a nested document field.
//
// The top-level wire key is always the response alias (the key of nodes),
// not whatever name Root itself would choose: the optimizer's merge
// disambiguation (§4.4) guarantees the alias is collision-free across
// folded plans, and that is the same key DecodeResponse's caller looks the
// raw per-alias response up by. Root's own chosen name only matters when a
// node is encoded as another node's child (see encodeValuesAndChildren,
// which keys by child.Alias instead).
func EncodeAggregations(adapter Adapter, nodes map[string]Node) (dsl.Aggregations, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	aliases := make([]string, 0, len(nodes))
	for alias := range nodes {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases) // deterministic request body across identical plans

	out := make(dsl.Aggregations, len(nodes))
	for _, alias := range aliases {
		node := nodes[alias]
		_, agg, err := adapter.Root(node)
		if err != nil {
			return nil, fmt.Errorf("aggregation: encoding %q: %w", alias, err)
		}
		if node.Path != "" {
			filter := dsl.MatchAllQuery()
			if node.Filter != nil {
				filter = *node.Filter
			}
			agg = WrapForNestedPath(node.Path, agg, filter)
		}
		out[alias] = agg
	}
	return out, nil
}

// metricAggName returns the wire aggregation name for one value computation,
// stable for logging and decode lookups (§4.4 "alias derived from its
// originating GraphQL field alias, stable for logging").
func metricAggName(v ValueComputation) string { return v.Alias }

// encodeUngrouped builds the aggregation request for a node with no
// groupings: just the value computations, as sub-aggregations of an
// aggregation that has no kind of its own. With no value computations
// either, the result is an empty aggregation.
func encodeUngrouped(node Node) dsl.Aggregation {
	agg := dsl.Aggregation{}
	aggs := dsl.Aggregations{}
	for _, v := range node.Values {
		aggs[metricAggName(v)] = encodeValueComputation(v)
	}
	if len(aggs) > 0 {
		agg.Aggs = aggs
	}
	return agg
}

func encodeValueComputation(v ValueComputation) dsl.Aggregation {
	switch v.Kind {
	case ValueSum:
		return dsl.Aggregation{Sum: &dsl.MetricAgg{Field: v.Field}}
	case ValueAvg:
		return dsl.Aggregation{Avg: &dsl.MetricAgg{Field: v.Field}}
	case ValueMin:
		return dsl.Aggregation{Min: &dsl.MetricAgg{Field: v.Field}}
	case ValueMax:
		return dsl.Aggregation{Max: &dsl.MetricAgg{Field: v.Field}}
	case ValueDistinctCount:
		return dsl.Aggregation{Cardinality: &dsl.MetricAgg{Field: v.Field}}
	}
	return dsl.Aggregation{}
}

// encodeValuesAndChildren encodes a node's value computations and child
// sub-aggregations into one Aggs map, wrapping children whose Path is
// non-empty in the nested->filter scaffolding and rejecting nesting that the
// adapter says it cannot support.
func encodeValuesAndChildren(node Node, adapter Adapter) (dsl.Aggregations, error) {
	aggs := dsl.Aggregations{}
	for _, v := range node.Values {
		aggs[metricAggName(v)] = encodeValueComputation(v)
	}
	for _, child := range node.Children {
		if len(child.Groupings) > 0 {
			parentKind := "composite"
			if _, ok := adapter.(CompositeAdapter); !ok {
				parentKind = "terms"
				if node.Groupings[len(node.Groupings)-1].Kind == GroupingDateHistogram {
					parentKind = "date_histogram"
				}
			}
			if child.Path != "" {
				parentKind = "filter" // WrapForNestedPath's filter sits directly above the child
			}
			if !adapter.SupportsNestingUnder(parentKind) {
				return nil, &NestingError{Msg: fmt.Sprintf("composite cannot be used with parent aggregation of type %s", parentKind)}
			}
		}
		childAgg, err := adapter.EncodeRequest(child)
		if err != nil {
			return nil, err
		}
		if child.Path != "" {
			filter := dsl.MatchAllQuery()
			if child.Filter != nil {
				filter = *child.Filter
			}
			childAgg = WrapForNestedPath(child.Path, childAgg, filter)
		}
		aggs[child.Alias] = childAgg
	}
	return aggs, nil
}

// decodeMetricValues reads node's value computations back out of a raw
// bucket's sibling keys.
func decodeMetricValues(node Node, rawBucket map[string]json.RawMessage) map[string]float64 {
	if len(node.Values) == 0 {
		return nil
	}
	out := make(map[string]float64, len(node.Values))
	for _, v := range node.Values {
		raw, ok := rawBucket[metricAggName(v)]
		if !ok {
			continue
		}
		var metric struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal(raw, &metric); err == nil && metric.Value != nil {
			out[v.Alias] = *metric.Value
		}
	}
	return out
}

// decodeChildBuckets decodes each child sub-aggregation under rawBucket,
// unwrapping the nested->filter scaffolding when the child used one.
func decodeChildBuckets(node Node, rawBucket map[string]json.RawMessage, adapter Adapter) ([]Bucket, error) {
	if len(node.Children) == 0 {
		return nil, nil
	}
	var result []Bucket
	for _, child := range node.Children {
		raw, ok := rawBucket[child.Alias]
		if !ok {
			continue
		}
		effectiveRaw := raw
		if child.Path != "" {
			var nestedDoc map[string]json.RawMessage
			if err := json.Unmarshal(raw, &nestedDoc); err == nil {
				if inner, ok := UnwrapNestedPath(nestedDoc); ok {
					reserialized, _ := json.Marshal(inner)
					effectiveRaw = reserialized
				}
			}
		}
		decoded, err := adapter.DecodeResponse(child, effectiveRaw, -1)
		if err != nil {
			return nil, err
		}
		result = append(result, decoded.Buckets...)
	}
	return result, nil
}
