package aggregation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/searchlayer/gqlengine/internal/dsl"
)

// missingValueSentinel is the stable marker value assigned, via the terms
// aggregation's own `missing` parameter, to documents lacking the grouped
// field — folding them into a single synthetic bucket keyed by this
// sentinel rather than a separate sibling aggregation (§4.3: "a sibling
// 'missing value' bucket is emitted with a stable suffix").
const missingValueSentinel = "__missing_value__"

// NonCompositeAdapter encodes groupings as nested `terms`/`date_histogram`
// aggregations (one level of nesting per grouping, supporting arbitrary
// interleavings of term and date groupings), decodes the nested bucket
// tree, flattens it, and sorts/truncates locally (§4.3).
type NonCompositeAdapter struct {
	// TermsSize bounds how many term buckets are requested per level before
	// local sort+truncate; should be >= the largest first:N ever requested
	// for correct results.
	TermsSize int
}

func (a NonCompositeAdapter) SupportsNestingUnder(parentKind string) bool { return true }

func (a NonCompositeAdapter) EncodeRequest(node Node) (dsl.Aggregation, error) {
	if len(node.Groupings) == 0 {
		return encodeUngrouped(node), nil
	}
	return a.encodeGroupingLevel(node, 0)
}

func (a NonCompositeAdapter) encodeGroupingLevel(node Node, level int) (dsl.Aggregation, error) {
	g := node.Groupings[level]
	size := a.TermsSize
	if size == 0 {
		size = 1000
	}

	var agg dsl.Aggregation
	switch g.Kind {
	case GroupingTerm:
		terms := &dsl.TermsAgg{Field: g.Field, Size: size}
		if g.IncludeMissingBucket {
			terms.Missing = missingValueSentinel
		}
		agg = dsl.Aggregation{Terms: terms}
	case GroupingDateHistogram:
		agg = dsl.Aggregation{DateHistogram: &dsl.DateHistogramAgg{
			Field:            g.Field,
			CalendarInterval: calendarInterval(g.Truncation),
			TimeZone:         g.TimeZone,
			Offset:           formatOffset(g.OffsetAmount, g.OffsetUnit),
			MinDocCount:      0,
		}}
	default:
		return dsl.Aggregation{}, fmt.Errorf("aggregation: unknown grouping kind for %q", g.Alias)
	}

	var sub dsl.Aggregations
	var err error
	if level+1 < len(node.Groupings) {
		inner, ierr := a.encodeGroupingLevel(node, level+1)
		if ierr != nil {
			return dsl.Aggregation{}, ierr
		}
		sub = dsl.Aggregations{node.Groupings[level+1].Alias: inner}
	} else {
		sub, err = encodeValuesAndChildren(node, a)
		if err != nil {
			return dsl.Aggregation{}, err
		}
	}
	agg.Aggs = sub
	return agg, nil
}

// Root wraps the top-level grouping aggregation under its alias name, since
// EncodeRequest's caller (the optimizer/dispatcher boundary) needs a named
// top-level key to place under the msearch body's "aggs" object.
func (a NonCompositeAdapter) Root(node Node) (string, dsl.Aggregation, error) {
	if len(node.Groupings) == 0 {
		return node.Alias, encodeUngrouped(node), nil
	}
	agg, err := a.EncodeRequest(node)
	return node.Groupings[0].Alias, agg, err
}

// DecodeResponse takes raw as this node's own top grouping aggregation
// response (e.g. the terms-aggregation body {"buckets": [...]}), matching
// exactly what a parent node finds at rawBucket[child.Alias] — so the root
// call and every nested child decode share one convention with no extra
// indirection.
func (a NonCompositeAdapter) DecodeResponse(node Node, raw json.RawMessage, first int) (DecodeResult, error) {
	if len(node.Groupings) == 0 {
		var rawBucket map[string]json.RawMessage
		_ = json.Unmarshal(raw, &rawBucket)
		bucket := Bucket{DocCount: 0, Values: decodeMetricValues(node, rawBucket)}
		bucket.CountDetail = CountDetailForGrouping(nil, 0, 0)
		return DecodeResult{Buckets: []Bucket{bucket}}, nil
	}

	flattened, err := a.flattenLevel(node, 0, raw, nil)
	if err != nil {
		return DecodeResult{}, err
	}

	sortBucketsNonComposite(flattened)

	hasMore := first >= 0 && len(flattened) > first
	if first >= 0 && len(flattened) > first {
		flattened = flattened[:first]
	}
	return DecodeResult{Buckets: flattened, HasNextPage: hasMore}, nil
}

// flattenLevel reads grouping level `level`'s terms/date_histogram response
// out of levelRaw, threading the accumulated key prefix down to the leaf
// level, where expandLevel reads off doc_count/values/children.
func (a NonCompositeAdapter) flattenLevel(node Node, level int, levelRaw json.RawMessage, prefix []KeyPart) ([]Bucket, error) {
	g := node.Groupings[level]

	var wire struct {
		Buckets []map[string]json.RawMessage `json:"buckets"`
	}
	if err := json.Unmarshal(levelRaw, &wire); err != nil {
		return nil, fmt.Errorf("aggregation: decoding non-composite level %q: %w", g.Alias, err)
	}

	var out []Bucket
	for _, rawBucket := range wire.Buckets {
		var meta struct {
			Key      interface{} `json:"key"`
			KeyAsStr string      `json:"key_as_string"`
			DocCount int64       `json:"doc_count"`
		}
		if kb, ok := rawBucket["key"]; ok {
			_ = json.Unmarshal(kb, &meta.Key)
		}
		if kb, ok := rawBucket["key_as_string"]; ok {
			_ = json.Unmarshal(kb, &meta.KeyAsStr)
		}
		if db, ok := rawBucket["doc_count"]; ok {
			_ = json.Unmarshal(db, &meta.DocCount)
		}

		value := meta.Key
		if g.Kind == GroupingDateHistogram && meta.KeyAsStr != "" {
			value = meta.KeyAsStr
		}
		if g.IncludeMissingBucket && g.Kind == GroupingTerm && value == missingValueSentinel {
			if meta.DocCount == 0 {
				continue // §4.3: missing-value bucket only surfaces when its doc count > 0
			}
			value = nil
		}
		keyPrefix := append(append([]KeyPart{}, prefix...), KeyPart{Alias: g.Alias, Value: value})

		buckets, err := a.expandLevel(node, level, rawBucket, keyPrefix)
		if err != nil {
			return nil, err
		}
		out = append(out, buckets...)
	}

	return out, nil
}

func (a NonCompositeAdapter) expandLevel(node Node, level int, rawBucket map[string]json.RawMessage, keyPrefix []KeyPart) ([]Bucket, error) {
	if level+1 < len(node.Groupings) {
		nextAlias := node.Groupings[level+1].Alias
		nextRaw, ok := rawBucket[nextAlias]
		if !ok {
			return nil, nil
		}
		return a.flattenLevel(node, level+1, nextRaw, keyPrefix)
	}

	var docCount int64
	if db, ok := rawBucket["doc_count"]; ok {
		_ = json.Unmarshal(db, &docCount)
	}

	bucket := Bucket{
		Key:         keyPrefix,
		DocCount:    docCount,
		CountDetail: CountDetailForGrouping(node.Groupings, docCount, 0),
		Values:      decodeMetricValues(node, rawBucket),
	}
	children, err := decodeChildBuckets(node, rawBucket, a)
	if err != nil {
		return nil, err
	}
	bucket.Children = children
	return []Bucket{bucket}, nil
}

// sortBucketsNonComposite sorts by doc count descending, key ascending with
// null-aware comparison (§4.3, §8 testable property).
func sortBucketsNonComposite(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].DocCount != buckets[j].DocCount {
			return buckets[i].DocCount > buckets[j].DocCount
		}
		return compareKeysAscNullFirst(buckets[i].Key, buckets[j].Key) < 0
	})
}

// compareKeysAscNullFirst compares two grouping-key tuples part by part;
// null sorts before any value (§8: "key asc (null < any value)").
func compareKeysAscNullFirst(a, b []KeyPart) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		av, bv := a[i].Value, b[i].Value
		if av == nil && bv == nil {
			continue
		}
		if av == nil {
			return -1
		}
		if bv == nil {
			return 1
		}
		as, bs := fmt.Sprintf("%v", av), fmt.Sprintf("%v", bv)
		if as != bs {
			if as < bs {
				return -1
			}
			return 1
		}
	}
	return 0
}
