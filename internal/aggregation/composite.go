package aggregation

import (
	"encoding/json"
	"fmt"

	"github.com/searchlayer/gqlengine/internal/dsl"
)

// CompositeAdapter encodes every grouping of a node as a single `composite`
// aggregation, preserving source order, and decodes the lexicographically
// ordered bucket list the datastore returns (§4.3).
type CompositeAdapter struct {
	// PageSize bounds how many composite buckets are requested per page;
	// decoding still truncates to the caller's `first` afterward.
	PageSize int
}

// compositeIncompatibleParents lists the parent aggregation kinds a
// composite aggregation is known not to nest cleanly under on older
// datastore versions (§4.3's documented limitation).
var compositeIncompatibleParents = map[string]bool{
	"composite": true,
	"filter":    true,
}

func (a CompositeAdapter) SupportsNestingUnder(parentKind string) bool {
	return !compositeIncompatibleParents[parentKind]
}

func (a CompositeAdapter) EncodeRequest(node Node) (dsl.Aggregation, error) {
	if len(node.Groupings) == 0 {
		return encodeUngrouped(node), nil
	}

	sources := make([]dsl.CompositeSource, 0, len(node.Groupings))
	for _, g := range node.Groupings {
		switch g.Kind {
		case GroupingTerm:
			sources = append(sources, dsl.CompositeSource{
				Name:  g.Alias,
				Terms: &dsl.TermsAgg{Field: g.Field},
			})
		case GroupingDateHistogram:
			sources = append(sources, dsl.CompositeSource{
				Name: g.Alias,
				DateHistogram: &dsl.DateHistogramAgg{
					Field:            g.Field,
					CalendarInterval: calendarInterval(g.Truncation),
					TimeZone:         g.TimeZone,
					Offset:           formatOffset(g.OffsetAmount, g.OffsetUnit),
				},
			})
		}
	}

	pageSize := a.PageSize
	if pageSize == 0 {
		pageSize = 1000
	}

	agg := dsl.Aggregation{
		Composite: &dsl.CompositeAgg{Sources: sources, Size: pageSize},
	}

	childAggs, err := encodeValuesAndChildren(node, a)
	if err != nil {
		return dsl.Aggregation{}, err
	}
	agg.Aggs = childAggs

	return agg, nil
}

// Root wraps the top-level composite aggregation under its node alias,
// matching NonCompositeAdapter.Root's contract so EncodeAggregations can
// treat either adapter uniformly.
func (a CompositeAdapter) Root(node Node) (string, dsl.Aggregation, error) {
	agg, err := a.EncodeRequest(node)
	return node.Alias, agg, err
}

func (a CompositeAdapter) DecodeResponse(node Node, raw json.RawMessage, first int) (DecodeResult, error) {
	// Decode buckets generically so sibling metric/child aggregation keys
	// are preserved alongside key/doc_count.
	var generic struct {
		Buckets  []map[string]json.RawMessage `json:"buckets"`
		AfterKey map[string]interface{}       `json:"after_key"`
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return DecodeResult{}, fmt.Errorf("aggregation: decoding composite response: %w", err)
	}

	result := DecodeResult{}
	for _, rawBucket := range generic.Buckets {
		var keyDoc struct {
			Key      map[string]interface{} `json:"key"`
			DocCount int64                   `json:"doc_count"`
		}
		keyBytes, ok := rawBucket["key"]
		if ok {
			_ = json.Unmarshal(keyBytes, &keyDoc.Key)
		}
		if v, ok := rawBucket["doc_count"]; ok {
			_ = json.Unmarshal(v, &keyDoc.DocCount)
		}

		bucket := Bucket{DocCount: keyDoc.DocCount, AfterKey: keyDoc.Key}
		for _, g := range node.Groupings {
			bucket.Key = append(bucket.Key, KeyPart{Alias: g.Alias, Value: keyDoc.Key[g.Alias]})
		}
		bucket.CountDetail = CountDetailForGrouping(node.Groupings, keyDoc.DocCount, 0)
		bucket.Values = decodeMetricValues(node, rawBucket)

		children, err := decodeChildBuckets(node, rawBucket, a)
		if err != nil {
			return DecodeResult{}, err
		}
		bucket.Children = children

		result.Buckets = append(result.Buckets, bucket)
	}

	result.HasNextPage = len(generic.AfterKey) > 0
	if first >= 0 && len(result.Buckets) > first {
		result.Buckets = result.Buckets[:first]
		result.HasNextPage = true
	}
	return result, nil
}

func calendarInterval(unit TruncationUnit) string {
	switch unit {
	case TruncationHour:
		return "hour"
	case TruncationDay:
		return "day"
	case TruncationWeek:
		return "week"
	case TruncationMonth:
		return "month"
	case TruncationYear:
		return "year"
	default:
		return "day"
	}
}

func formatOffset(amount int, unit string) string {
	if amount == 0 {
		return ""
	}
	sign := "+"
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d%s", sign, amount, unit)
}
