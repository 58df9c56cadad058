package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonCompositeAdapter_EncodeRequest_TermGrouping(t *testing.T) {
	a := NonCompositeAdapter{}
	node := Node{Groupings: []Grouping{{Kind: GroupingTerm, Field: "tag", Alias: "tag", IncludeMissingBucket: true}}}
	agg, err := a.EncodeRequest(node)
	require.NoError(t, err)
	require.NotNil(t, agg.Terms)
	assert.Equal(t, "tag", agg.Terms.Field)
	assert.Equal(t, missingValueSentinel, agg.Terms.Missing)
}

func TestNonCompositeAdapter_DecodeResponse_SortsByCountDescKeyAsc(t *testing.T) {
	a := NonCompositeAdapter{}
	node := Node{Groupings: []Grouping{{Kind: GroupingTerm, Field: "tag", Alias: "tag"}}}
	raw := []byte(`{
		"buckets": [
			{"key": "blue", "doc_count": 5},
			{"key": "red", "doc_count": 10},
			{"key": "green", "doc_count": 10}
		]
	}`)
	result, err := a.DecodeResponse(node, raw, -1)
	require.NoError(t, err)
	require.Len(t, result.Buckets, 3)
	assert.Equal(t, "green", result.Buckets[0].Key[0].Value)
	assert.Equal(t, "red", result.Buckets[1].Key[0].Value)
	assert.Equal(t, "blue", result.Buckets[2].Key[0].Value)
}

func TestNonCompositeAdapter_DecodeResponse_MissingBucketOnlyWhenNonZero(t *testing.T) {
	a := NonCompositeAdapter{}
	node := Node{Groupings: []Grouping{{Kind: GroupingTerm, Field: "tag", Alias: "tag", IncludeMissingBucket: true}}}

	rawZero := []byte(`{"buckets": [
		{"key": "blue", "doc_count": 5},
		{"key": "__missing_value__", "doc_count": 0}
	]}`)
	result, err := a.DecodeResponse(node, rawZero, -1)
	require.NoError(t, err)
	assert.Len(t, result.Buckets, 1)

	rawNonZero := []byte(`{"buckets": [
		{"key": "blue", "doc_count": 5},
		{"key": "__missing_value__", "doc_count": 2}
	]}`)
	result, err = a.DecodeResponse(node, rawNonZero, -1)
	require.NoError(t, err)
	require.Len(t, result.Buckets, 2)
	var sawNilKey bool
	for _, b := range result.Buckets {
		if b.Key[0].Value == nil {
			sawNilKey = true
			assert.EqualValues(t, 2, b.DocCount)
		}
	}
	assert.True(t, sawNilKey)
}

func TestNonCompositeAdapter_DecodeResponse_TruncatesToFirst(t *testing.T) {
	a := NonCompositeAdapter{}
	node := Node{Groupings: []Grouping{{Kind: GroupingTerm, Field: "tag", Alias: "tag"}}}
	raw := []byte(`{"buckets": [
		{"key": "a", "doc_count": 3},
		{"key": "b", "doc_count": 2},
		{"key": "c", "doc_count": 1}
	]}`)
	result, err := a.DecodeResponse(node, raw, 2)
	require.NoError(t, err)
	assert.Len(t, result.Buckets, 2)
	assert.True(t, result.HasNextPage)
}

func TestCountDetailForGrouping_TermGroupingHasNoExactValue(t *testing.T) {
	detail := CountDetailForGrouping([]Grouping{{Kind: GroupingTerm}}, 100, 5)
	assert.Nil(t, detail.ExactValue)
	assert.EqualValues(t, 100, detail.ApproximateValue)
	assert.EqualValues(t, 105, detail.UpperBound)
}

func TestCountDetailForGrouping_DateOnlyIsExact(t *testing.T) {
	detail := CountDetailForGrouping([]Grouping{{Kind: GroupingDateHistogram}}, 42, 0)
	require.NotNil(t, detail.ExactValue)
	assert.EqualValues(t, 42, *detail.ExactValue)
	assert.EqualValues(t, 42, detail.ApproximateValue)
	assert.EqualValues(t, 42, detail.UpperBound)
}
