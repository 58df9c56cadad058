package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlayer/gqlengine/internal/aggregation"
)

func TestBuildAggregationConnection_UngroupedSingletonCursor(t *testing.T) {
	node := aggregation.Node{}
	decoded := aggregation.DecodeResult{Buckets: []aggregation.Bucket{{DocCount: 5}}}

	conn, err := BuildAggregationConnection(node, decoded, 10)
	require.NoError(t, err)
	require.Len(t, conn.Edges, 1)
	assert.Equal(t, aggregation.SINGLETONCursor, conn.Edges[0].Cursor)
	assert.False(t, conn.PageInfo.HasNextPage)
}

func TestBuildAggregationConnection_UngroupedFirstZeroIsEmpty(t *testing.T) {
	node := aggregation.Node{}
	decoded := aggregation.DecodeResult{Buckets: []aggregation.Bucket{{DocCount: 5}}}

	conn, err := BuildAggregationConnection(node, decoded, 0)
	require.NoError(t, err)
	assert.Empty(t, conn.Edges)
	assert.Nil(t, conn.PageInfo.StartCursor)
	assert.Nil(t, conn.PageInfo.EndCursor)
}

func TestBuildAggregationConnection_NegativeFirstIsValidationError(t *testing.T) {
	node := aggregation.Node{Groupings: []aggregation.Grouping{{Alias: "tag"}}}
	_, err := BuildAggregationConnection(node, aggregation.DecodeResult{}, -1)
	require.Error(t, err)
	assert.IsType(t, ErrNegativeFirst{}, err)
}

func TestBuildAggregationConnection_GroupedCursorRoundTrips(t *testing.T) {
	node := aggregation.Node{Groupings: []aggregation.Grouping{{Alias: "tag"}}}
	decoded := aggregation.DecodeResult{
		Buckets: []aggregation.Bucket{
			{Key: []aggregation.KeyPart{{Alias: "tag", Value: "blue"}}, DocCount: 3},
		},
		HasNextPage: true,
	}

	conn, err := BuildAggregationConnection(node, decoded, 10)
	require.NoError(t, err)
	require.Len(t, conn.Edges, 1)
	assert.True(t, conn.PageInfo.HasNextPage)

	key, err := DecodeGroupedCursor(conn.Edges[0].Cursor)
	require.NoError(t, err)
	require.Len(t, key, 1)
	assert.Equal(t, "tag", key[0].Alias)
	assert.Equal(t, "blue", key[0].Value)
}

func TestDecodeGroupedCursor_MalformedEchoesValue(t *testing.T) {
	_, err := DecodeGroupedCursor("not-valid-base64!!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-valid-base64!!!")
}
