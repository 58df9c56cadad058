package resolve

import (
	"encoding/json"
	"fmt"

	"github.com/searchlayer/gqlengine/internal/aggregation"
	"github.com/searchlayer/gqlengine/internal/scalars"
)

// ErrNegativeFirst is a GraphQL validation error for a negative first: N
// (§4.7: "first: N required to be >= 0").
type ErrNegativeFirst struct{ Value int }

func (e ErrNegativeFirst) Error() string {
	return fmt.Sprintf("first must be >= 0, got %d", e.Value)
}

// Edge is one relay edge over an aggregation bucket.
type Edge struct {
	Cursor string
	Node   aggregation.Bucket
}

// PageInfo is the relay page-info object.
type PageInfo struct {
	StartCursor *string
	EndCursor   *string
	HasNextPage bool
}

// AggregationConnection is the `{edges[], nodes[], page_info, total_edge_count?}`
// shape every aggregation connection field returns (§4.7).
type AggregationConnection struct {
	Edges          []Edge
	Nodes          []aggregation.Bucket
	PageInfo       PageInfo
	TotalEdgeCount *int64
}

// cursorPayload is the JSON shape encoded into a grouped bucket's cursor —
// the composite grouping key tuple, so the cursor is stable and
// self-describing (§4.7: "cursor encodes the composite grouping key").
type cursorPayload struct {
	Key []aggregation.KeyPart `json:"key"`
}

// BuildAggregationConnection assembles the relay connection for one
// decoded aggregation.DecodeResult, per §4.7's grouped/ungrouped rules.
func BuildAggregationConnection(node aggregation.Node, decoded aggregation.DecodeResult, first int) (AggregationConnection, error) {
	if first < 0 {
		return AggregationConnection{}, ErrNegativeFirst{Value: first}
	}

	if node.IsUngrouped() {
		if first == 0 {
			return AggregationConnection{PageInfo: PageInfo{HasNextPage: false}}, nil
		}
		bucket := aggregation.Bucket{}
		if len(decoded.Buckets) > 0 {
			bucket = decoded.Buckets[0]
		}
		edge := Edge{Cursor: aggregation.SINGLETONCursor, Node: bucket}
		cursor := aggregation.SINGLETONCursor
		return AggregationConnection{
			Edges:    []Edge{edge},
			Nodes:    []aggregation.Bucket{bucket},
			PageInfo: PageInfo{StartCursor: &cursor, EndCursor: &cursor, HasNextPage: false},
		}, nil
	}

	edges := make([]Edge, 0, len(decoded.Buckets))
	nodes := make([]aggregation.Bucket, 0, len(decoded.Buckets))
	for _, b := range decoded.Buckets {
		cursor, err := encodeGroupedCursor(b.Key)
		if err != nil {
			return AggregationConnection{}, err
		}
		edges = append(edges, Edge{Cursor: cursor, Node: b})
		nodes = append(nodes, b)
	}

	var pageInfo PageInfo
	pageInfo.HasNextPage = decoded.HasNextPage
	if len(edges) > 0 {
		start := edges[0].Cursor
		end := edges[len(edges)-1].Cursor
		pageInfo.StartCursor = &start
		pageInfo.EndCursor = &end
	}

	return AggregationConnection{Edges: edges, Nodes: nodes, PageInfo: pageInfo}, nil
}

func encodeGroupedCursor(key []aggregation.KeyPart) (string, error) {
	payload, err := json.Marshal(cursorPayload{Key: key})
	if err != nil {
		return "", err
	}
	return scalars.EncodeCursor(payload), nil
}

// DecodeGroupedCursor reverses encodeGroupedCursor, used to resolve
// `after`/`before` arguments against a grouped aggregation connection
// (§4.7: "must parse as this system's cursor type; malformed -> GraphQL
// error with a message echoing the offending value").
func DecodeGroupedCursor(cursor string) ([]aggregation.KeyPart, error) {
	raw, err := scalars.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed cursor %q", cursor)
	}
	return payload.Key, nil
}
