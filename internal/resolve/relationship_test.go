package resolve

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlayer/gqlengine/internal/filter"
	"github.com/searchlayer/gqlengine/internal/schema"
)

func TestCompileAdditionalFilter_CompilesAgainstTargetType(t *testing.T) {
	view := schema.NewView([]schema.Type{
		{Name: "Widget", Fields: map[string]schema.Field{"cost": {Name: "cost", NameInIndex: "cost"}}},
	}, nil)
	compiler := filter.NewCompiler(view, nil)

	rel := schema.Relationship{
		FieldPath:        "dollar_widget",
		Direction:        schema.DirectionOut,
		AdditionalFilter: map[string]interface{}{"cost": map[string]interface{}{"equal_to_any_of": []interface{}{1}}},
	}

	compiled, err := CompileAdditionalFilter(compiler, "Widget", rel)
	require.NoError(t, err)
	require.NotNil(t, compiled)
}

func TestCompileAdditionalFilter_NilWhenNoFilter(t *testing.T) {
	compiled, err := CompileAdditionalFilter(nil, "Widget", schema.Relationship{})
	require.NoError(t, err)
	assert.Nil(t, compiled)
}

func TestPlanRelationshipQuery_OutDirectionRoutesOnIds(t *testing.T) {
	rel := schema.Relationship{FieldPath: "component_ids", Direction: schema.DirectionOut, Cardinality: schema.CardinalityMany}
	idx := schema.IndexDefinition{LogicalName: "components", IndexPattern: "components", QueryCluster: "primary"}

	plan, err := PlanRelationshipQuery(rel, idx, []interface{}{"c1", "c2"}, nil)
	require.NoError(t, err)
	assert.True(t, plan.Routed)
	assert.Equal(t, []interface{}{"c1", "c2"}, plan.RoutingValues)
	require.NotNil(t, plan.Query.Terms)
	assert.Equal(t, "id", plan.Query.Terms.Field)
}

func TestPlanRelationshipQuery_InDirectionCannotRoute(t *testing.T) {
	rel := schema.Relationship{FieldPath: "widget_id", Direction: schema.DirectionIn, Cardinality: schema.CardinalityMany}
	idx := schema.IndexDefinition{LogicalName: "components", IndexPattern: "components", QueryCluster: "primary"}

	plan, err := PlanRelationshipQuery(rel, idx, []interface{}{"w1"}, nil)
	require.NoError(t, err)
	assert.False(t, plan.Routed)
	require.NotNil(t, plan.Query.Terms)
	assert.Equal(t, "widget_id", plan.Query.Terms.Field)
}

func TestPlanRelationshipQuery_EmptyFKValuesShortCircuits(t *testing.T) {
	rel := schema.Relationship{Direction: schema.DirectionOut}
	idx := schema.IndexDefinition{LogicalName: "components", QueryCluster: "primary"}

	plan, err := PlanRelationshipQuery(rel, idx, nil, nil)
	require.NoError(t, err)
	assert.True(t, plan.ShortCircuit())
}

func TestDecodeHits_FiltersStubDocumentsBySelfSentinel(t *testing.T) {
	raw := json.RawMessage(`{
		"hits": {"hits": [
			{"_source": {"__self": "widget", "id": "1"}},
			{"_source": {"__self": "component", "id": "2"}}
		]}
	}`)

	docs, err := DecodeHits(raw, "widget")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	var id string
	_ = json.Unmarshal(docs[0].Source["id"], &id)
	assert.Equal(t, "1", id)
}

func TestDecodeEdgeGroups_DecodesEachGroupIndependently(t *testing.T) {
	responses := []EdgeGroupResponse{
		{Raw: json.RawMessage(`{"hits":{"hits":[{"_source":{"id":"1"}}]}}`)},
		{Raw: json.RawMessage(`{"hits":{"hits":[{"_source":{"id":"2"}},{"_source":{"id":"3"}}]}}`)},
	}

	results, err := DecodeEdgeGroups(context.Background(), responses, 4)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results[0], 1)
	assert.Len(t, results[1], 2)
}

func TestGroupByFK_PartitionsDocumentsByFieldValue(t *testing.T) {
	docs := []Document{
		{Source: map[string]json.RawMessage{"widget_id": json.RawMessage(`"w1"`)}},
		{Source: map[string]json.RawMessage{"widget_id": json.RawMessage(`"w1"`)}},
		{Source: map[string]json.RawMessage{"widget_id": json.RawMessage(`"w2"`)}},
	}
	grouped := GroupByFK(docs, "widget_id")
	assert.Len(t, grouped["w1"], 2)
	assert.Len(t, grouped["w2"], 1)
}
