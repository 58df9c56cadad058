package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlayer/gqlengine/internal/schema"
)

func widgetView() *schema.View {
	return schema.NewView([]schema.Type{
		{
			Name: "Widget",
			Kind: schema.KindObject,
			Fields: map[string]schema.Field{
				"workspace_id": {Name: "workspace_id", Type: "String", IsRoutingField: true},
				"name":         {Name: "name", Type: "String"},
				"cost":         {Name: "cost", Type: "Int"},
				"created_at":   {Name: "created_at", Type: "DateTime", IsRolloverTimeField: true},
				"tags":         {Name: "tags", Type: "String", List: true},
			},
			Index: "widgets",
		},
	}, []schema.IndexDefinition{
		{LogicalName: "widgets", IndexPattern: "widgets_rollover__*", QueryCluster: "primary",
			RoutingField: "workspace_id",
			Rollover:     &schema.Rollover{Granularity: schema.RolloverMonthly, TimeField: "created_at"}},
	})
}

func TestCompile_DropsTrueValuedKeys(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"name": nil,
		"cost": map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.True(t, res.Query.IsMatchAll())
}

func TestCompile_NotOnFalseYieldsTrue(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"name": map[string]interface{}{
			"not": map[string]interface{}{
				"equal_to_any_of": []interface{}{},
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Query.IsMatchAll())
}

func TestCompile_AnyOfEmptyIsFalse(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"any_of": []interface{}{},
	})
	require.NoError(t, err)
	assert.True(t, res.Query.IsMatchNone())
}

func TestCompile_AllOfEmptyIsTrue(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"all_of": []interface{}{},
	})
	require.NoError(t, err)
	assert.True(t, res.Query.IsMatchAll())
}

func TestCompile_EqualToAnyOfWithNullMatchesFieldAbsent(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"name": map[string]interface{}{
			"equal_to_any_of": []interface{}{nil, "Acme"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Query.Bool)
	require.Len(t, res.Query.Bool.Should, 2)
}

func TestCompile_RoutingFieldExposesValues(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"workspace_id": map[string]interface{}{
			"equal_to_any_of": []interface{}{"ws-1", "ws-2"},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Routed)
	assert.Equal(t, []interface{}{"ws-1", "ws-2"}, res.RoutingValues)
}

func TestCompile_EmptyRoutingValuesShortCircuitsQuery(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"workspace_id": map[string]interface{}{
			"equal_to_any_of": []interface{}{},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Routed)
	assert.Empty(t, res.RoutingValues)
	assert.True(t, res.Query.IsMatchNone())
}

func TestCompile_CountOnListField(t *testing.T) {
	c := NewCompiler(widgetView(), nil)
	res, err := c.Compile("Widget", map[string]interface{}{
		"tags": map[string]interface{}{
			"count": map[string]interface{}{"lt": 1},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Query.Range)
	assert.Equal(t, "tags_count", res.Query.Range.Field)
}

func TestValidateAnySatisfyShape_RejectsNot(t *testing.T) {
	err := validateAnySatisfyShape(map[string]interface{}{
		"not": map[string]interface{}{"equal_to_any_of": []interface{}{"x"}},
	})
	require.Error(t, err)
}

func TestValidateAnySatisfyShape_RejectsNullOnlyEqualToAnyOf(t *testing.T) {
	err := validateAnySatisfyShape(map[string]interface{}{
		"equal_to_any_of": []interface{}{nil},
	})
	require.Error(t, err)
}

type fakeRolloverLister struct {
	slices []string
}

func (f fakeRolloverLister) SlicesOverlapping(logicalIndex string, from, to *int64) []string {
	return f.slices
}

func TestCompile_RolloverPruningEmptyIntersectionIsFalse(t *testing.T) {
	c := NewCompiler(widgetView(), fakeRolloverLister{slices: nil})
	res, err := c.Compile("Widget", map[string]interface{}{
		"created_at": map[string]interface{}{"gte": int64(1000), "lt": int64(2000)},
	})
	require.NoError(t, err)
	assert.True(t, res.RolloverEmptied)
	assert.True(t, res.Query.IsMatchNone())
}

func TestCompile_RolloverPruningReturnsOverlappingSlices(t *testing.T) {
	c := NewCompiler(widgetView(), fakeRolloverLister{slices: []string{"widgets_rollover__2022-11"}})
	res, err := c.Compile("Widget", map[string]interface{}{
		"created_at": map[string]interface{}{"gte": int64(1000)},
	})
	require.NoError(t, err)
	assert.False(t, res.RolloverEmptied)
	assert.Equal(t, []string{"widgets_rollover__2022-11"}, res.ConcreteIndices)
}
