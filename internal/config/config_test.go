package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlayer/gqlengine/internal/schema"
)

func TestNew_AppliesDefaults(t *testing.T) {
	c := New()
	assert.EqualValues(t, 30000, c.TimeoutInMs)
	assert.Equal(t, GroupingAdapterNonComposite, c.SubAggregationGroupingAdapter)
	require.NoError(t, c.Validate())
}

func TestWithIndexDefinition_SetsLogicalNameFromKey(t *testing.T) {
	c := New(WithIndexDefinition("widgets", schema.IndexDefinition{IndexPattern: "widgets-*", QueryCluster: "primary"}))
	def, ok := c.IndexDefinitions["widgets"]
	require.True(t, ok)
	assert.Equal(t, "widgets", def.LogicalName)
}

func TestValidate_RejectsDefaultPageSizeAboveMax(t *testing.T) {
	c := New(WithPageSizes(100, 10))
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsNonPositiveTimeout(t *testing.T) {
	c := New(WithTimeout(0))
	assert.Error(t, c.Validate())
}
