package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHiddenTypeGate_HidesUnreachableIndexAndTransitiveReferences(t *testing.T) {
	view := NewView([]Type{
		{
			Name: "Manufacturer",
			Kind: KindObject,
			Fields: map[string]Field{
				"name":    {Name: "name", Type: "String"},
				"address": {Name: "address", Type: "Address"},
			},
			Index: "manufacturers",
		},
		{
			Name:  "Address",
			Kind:  KindObject,
			Fields: map[string]Field{
				"street": {Name: "street", Type: "String"},
			},
			Index: "addresses",
		},
		{
			Name: "AddressConnection",
			Kind: KindObject,
			Fields: map[string]Field{
				"edges": {Name: "edges", Type: "AddressEdge"},
			},
		},
	}, []IndexDefinition{
		{LogicalName: "manufacturers", IndexPattern: "manufacturers", QueryCluster: "primary"},
		{LogicalName: "addresses", IndexPattern: "addresses", QueryCluster: ""},
	})

	gate := NewHiddenTypeGate(view)
	hidden := gate.HiddenTypes()

	require.True(t, hidden["Address"])
	assert.True(t, hidden["AddressConnection"], "derived connection type must hide transitively")
	assert.False(t, hidden["Manufacturer"], "manufacturer itself stays visible")
	assert.False(t, gate.FieldVisible("Manufacturer", "address", hidden))
	assert.True(t, gate.FieldVisible("Manufacturer", "name", hidden))
}

func TestHiddenTypeGate_ReachableIndexStaysVisible(t *testing.T) {
	view := NewView([]Type{
		{Name: "Widget", Kind: KindObject, Fields: map[string]Field{"name": {Name: "name", Type: "String"}}, Index: "widgets"},
	}, []IndexDefinition{
		{LogicalName: "widgets", IndexPattern: "widgets", QueryCluster: "primary"},
	})

	hidden := NewHiddenTypeGate(view).HiddenTypes()
	assert.False(t, hidden["Widget"])
}
