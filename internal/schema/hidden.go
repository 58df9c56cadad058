package schema

import "strings"

// derivedSuffixes are the type-name suffixes the schema projection layer
// generates off of a base indexed type; hiding must propagate through all
// of them, not just the base type itself.
var derivedSuffixes = []string{
	"Connection", "Edge", "Aggregation", "AggregationConnection",
	"AggregationEdge", "GroupedBy", "AggregatedValues", "FilterInput",
}

// HiddenTypeGate computes, at schema-projection time, the set of types that
// must be hidden because every index backing them is unreachable, and hides
// them transitively through derived and wrapper types.
type HiddenTypeGate struct {
	view *View
}

// NewHiddenTypeGate builds a gate over view.
func NewHiddenTypeGate(view *View) *HiddenTypeGate {
	return &HiddenTypeGate{view: view}
}

// baseTypeName strips a known derived suffix, returning the base type name
// and whether a suffix was found.
func baseTypeName(name string) (string, bool) {
	for _, suf := range derivedSuffixes {
		if strings.HasSuffix(name, suf) && len(name) > len(suf) {
			return strings.TrimSuffix(name, suf), true
		}
	}
	return name, false
}

// HiddenTypes returns the set of type names (including derived and wrapper
// names) that must not appear in the projected schema.
func (g *HiddenTypeGate) HiddenTypes() map[string]bool {
	hidden := map[string]bool{}

	// Seed: base indexed types whose every backing index is unreachable.
	for name, t := range g.view.Types {
		if t.Index == "" {
			continue
		}
		idx, ok := g.view.Indexes[t.Index]
		if !ok || !idx.Reachable() {
			hidden[name] = true
		}
	}

	// Propagate to derived type names for anything already hidden.
	for name := range hidden {
		for _, suf := range derivedSuffixes {
			hidden[name+suf] = true
		}
	}

	// Fixed point: hide any object/interface type all of whose fields
	// return a hidden type (direct or listed), and any type deriving from
	// such a wrapper, until nothing new is added.
	for {
		changed := false
		for name, t := range g.view.Types {
			if hidden[name] {
				continue
			}
			if t.Kind != KindObject && t.Kind != KindInterface {
				continue
			}
			if len(t.Fields) == 0 {
				continue
			}
			allHidden := true
			for _, f := range t.Fields {
				base, isDerived := baseTypeName(f.Type)
				if isDerived {
					if !hidden[f.Type] && !hidden[base] {
						allHidden = false
						break
					}
					continue
				}
				if !hidden[f.Type] {
					allHidden = false
					break
				}
			}
			if allHidden {
				hidden[name] = true
				for _, suf := range derivedSuffixes {
					hidden[name+suf] = true
				}
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return hidden
}

// FieldVisible reports whether fieldName on typeName survives the gate: the
// field's own return type (stripped of list/derived wrapping) must not be
// hidden.
func (g *HiddenTypeGate) FieldVisible(typeName, fieldName string, hidden map[string]bool) bool {
	t, ok := g.view.Types[typeName]
	if !ok {
		return false
	}
	f, ok := t.Fields[fieldName]
	if !ok {
		return false
	}
	if hidden[f.Type] {
		return false
	}
	if base, isDerived := baseTypeName(f.Type); isDerived && hidden[base] {
		return false
	}
	return true
}

// VisibleTypeNames returns the names of types that survive the gate, sorted
// is not guaranteed; callers needing determinism should sort the result.
func (g *HiddenTypeGate) VisibleTypeNames() []string {
	hidden := g.HiddenTypes()
	var out []string
	for name := range g.view.Types {
		if !hidden[name] {
			out = append(out, name)
		}
	}
	return out
}
