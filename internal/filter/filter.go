// Package filter implements the Filter Interpreter: it compiles GraphQL
// filter input trees into internal/dsl query nodes, enforcing the null and
// list semantics of §3/§4.1, and exposes the rollover-pruning and
// shard-routing hooks the DatastoreQuery and Dispatcher depend on.
package filter

import (
	"fmt"
	"sort"

	"github.com/samsarahq/go/oops"

	"github.com/searchlayer/gqlengine/internal/dsl"
	"github.com/searchlayer/gqlengine/internal/schema"
)

// Operator names recognized on a scalar leaf (§3).
const (
	OpEqualToAnyOf  = "equal_to_any_of"
	OpGt            = "gt"
	OpGte           = "gte"
	OpLt            = "lt"
	OpLte           = "lte"
	OpMatches       = "matches"
	OpMatchesQuery  = "matches_query"
	OpMatchesPhrase = "matches_phrase"
	OpNear          = "near"
	OpTimeOfDay     = "time_of_day"
)

// Combinator names recognized at any object node (§3).
const (
	ComboNot    = "not"
	ComboAnyOf  = "any_of"
	ComboAllOf  = "all_of"
)

// List-field leaf operators (§3).
const (
	ListAnySatisfy = "any_satisfy"
	ListCount      = "count"
)

// RolloverIndexLister answers, for a logical index, which concrete rollover
// slice names overlap a [from, to) time range. The engine's only
// cross-request mutable state (§5) — the rollover-index cache — implements
// this; the filter interpreter never touches the datastore itself.
type RolloverIndexLister interface {
	SlicesOverlapping(logicalIndex string, fromInclusive, toExclusive *int64) []string
}

// Result is what compiling a filter against a type produces.
type Result struct {
	Query dsl.Query
	// RoutingValues is the (possibly empty) set of equal_to_any_of values
	// found on the routing field, and Routed reports whether such a
	// predicate was present at all (vs. simply absent, which means "query
	// all shards").
	RoutingValues []interface{}
	Routed        bool
	// ConcreteIndices, when non-nil, is the rollover-pruned slice list; nil
	// means "no rollover pruning applicable, use the full index pattern".
	ConcreteIndices []string
	// RolloverEmptied is true when a rollover-time predicate's window
	// overlapped no slice at all.
	RolloverEmptied bool
	// RolloverBound is the range bound found on the rollover time field, if
	// any; Compile resolves it against the RolloverIndexLister to populate
	// ConcreteIndices.
	RolloverBound *dsl.RangeBound
}

// StaticError is raised by Compile for violations that must be rejected at
// schema-compile time rather than discovered per-request (§4.1 step 6).
type StaticError struct {
	Msg string
}

func (e *StaticError) Error() string { return e.Msg }

// Compiler compiles filter input trees for one indexed type.
type Compiler struct {
	view    *schema.View
	indexes RolloverIndexLister
}

// NewCompiler builds a Compiler backed by a schema view and a rollover-slice
// source.
func NewCompiler(view *schema.View, indexes RolloverIndexLister) *Compiler {
	return &Compiler{view: view, indexes: indexes}
}

// Compile compiles filterInput (as decoded from GraphQL arguments, i.e.
// map[string]interface{} / []interface{} / scalars) against typeName's
// fields.
func (c *Compiler) Compile(typeName string, filterInput map[string]interface{}) (Result, error) {
	res := Result{}
	q, err := c.compileObject(typeName, filterInput, &res)
	if err != nil {
		return Result{}, err
	}
	res.Query = q

	if res.RolloverBound != nil {
		idx, ok := c.view.IndexFor(typeName)
		if ok && idx.Rollover != nil && c.indexes != nil {
			from, to := rangeBoundToWindow(*res.RolloverBound)
			res.ConcreteIndices = c.indexes.SlicesOverlapping(idx.LogicalName, from, to)
			if len(res.ConcreteIndices) == 0 {
				res.RolloverEmptied = true
				res.Query = dsl.MatchNoneQuery()
			}
		}
	}

	return res, nil
}

// rangeBoundToWindow converts an inclusive/exclusive range bound into the
// [from, to) window used to select overlapping rollover slices. A nil bound
// means unbounded on that side.
func rangeBoundToWindow(bound dsl.RangeBound) (from, to *int64) {
	if v, ok := epochMillis(bound.Gte); ok {
		from = &v
	} else if v, ok := epochMillis(bound.Gt); ok {
		v++
		from = &v
	}
	if v, ok := epochMillis(bound.Lte); ok {
		v++
		to = &v
	} else if v, ok := epochMillis(bound.Lt); ok {
		to = &v
	}
	return from, to
}

func epochMillis(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// compileObject implements §4.1 steps 1-2: drop true-valued keys, AND the
// rest.
func (c *Compiler) compileObject(typeName string, node map[string]interface{}, res *Result) (dsl.Query, error) {
	var clauses []dsl.Query

	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic compile order, deterministic error messages

	for _, key := range keys {
		value := node[key]
		if isTrueValue(value) {
			continue // step 1: absent/empty predicate is true, pruned
		}
		switch key {
		case ComboNot:
			sub, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects an object", ComboNot)
			}
			inner, err := c.compileObject(typeName, sub, &Result{}) // negation scopes its own routing/rollover hooks away
			if err != nil {
				return dsl.Query{}, err
			}
			clauses = append(clauses, dsl.Not(inner))
		case ComboAnyOf:
			list, ok := value.([]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects a list", ComboAnyOf)
			}
			var subs []dsl.Query
			for _, item := range list {
				obj, ok := item.(map[string]interface{})
				if !ok {
					return dsl.Query{}, oops.Errorf("filter: %q element must be an object", ComboAnyOf)
				}
				sub, err := c.compileObject(typeName, obj, res)
				if err != nil {
					return dsl.Query{}, err
				}
				subs = append(subs, sub)
			}
			clauses = append(clauses, dsl.Or(subs...))
		case ComboAllOf:
			list, ok := value.([]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects a list", ComboAllOf)
			}
			var subs []dsl.Query
			for _, item := range list {
				obj, ok := item.(map[string]interface{})
				if !ok {
					return dsl.Query{}, oops.Errorf("filter: %q element must be an object", ComboAllOf)
				}
				sub, err := c.compileObject(typeName, obj, res)
				if err != nil {
					return dsl.Query{}, err
				}
				subs = append(subs, sub)
			}
			clauses = append(clauses, dsl.And(subs...))
		default:
			clause, err := c.compileFieldPredicate(typeName, key, value, res)
			if err != nil {
				return dsl.Query{}, err
			}
			clauses = append(clauses, clause)
		}
	}

	return dsl.And(clauses...), nil
}

func (c *Compiler) compileFieldPredicate(typeName, fieldName string, value interface{}, res *Result) (dsl.Query, error) {
	field, err := c.view.FieldOf(typeName, fieldName)
	if err != nil {
		return dsl.Query{}, &StaticError{Msg: err.Error()}
	}

	predicate, ok := value.(map[string]interface{})
	if !ok {
		return dsl.Query{}, oops.Errorf("filter: field %q predicate must be an object", fieldName)
	}

	if field.List {
		return c.compileListPredicate(typeName, field, predicate, res)
	}
	if field.Relationship == nil && isObjectType(c.view, field.Type) {
		// Nested/flattened object field: recurse, prefixing nothing here —
		// the caller's index path comes from the schema's name_in_index.
		return c.compileObject(field.Type, predicate, res)
	}
	return c.compileScalarPredicate(field, predicate, res)
}

func (c *Compiler) compileListPredicate(typeName string, field schema.Field, predicate map[string]interface{}, res *Result) (dsl.Query, error) {
	var clauses []dsl.Query
	for key, value := range predicate {
		if isTrueValue(value) {
			continue
		}
		switch key {
		case ListAnySatisfy:
			sub, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects an object", ListAnySatisfy)
			}
			if err := validateAnySatisfyShape(sub); err != nil {
				return dsl.Query{}, err
			}
			isNested := isObjectType(c.view, field.Type)
			if isNested {
				inner, err := c.compileObject(field.Type, sub, &Result{})
				if err != nil {
					return dsl.Query{}, err
				}
				if countClauses(inner) != 1 {
					return dsl.Query{}, &StaticError{Msg: fmt.Sprintf(
						"filter: any_satisfy on %q must compile to a single datastore clause", field.Name)}
				}
				clauses = append(clauses, dsl.Query{Nested: &dsl.NestedQuery{Path: field.IndexName(), Query: inner}})
			} else {
				// list-of-scalar: the datastore's own terms semantics
				// already give any_satisfy for free.
				inner, err := c.compileScalarPredicate(field, sub, &Result{})
				if err != nil {
					return dsl.Query{}, err
				}
				clauses = append(clauses, inner)
			}
		case ListCount:
			numeric, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects a numeric predicate object", ListCount)
			}
			lengthField := field.IndexName() + "_count"
			clause, err := compileNumericPredicate(lengthField, numeric)
			if err != nil {
				return dsl.Query{}, err
			}
			clauses = append(clauses, clause)
		default:
			return dsl.Query{}, &StaticError{Msg: fmt.Sprintf("filter: unsupported list predicate %q on %q", key, field.Name)}
		}
	}
	return dsl.And(clauses...), nil
}

// validateAnySatisfyShape rejects `not` and `equal_to_any_of: [null]` inside
// any_satisfy per §3's invariant.
func validateAnySatisfyShape(node map[string]interface{}) error {
	for key, value := range node {
		if key == ComboNot {
			return &StaticError{Msg: "filter: any_satisfy must not contain not"}
		}
		if key == OpEqualToAnyOf {
			if list, ok := value.([]interface{}); ok && len(list) == 1 && list[0] == nil {
				return &StaticError{Msg: "filter: any_satisfy must not contain equal_to_any_of: [null]"}
			}
		}
		if sub, ok := value.(map[string]interface{}); ok {
			if err := validateAnySatisfyShape(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func countClauses(q dsl.Query) int {
	if q.Bool == nil {
		if q.IsMatchAll() {
			return 0
		}
		return 1
	}
	return len(q.Bool.Must) + len(q.Bool.Should) + len(q.Bool.MustNot) + len(q.Bool.Filter)
}

func (c *Compiler) compileScalarPredicate(field schema.Field, predicate map[string]interface{}, res *Result) (dsl.Query, error) {
	var clauses []dsl.Query
	indexName := field.IndexName()

	for key, value := range predicate {
		if isTrueValue(value) {
			continue
		}
		switch key {
		case OpEqualToAnyOf:
			list, ok := value.([]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects a list", OpEqualToAnyOf)
			}
			clause, _, nonNull := compileEqualToAnyOf(indexName, list)
			clauses = append(clauses, clause)
			if field.IsRoutingField {
				res.Routed = true
				res.RoutingValues = nonNull
			}
		case OpGt, OpGte, OpLt, OpLte:
			bound := dsl.RangeBound{}
			switch key {
			case OpGt:
				bound.Gt = value
			case OpGte:
				bound.Gte = value
			case OpLt:
				bound.Lt = value
			case OpLte:
				bound.Lte = value
			}
			clauses = append(clauses, dsl.Query{Range: &dsl.RangeQuery{Field: indexName, Bound: bound}})
			if field.IsRolloverTimeField {
				// Accumulate every operator of this predicate into one bound,
				// so gte+lt yields a two-sided window.
				if res.RolloverBound == nil {
					res.RolloverBound = &dsl.RangeBound{}
				}
				if bound.Gt != nil {
					res.RolloverBound.Gt = bound.Gt
				}
				if bound.Gte != nil {
					res.RolloverBound.Gte = bound.Gte
				}
				if bound.Lt != nil {
					res.RolloverBound.Lt = bound.Lt
				}
				if bound.Lte != nil {
					res.RolloverBound.Lte = bound.Lte
				}
			}
		case ComboNot:
			sub, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects an object", ComboNot)
			}
			inner, err := c.compileScalarPredicate(field, sub, &Result{}) // negation scopes its own routing/rollover hooks away
			if err != nil {
				return dsl.Query{}, err
			}
			clauses = append(clauses, dsl.Not(inner))
		case OpMatches:
			s, _ := value.(string)
			clauses = append(clauses, dsl.Query{Match: &dsl.MatchQuery{Field: indexName, Query: s}})
		case OpMatchesQuery:
			sub, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects an object", OpMatchesQuery)
			}
			q, _ := sub["query"].(string)
			edits, _ := sub["allowed_edits_per_term"].(string)
			clauses = append(clauses, dsl.Query{Match: &dsl.MatchQuery{Field: indexName, Query: q, AllowedEditsPerTerm: edits}})
		case OpMatchesPhrase:
			sub, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects an object", OpMatchesPhrase)
			}
			phrase, _ := sub["phrase"].(string)
			clauses = append(clauses, dsl.Query{MatchPhrase: &dsl.MatchPhraseQuery{Field: indexName, Phrase: phrase}})
		case OpNear:
			sub, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects an object", OpNear)
			}
			lat, _ := sub["lat"].(float64)
			lon, _ := sub["lon"].(float64)
			maxDist, _ := sub["max_distance"].(float64)
			unit, _ := sub["unit"].(string)
			if unit == "" {
				unit = "m"
			}
			clauses = append(clauses, dsl.Query{GeoDistance: &dsl.GeoDistanceQuery{
				Field: indexName, Lat: lat, Lon: lon,
				Distance: fmt.Sprintf("%v%s", maxDist, unit),
			}})
		case OpTimeOfDay:
			sub, ok := value.(map[string]interface{})
			if !ok {
				return dsl.Query{}, oops.Errorf("filter: %q expects an object", OpTimeOfDay)
			}
			clause, err := compileTimeOfDay(indexName, sub)
			if err != nil {
				return dsl.Query{}, err
			}
			clauses = append(clauses, clause)
		default:
			return dsl.Query{}, &StaticError{Msg: fmt.Sprintf("filter: unsupported operator %q on %q", key, field.Name)}
		}
	}
	return dsl.And(clauses...), nil
}

// compileEqualToAnyOf implements §3's null-aware equal_to_any_of: a null
// element means "field is null"; everything else goes into a terms clause,
// and the two are OR'd.
func compileEqualToAnyOf(indexName string, list []interface{}) (clause dsl.Query, hasNull bool, nonNull []interface{}) {
	if len(list) == 0 {
		return dsl.MatchNoneQuery(), false, nil
	}
	for _, v := range list {
		if v == nil {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, v)
	}
	var parts []dsl.Query
	if hasNull {
		parts = append(parts, dsl.Not(dsl.Query{Exists: &dsl.ExistsQuery{Field: indexName}}))
	}
	if len(nonNull) > 0 {
		parts = append(parts, dsl.Query{Terms: &dsl.TermsQuery{Field: indexName, Values: nonNull}})
	}
	return dsl.Or(parts...), hasNull, nonNull
}

func compileNumericPredicate(indexName string, predicate map[string]interface{}) (dsl.Query, error) {
	var clauses []dsl.Query
	for key, value := range predicate {
		if isTrueValue(value) {
			continue
		}
		switch key {
		case OpEqualToAnyOf:
			list, _ := value.([]interface{})
			clauses = append(clauses, dsl.Query{Terms: &dsl.TermsQuery{Field: indexName, Values: list}})
		case OpGt, OpGte, OpLt, OpLte:
			bound := dsl.RangeBound{}
			switch key {
			case OpGt:
				bound.Gt = value
			case OpGte:
				bound.Gte = value
			case OpLt:
				bound.Lt = value
			case OpLte:
				bound.Lte = value
			}
			clauses = append(clauses, dsl.Query{Range: &dsl.RangeQuery{Field: indexName, Bound: bound}})
		default:
			return dsl.Query{}, &StaticError{Msg: fmt.Sprintf("filter: unsupported numeric operator %q", key)}
		}
	}
	return dsl.And(clauses...), nil
}

// compileTimeOfDay builds a script query comparing the hour/minute/second
// component of indexName against the bounds, in the given time zone (§3).
func compileTimeOfDay(indexName string, predicate map[string]interface{}) (dsl.Query, error) {
	tz, _ := predicate["time_zone"].(string)
	if tz == "" {
		tz = "UTC"
	}
	params := map[string]interface{}{"zone": tz}
	var conditions []string
	for _, key := range []string{OpGt, OpGte, OpLt, OpLte} {
		v, ok := predicate[key]
		if !ok || isTrueValue(v) {
			continue
		}
		params[key] = v
		op := map[string]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[key]
		conditions = append(conditions, fmt.Sprintf("secondsOfDay %s params.%s", op, key))
	}
	if len(conditions) == 0 {
		return dsl.MatchAllQuery(), nil
	}
	source := "def secondsOfDay = doc['" + indexName + "'].value.withZoneSameInstant(ZoneId.of(params.zone)).toLocalTime().toSecondOfDay(); return "
	for i, cond := range conditions {
		if i > 0 {
			source += " && "
		}
		source += cond
	}
	return dsl.Query{Script: &dsl.ScriptQuery{Source: source, Params: params}}, nil
}

func isObjectType(view *schema.View, typeName string) bool {
	t, ok := view.Types[typeName]
	return ok && (t.Kind == schema.KindObject || t.Kind == schema.KindInterface)
}

// isTrueValue reports whether value represents GraphQL's "absent predicate"
// state: nil, or an empty map/slice.
func isTrueValue(value interface{}) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case map[string]interface{}:
		return len(v) == 0
	case []interface{}:
		return false // empty list has its own semantics per key (any_of/all_of), not "true"
	}
	return false
}
