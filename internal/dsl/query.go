// Package dsl is the engine's own representation of Elasticsearch/OpenSearch
// query and aggregation DSL. Unlike a typed client's request builder, a
// dsl.Query is a plain, comparable, JSON-marshalable tree that the filter
// interpreter produces, the optimizer inspects and merges, and the
// dispatcher serializes into an msearch body — it has to survive all three
// without a live client object attached to it.
package dsl

import "encoding/json"

// Query is a node in the compiled query DSL tree. Exactly one of its fields
// is populated at a time; since every field is omitempty, JSON encoding emits only that field, the way
// Elasticsearch's own query DSL is a tagged union encoded as a single-key
// object.
type Query struct {
	MatchAll *struct{}       `json:"match_all,omitempty"`
	MatchNone *struct{}      `json:"match_none,omitempty"`
	Term      *TermQuery     `json:"term,omitempty"`
	Terms     *TermsQuery    `json:"terms,omitempty"`
	Range     *RangeQuery    `json:"range,omitempty"`
	Exists    *ExistsQuery   `json:"exists,omitempty"`
	Match     *MatchQuery    `json:"match,omitempty"`
	MatchPhrase *MatchPhraseQuery `json:"match_phrase,omitempty"`
	Fuzzy     *FuzzyQuery    `json:"fuzzy,omitempty"`
	GeoDistance *GeoDistanceQuery `json:"geo_distance,omitempty"`
	Bool      *BoolQuery     `json:"bool,omitempty"`
	Nested    *NestedQuery   `json:"nested,omitempty"`
	Script    *ScriptQuery   `json:"script,omitempty"`
}

// MatchAllQuery returns the query that matches every document.
func MatchAllQuery() Query { return Query{MatchAll: &struct{}{}} }

// MatchNoneQuery returns the query that matches no document. The dispatcher
// never sends this over the wire: DatastoreQuery.ShortCircuit detects it and
// short-circuits before a request is built (spec §4.1 invariant 9, §4.2).
func MatchNoneQuery() Query { return Query{MatchNone: &struct{}{}} }

// IsMatchNone reports whether q is the synthetic always-false query.
func (q Query) IsMatchNone() bool { return q.MatchNone != nil }

// IsMatchAll reports whether q is the synthetic always-true query, i.e. the
// result of compiling a filter whose every key evaluated to true (spec §4.1
// step 1).
func (q Query) IsMatchAll() bool { return q.MatchAll != nil }

type TermQuery struct {
	Field string      `json:"-"`
	Value interface{} `json:"-"`
}

func (t TermQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{t.Field: t.Value})
}

type TermsQuery struct {
	Field  string        `json:"-"`
	Values []interface{} `json:"-"`
}

func (t TermsQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{t.Field: t.Values})
}

type RangeQuery struct {
	Field string     `json:"-"`
	Bound RangeBound `json:"-"`
}

type RangeBound struct {
	Gt  interface{} `json:"gt,omitempty"`
	Gte interface{} `json:"gte,omitempty"`
	Lt  interface{} `json:"lt,omitempty"`
	Lte interface{} `json:"lte,omitempty"`
}

func (r RangeQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]RangeBound{r.Field: r.Bound})
}

type ExistsQuery struct {
	Field string `json:"field"`
}

type MatchQuery struct {
	Field              string `json:"-"`
	Query              string `json:"query"`
	AllowedEditsPerTerm string `json:"fuzziness,omitempty"`
}

func (m MatchQuery) MarshalJSON() ([]byte, error) {
	type body struct {
		Query     string `json:"query"`
		Fuzziness string `json:"fuzziness,omitempty"`
	}
	return json.Marshal(map[string]body{m.Field: {Query: m.Query, Fuzziness: m.AllowedEditsPerTerm}})
}

type MatchPhraseQuery struct {
	Field  string `json:"-"`
	Phrase string `json:"-"`
}

func (m MatchPhraseQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{m.Field: m.Phrase})
}

type FuzzyQuery struct {
	Field     string `json:"-"`
	Value     string `json:"value"`
	Fuzziness string `json:"fuzziness,omitempty"`
}

func (f FuzzyQuery) MarshalJSON() ([]byte, error) {
	type body struct {
		Value     string `json:"value"`
		Fuzziness string `json:"fuzziness,omitempty"`
	}
	return json.Marshal(map[string]body{f.Field: {Value: f.Value, Fuzziness: f.Fuzziness}})
}

type GeoDistanceQuery struct {
	Field    string  `json:"-"`
	Lat      float64 `json:"-"`
	Lon      float64 `json:"-"`
	Distance string  `json:"distance"`
}

func (g GeoDistanceQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"distance": g.Distance,
		g.Field:    map[string]float64{"lat": g.Lat, "lon": g.Lon},
	})
}

// ScriptQuery backs time_of_day predicates, which need a runtime comparison
// against the hour/minute/second component of a stored timestamp rather than
// a literal range.
type ScriptQuery struct {
	Source string                 `json:"source"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type BoolQuery struct {
	Must    []Query `json:"must,omitempty"`
	MustNot []Query `json:"must_not,omitempty"`
	Should  []Query `json:"should,omitempty"`
	Filter  []Query `json:"filter,omitempty"`
}

// And returns the conjunction of qs, applying the pruning invariants: an
// all_of/implicit-AND of zero true clauses is true, any false clause makes
// the whole conjunction false (spec §4.1 invariant: all_of: [] evaluates to
// true).
func And(qs ...Query) Query {
	var clauses []Query
	for _, q := range qs {
		if q.IsMatchNone() {
			return MatchNoneQuery()
		}
		if q.IsMatchAll() {
			continue
		}
		clauses = append(clauses, q)
	}
	if len(clauses) == 0 {
		return MatchAllQuery()
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return Query{Bool: &BoolQuery{Must: clauses}}
}

// Or returns the union of qs; an any_of of zero clauses is false (spec §4.1).
func Or(qs ...Query) Query {
	if len(qs) == 0 {
		return MatchNoneQuery()
	}
	var clauses []Query
	for _, q := range qs {
		if q.IsMatchAll() {
			return MatchAllQuery()
		}
		if q.IsMatchNone() {
			continue
		}
		clauses = append(clauses, q)
	}
	if len(clauses) == 0 {
		return MatchNoneQuery()
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return Query{Bool: &BoolQuery{Should: clauses, MustNot: nil}}
}

// Not negates q per spec §4.1 step 3: negating true yields false, negating
// false yields true, otherwise wrap in a must_not clause.
func Not(q Query) Query {
	if q.IsMatchAll() {
		return MatchNoneQuery()
	}
	if q.IsMatchNone() {
		return MatchAllQuery()
	}
	return Query{Bool: &BoolQuery{MustNot: []Query{q}}}
}

type NestedQuery struct {
	Path  string `json:"path"`
	Query Query  `json:"query"`
}
