// Package aggregation implements the Aggregation Tree data model and the
// two interchangeable grouping adapters (composite, non-composite) of §4.3:
// both implement the same encode/decode contract, selected by configuration,
// so that datastore-version incompatibilities surface as upstream errors
// rather than a silent fallback (§9 "Polymorphism over adapters").
package aggregation

import "github.com/searchlayer/gqlengine/internal/dsl"

// GroupingKind distinguishes a term grouping from a date-histogram grouping.
type GroupingKind int

const (
	GroupingTerm GroupingKind = iota
	GroupingDateHistogram
)

// TruncationUnit is the calendar unit a date grouping truncates to.
type TruncationUnit string

const (
	TruncationDay        TruncationUnit = "DAY"
	TruncationWeek       TruncationUnit = "WEEK"
	TruncationMonth      TruncationUnit = "MONTH"
	TruncationYear       TruncationUnit = "YEAR"
	TruncationHour       TruncationUnit = "HOUR"
	TruncationDayOfWeek  TruncationUnit = "DAY_OF_WEEK"
	TruncationTimeOfDay  TruncationUnit = "TIME_OF_DAY"
)

// Grouping is one ordered grouping spec within a node (§3's Aggregation
// Tree: "groupings (ordered list of term or date-histogram specs...)").
type Grouping struct {
	Kind GroupingKind
	// Field is the index field name grouped on.
	Field string
	// Alias is the GraphQL field alias this grouping came from, used to key
	// the decoded bucket tuple back to a response field.
	Alias string
	// IncludeMissingBucket asks NonCompositeAdapter to fold documents lacking
	// Field into one extra bucket of the same terms aggregation, decoded with
	// a nil grouped value (§4.3). It applies to term groupings only;
	// CompositeAdapter does not read it.
	IncludeMissingBucket bool

	// Date-histogram-only fields.
	Truncation TruncationUnit
	TimeZone   string
	OffsetAmount int
	OffsetUnit   string
}

// ValueComputationKind is the kind of aggregated-value computation.
type ValueComputationKind int

const (
	ValueSum ValueComputationKind = iota
	ValueAvg
	ValueMin
	ValueMax
	ValueDistinctCount
)

// ValueComputation is one aggregated-value request, tagged exact or
// approximate per §3 ("each tagged as exact_* or approximate_*").
type ValueComputation struct {
	Kind        ValueComputationKind
	Field       string
	Alias       string
	Approximate bool
}

// Node is one node of the Aggregation Tree: rooted at either a flat
// "ungrouped" node or one or more nested sub-aggregation nodes (§3).
type Node struct {
	// Path is the dotted field path from the root document; empty for the
	// root-level node.
	Path string
	// Filter, if set, scopes this node when Path is non-empty: it is encoded
	// as the `filter` aggregation inside the `nested` wrapper, mirroring the
	// reveald nested-wrapper pattern. With an empty Path, Filter is not
	// encoded.
	Filter *dsl.Query
	Groupings []Grouping
	Values    []ValueComputation
	Children  []Node
	// Alias identifies this node among its siblings for response assembly
	// and for the optimizer's collision-free re-keying (§4.4).
	Alias string
}

// IsUngrouped reports whether this node requests a single synthetic bucket
// rather than actual groupings (§4.7 "Ungrouped: exactly one synthetic
// bucket").
func (n Node) IsUngrouped() bool { return len(n.Groupings) == 0 }

// SINGLETONCursor is the constant cursor returned for an ungrouped
// aggregation's unique synthetic bucket (§4.7, glossary SINGLETON_CURSOR).
const SINGLETONCursor = "SINGLETON_CURSOR"

// CountDetail is the {approximate_value, exact_value, upper_bound} triple
// (§4.3, §6).
type CountDetail struct {
	ApproximateValue int64
	ExactValue       *int64 // nil when not exactly countable
	UpperBound       int64
}

// CountDetailForGrouping computes count_detail for a bucket given its
// grouping kinds, per §4.3: grouping only on date fields (or ungrouped)
// gives exact counts; grouping on any term field makes the exact count
// unavailable and widens the upper bound by the datastore's reported
// doc_count_error_upper_bound.
func CountDetailForGrouping(groupings []Grouping, docCount int64, docCountErrorUpperBound int64) CountDetail {
	hasTermGrouping := false
	for _, g := range groupings {
		if g.Kind == GroupingTerm {
			hasTermGrouping = true
			break
		}
	}
	if !hasTermGrouping {
		return CountDetail{ApproximateValue: docCount, ExactValue: &docCount, UpperBound: docCount}
	}
	upper := docCount + docCountErrorUpperBound
	return CountDetail{ApproximateValue: docCount, ExactValue: nil, UpperBound: upper}
}
