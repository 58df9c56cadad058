// Package optimizer implements the Query Optimizer (§4.4): it partitions a
// batch of DatastoreQuery plans gathered during one resolution wave into
// merge-compatible groups and folds each group into a single plan, so the
// dispatcher issues the minimum number of searches.
package optimizer

import (
	"github.com/searchlayer/gqlengine/internal/query"
)

// Plan is one entry submitted to the optimizer: the query itself plus an
// opaque token the caller uses to find its result again once the merged
// set comes back from the dispatcher.
type Plan struct {
	Query query.DatastoreQuery
	Token interface{}
}

// Group is one optimizer output: a single merged query, plus the tokens of
// every input plan that was folded into it, in submission order.
type Group struct {
	Query  query.DatastoreQuery
	Tokens []interface{}
}

// Optimize partitions plans by merge-compatibility and folds each
// partition into one DatastoreQuery via repeated Merge calls, preserving
// first-seen order for both groups and the tokens within a group (so
// callers can deterministically map dispatcher responses back to
// resolvers).
func Optimize(plans []Plan) ([]Group, error) {
	var groups []Group

	for _, p := range plans {
		if p.Query.ShortCircuit() {
			groups = append(groups, Group{Query: p.Query, Tokens: []interface{}{p.Token}})
			continue
		}

		placed := false
		for i := range groups {
			if groups[i].Query.ShortCircuit() {
				continue
			}
			if !groups[i].Query.MergeCompatible(p.Query) {
				continue
			}
			merged, err := groups[i].Query.Merge(p.Query)
			if err != nil {
				return nil, err
			}
			groups[i].Query = merged
			groups[i].Tokens = append(groups[i].Tokens, p.Token)
			placed = true
			break
		}
		if !placed {
			groups = append(groups, Group{Query: p.Query, Tokens: []interface{}{p.Token}})
		}
	}

	return groups, nil
}
