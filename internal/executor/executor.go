// Package executor implements the GraphQL Executor Bridge (§4.8): a
// per-request plan registry that field resolvers append to instead of
// executing immediately, flushed in waves through the optimizer and
// dispatcher. Resolvers get back a PlanHandle redeemed once its wave's
// flush completes — mirroring thunder's thunk/await bridge between lazily
// scheduled work and the value a resolver ultimately returns, but replacing
// goroutine fan-out with the spec's single-call-per-cluster-per-wave model
// (§5: "no intra-request parallelism other than the single msearch call
// per cluster per wave").
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/searchlayer/gqlengine/internal/dispatch"
	"github.com/searchlayer/gqlengine/internal/logging"
	"github.com/searchlayer/gqlengine/internal/optimizer"
	"github.com/searchlayer/gqlengine/internal/query"
)

// RequestExceededDeadline is the top-level error produced when a wave's
// dispatch finds the deadline already elapsed (§4.8, §7).
type RequestExceededDeadline struct{}

func (RequestExceededDeadline) Error() string { return "request exceeded deadline" }

type result struct {
	value interface{}
	err   error
	ready bool
}

// PlanHandle is the deferred result a resolver gets back from Submit; it
// is only valid to Await after the Registry's current wave has been
// Flushed.
type PlanHandle[T any] struct {
	r *result
}

// Await returns the redeemed value, or an error if the wave has not been
// flushed yet or decoding/dispatch failed.
func (h PlanHandle[T]) Await() (T, error) {
	var zero T
	if h.r == nil || !h.r.ready {
		return zero, fmt.Errorf("executor: plan handle awaited before its wave flushed")
	}
	if h.r.err != nil {
		return zero, h.r.err
	}
	v, _ := h.r.value.(T)
	return v, nil
}

type pendingPlan struct {
	query  query.DatastoreQuery
	decode func(json.RawMessage) (interface{}, error)
	result *result
}

// Registry is the per-request plan collector: field resolvers Submit
// plans during the collection phase of a wave; the executor bridge calls
// Flush at a suspension point to run the optimizer and dispatcher and
// redeem every pending handle (§4.8).
type Registry struct {
	Dispatcher dispatch.Dispatcher
	Logger     logging.Logger

	pending []*pendingPlan

	// cumulative totals across every wave of this request, for the
	// logged_json event.
	datastoreServerDuration time.Duration
}

// Submit appends a plan to the registry and returns a handle redeemed the
// next time Flush runs.
func Submit[T any](reg *Registry, q query.DatastoreQuery, decode func(json.RawMessage) (T, error)) PlanHandle[T] {
	res := &result{}
	reg.pending = append(reg.pending, &pendingPlan{
		query: q,
		decode: func(raw json.RawMessage) (interface{}, error) {
			return decode(raw)
		},
		result: res,
	})
	return PlanHandle[T]{r: res}
}

// Flush runs the two-phase wave per §4.8: (1) the plans collected since
// the last flush are optimized into the minimum query set; (2) the
// dispatcher sends one msearch per cluster; (3) every pending handle is
// redeemed from its share of the merged response. deadlineAt is the
// request's absolute monotonic deadline, recomputed fresh on every call.
func (reg *Registry) Flush(ctx context.Context, deadlineAt time.Time) error {
	if len(reg.pending) == 0 {
		return nil
	}
	batch := reg.pending
	reg.pending = nil

	plans := make([]optimizer.Plan, len(batch))
	for i, p := range batch {
		plans[i] = optimizer.Plan{Query: p.query, Token: i}
	}

	groups, err := optimizer.Optimize(plans)
	if err != nil {
		reg.failAll(batch, err)
		return err
	}

	items := make([]dispatch.Item, len(groups))
	for gi, g := range groups {
		items[gi] = dispatch.Item{Cluster: g.Query.Cluster, Query: g.Query, Token: gi}
	}

	raw, err := reg.Dispatcher.Dispatch(ctx, items, deadlineAt)
	if err != nil {
		reg.failAll(batch, translateDispatchError(err))
		return translateDispatchError(err)
	}

	byToken := make(map[int]json.RawMessage, len(raw))
	for _, r := range raw {
		gi, _ := r.Token.(int)
		byToken[gi] = r.Response
	}

	for gi, g := range groups {
		response := byToken[gi]
		for _, originalIndex := range g.Tokens {
			idx, _ := originalIndex.(int)
			plan := batch[idx]
			value, derr := plan.decode(response)
			plan.result.value = value
			plan.result.err = derr
			plan.result.ready = true
		}
	}

	if reg.Logger != nil {
		reg.Logger.Info("datastore wave dispatched",
			zap.Int("query_count", len(groups)),
			zap.Int("plan_count", len(batch)),
		)
	}

	return nil
}

func translateDispatchError(err error) error {
	if _, ok := err.(dispatch.ErrRequestExceededDeadline); ok {
		return RequestExceededDeadline{}
	}
	return err
}

func (reg *Registry) failAll(batch []*pendingPlan, err error) {
	for _, p := range batch {
		p.result.err = err
		p.result.ready = true
	}
}

// LoggedEvent is the per-request logged_json event emitted by the bridge
// (§4.8): elasticgraph_overhead_ms is engine-side CPU time (optimizer,
// decode, response assembly); datastore_server_duration_ms is the summed
// wall-clock time of every dispatcher cluster call.
type LoggedEvent struct {
	ElasticgraphOverheadMs    int64
	DatastoreServerDurationMs int64
}

// NewTrackingDispatcher wraps d with an OnClusterDispatch hook that
// accumulates server duration into totalOut, so a request-scoped
// Registry can report LoggedEvent once resolution completes.
func NewTrackingDispatcher(d dispatch.Dispatcher, totalOut *time.Duration) dispatch.Dispatcher {
	existing := d.OnClusterDispatch
	d.OnClusterDispatch = func(cluster string, duration time.Duration) {
		*totalOut += duration
		if existing != nil {
			existing(cluster, duration)
		}
	}
	return d
}
