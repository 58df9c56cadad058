// Package dispatch implements the msearch Dispatcher (§4.5): it packs
// DatastoreQuery plans into one multi-search envelope per datastore
// cluster, enforces a request-wide monotonic deadline that shrinks across
// waves, and never issues anything but a safe read verb.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	esv8 "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/searchlayer/gqlengine/internal/aggregation"
	"github.com/searchlayer/gqlengine/internal/query"
)

// ErrRequestExceededDeadline is returned when the remaining deadline is
// already <= 0 at the start of a wave (§4.5, §5).
type ErrRequestExceededDeadline struct{}

func (ErrRequestExceededDeadline) Error() string { return "request exceeded deadline" }

// ClusterResolver maps a DatastoreQuery to the datastore cluster endpoint
// it must be sent to.
type ClusterResolver interface {
	EndpointFor(cluster string) (baseURL string, ok bool)
}

// Transport issues the raw GET-with-body msearch request. Production
// wiring uses esapi-compatible clients; tests substitute a fake.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPTransport adapts an *http.Client to Transport.
type HTTPTransport struct {
	Client *http.Client
}

func (t HTTPTransport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req.WithContext(ctx))
}

// ESClientTransport adapts an *elasticsearch.Client's own transport (cloud-id
// resolution, retry-with-backoff, node discovery) to Transport, so the
// Dispatcher gets the client library's connection handling while still
// building the GET-with-body request by hand — the client's own request
// builders silently upgrade to POST for large bodies (§4.5, §6).
type ESClientTransport struct {
	Client *esv8.Client
}

func (t ESClientTransport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.Client.Transport.Perform(req.WithContext(ctx))
}

// Dispatcher batches merged plans by cluster and fires one msearch per
// cluster per wave.
type Dispatcher struct {
	Resolver  ClusterResolver
	Transport Transport
	Logger    *zap.Logger

	// ConfiguredTimeoutMs is the per-query timeout ceiling from engine
	// configuration (§4.2's to_header_body "configured" argument).
	ConfiguredTimeoutMs int64

	// AggregationAdapter is the configured composite/non-composite grouping
	// strategy (§4.3, §9) used to encode every dispatched query's
	// aggregations. A nil value defaults to NonCompositeAdapter, mirroring
	// ToHeaderBody's own default.
	AggregationAdapter aggregation.Adapter

	// AllowNonGetFallback, when true, dispatches via POST instead of the
	// default GET-with-body. The zero value keeps the §4.5/§6 security
	// invariant (a reader identity may lack write grants) in force; set
	// this only for a deployment whose credentials are already known to
	// accept write verbs and whose body sizes exceed a GET-with-body-safe
	// proxy's URL/header limits. Driven by config.EnforceMsearchReadOnly
	// (inverted: enforce=true keeps this false).
	AllowNonGetFallback bool

	// Now is overridable for deterministic deadline-shrinkage tests.
	Now func() time.Time

	// OnClusterDispatch, if set, is called after every cluster call
	// completes (success or failure) with its wall-clock duration, so the
	// executor bridge can compute datastore_server_duration_ms for its
	// logged_json event (§4.8).
	OnClusterDispatch func(cluster string, duration time.Duration)
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Item is one query submitted for dispatch, tagged with its cluster and an
// opaque token used to route the raw response back to the caller.
type Item struct {
	Cluster string
	Query   query.DatastoreQuery
	Token   interface{}
}

// RawResult is one item's undecoded msearch response body (or error), in
// submission order within its cluster group.
type RawResult struct {
	Token    interface{}
	Response json.RawMessage
	Err      error
}

// Dispatch sends one multi-search request per distinct cluster among
// items, skipping any item whose query is already short-circuited
// (§4.5: "skip short-circuited queries" — never reaches the datastore),
// and returns each item's raw aggregation/hits response keyed by token.
//
// deadlineAt is the absolute wall-clock deadline for the whole request;
// Dispatch recomputes remaining time once before fanning out and fails the
// entire wave with ErrRequestExceededDeadline if it has already elapsed
// (§4.5, §5). Distinct clusters are independent reads, so their single
// per-cluster call is issued concurrently, bounded by an errgroup — the
// only intra-request parallelism the engine allows (§5: "no intra-request
// parallelism other than the single msearch call per cluster per wave").
func (d Dispatcher) Dispatch(ctx context.Context, items []Item, deadlineAt time.Time) ([]RawResult, error) {
	remaining := deadlineAt.Sub(d.now())
	if remaining <= 0 {
		return nil, ErrRequestExceededDeadline{}
	}

	byCluster := map[string][]Item{}
	var clusterOrder []string
	var results []RawResult

	for _, it := range items {
		if it.Query.ShortCircuit() {
			results = append(results, RawResult{Token: it.Token, Response: json.RawMessage("null")})
			continue
		}
		if _, seen := byCluster[it.Cluster]; !seen {
			clusterOrder = append(clusterOrder, it.Cluster)
		}
		byCluster[it.Cluster] = append(byCluster[it.Cluster], it)
	}

	perCluster := make([][]RawResult, len(clusterOrder))
	group, gctx := errgroup.WithContext(ctx)
	for i, cluster := range clusterOrder {
		i, cluster := i, cluster
		group.Go(func() error {
			start := d.now()
			clusterResults, err := d.dispatchCluster(gctx, cluster, byCluster[cluster], remaining.Milliseconds())
			if d.OnClusterDispatch != nil {
				d.OnClusterDispatch(cluster, d.now().Sub(start))
			}
			if err != nil {
				return err
			}
			perCluster[i] = clusterResults
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, clusterResults := range perCluster {
		results = append(results, clusterResults...)
	}

	return results, nil
}

func (d Dispatcher) dispatchCluster(ctx context.Context, cluster string, items []Item, remainingMs int64) ([]RawResult, error) {
	endpoint, ok := d.Resolver.EndpointFor(cluster)
	if !ok {
		return nil, fmt.Errorf("dispatch: unknown cluster %q", cluster)
	}

	var buf bytes.Buffer
	for _, it := range items {
		header, body, err := it.Query.ToHeaderBody(remainingMs, d.ConfiguredTimeoutMs, d.AggregationAdapter)
		if err != nil {
			return nil, fmt.Errorf("dispatch: cluster %q: encoding query: %w", cluster, err)
		}
		if err := encodeLine(&buf, header); err != nil {
			return nil, err
		}
		if err := encodeLine(&buf, body); err != nil {
			return nil, err
		}
	}

	verb := http.MethodGet
	if d.AllowNonGetFallback {
		verb = http.MethodPost
	}
	req, err := http.NewRequest(verb, endpoint+"/_msearch", &buf)
	if err != nil {
		return nil, err
	}
	// §4.5, §6: GET-with-body by default, never a silent upgrade to POST —
	// a client library that does that for large bodies must be bypassed by
	// building the request directly, since the reader identity may lack
	// write grants. AllowNonGetFallback is the one sanctioned escape hatch.
	req.Method = verb
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := d.Transport.Do(ctx, req)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Warn("msearch dispatch failed", zap.String("cluster", cluster), zap.Error(err))
		}
		return nil, fmt.Errorf("dispatch: cluster %q: %w", cluster, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: reading cluster %q response: %w", cluster, err)
	}

	var envelope struct {
		Responses []json.RawMessage `json:"responses"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("dispatch: decoding cluster %q msearch envelope: %w", cluster, err)
	}
	if len(envelope.Responses) != len(items) {
		return nil, fmt.Errorf("dispatch: cluster %q returned %d responses for %d queries", cluster, len(envelope.Responses), len(items))
	}

	out := make([]RawResult, len(items))
	for i, it := range items {
		out[i] = RawResult{Token: it.Token, Response: envelope.Responses[i]}
	}
	return out, nil
}

func encodeLine(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte('\n')
	return nil
}
