package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlayer/gqlengine/internal/dsl"
	"github.com/searchlayer/gqlengine/internal/query"
)

type fakeResolver map[string]string

func (f fakeResolver) EndpointFor(cluster string) (string, bool) {
	u, ok := f[cluster]
	return u, ok
}

// recordingTransport is safe for the dispatcher's concurrent per-cluster
// fan-out: responses are keyed by endpoint, not call order.
type recordingTransport struct {
	mu         sync.Mutex
	requests   []*http.Request
	bodies     [][]byte
	byEndpoint map[string]string // endpoint -> response body
}

func (t *recordingTransport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		t.bodies = append(t.bodies, body)
	}
	endpoint := req.URL.Scheme + "://" + req.URL.Host
	resp := t.byEndpoint[endpoint]
	t.mu.Unlock()
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(resp)),
	}, nil
}

func plan(cluster string) query.DatastoreQuery {
	return query.DatastoreQuery{
		Cluster:      cluster,
		IndexPattern: []string{"widgets-2026-07"},
		Query:        dsl.Query{Term: &dsl.TermQuery{Field: "status", Value: "active"}},
		Size:         10,
	}
}

func TestDispatch_OneMsearchCallPerCluster(t *testing.T) {
	transport := &recordingTransport{byEndpoint: map[string]string{
		"http://es-primary":   `{"responses":[{"hits":{"total":1}},{"hits":{"total":2}}]}`,
		"http://es-secondary": `{"responses":[{"hits":{"total":3}}]}`,
	}}
	d := Dispatcher{
		Resolver:            fakeResolver{"primary": "http://es-primary", "secondary": "http://es-secondary"},
		Transport:           transport,
		ConfiguredTimeoutMs: 10000,
	}

	items := []Item{
		{Cluster: "primary", Query: plan("primary"), Token: "a"},
		{Cluster: "primary", Query: plan("primary"), Token: "b"},
		{Cluster: "secondary", Query: plan("secondary"), Token: "c"},
	}

	results, err := d.Dispatch(context.Background(), items, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Len(t, transport.requests, 2)
	for _, req := range transport.requests {
		assert.Equal(t, http.MethodGet, req.Method)
	}
}

func TestDispatch_SkipsShortCircuitedQueries(t *testing.T) {
	transport := &recordingTransport{byEndpoint: map[string]string{
		"http://es-primary": `{"responses":[{"hits":{"total":1}}]}`,
	}}
	d := Dispatcher{
		Resolver:            fakeResolver{"primary": "http://es-primary"},
		Transport:           transport,
		ConfiguredTimeoutMs: 10000,
	}

	shortCircuited := plan("primary")
	shortCircuited.Query = dsl.MatchNoneQuery()

	items := []Item{
		{Cluster: "primary", Query: shortCircuited, Token: "skip-me"},
		{Cluster: "primary", Query: plan("primary"), Token: "dispatch-me"},
	}

	results, err := d.Dispatch(context.Background(), items, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, transport.requests, 1)

	var skipped, dispatched RawResult
	for _, r := range results {
		if r.Token == "skip-me" {
			skipped = r
		}
		if r.Token == "dispatch-me" {
			dispatched = r
		}
	}
	assert.Equal(t, json.RawMessage("null"), skipped.Response)
	assert.NotNil(t, dispatched.Response)
}

func TestDispatch_FailsWhenDeadlineAlreadyElapsed(t *testing.T) {
	d := Dispatcher{Resolver: fakeResolver{"primary": "http://es-primary"}, Transport: &recordingTransport{}}
	_, err := d.Dispatch(context.Background(), []Item{{Cluster: "primary", Query: plan("primary")}}, time.Now().Add(-time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestExceededDeadline{})
}

func TestDispatch_DeadlineShrinksAcrossSequentialWaves(t *testing.T) {
	transport := &recordingTransport{byEndpoint: map[string]string{
		"http://es-primary":   `{"responses":[{"hits":{"total":1}}]}`,
		"http://es-secondary": `{"responses":[{"hits":{"total":1}}]}`,
	}}
	deadline := time.Now().Add(600 * time.Second)
	d := Dispatcher{
		Resolver:            fakeResolver{"primary": "http://es-primary", "secondary": "http://es-secondary"},
		Transport:           transport,
		ConfiguredTimeoutMs: 600000,
	}

	_, err := d.Dispatch(context.Background(), []Item{{Cluster: "primary", Query: plan("primary")}}, deadline)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = d.Dispatch(context.Background(), []Item{{Cluster: "secondary", Query: plan("secondary")}}, deadline)
	require.NoError(t, err)

	var firstTimeout, secondTimeout string
	_ = json.Unmarshal(extractTimeoutLine(transport.bodies[0]), &firstTimeout)
	_ = json.Unmarshal(extractTimeoutLine(transport.bodies[1]), &secondTimeout)
	assert.NotEqual(t, firstTimeout, secondTimeout)

	var firstMs, secondMs int64
	_, _ = fmt.Sscanf(firstTimeout, "%dms", &firstMs)
	_, _ = fmt.Sscanf(secondTimeout, "%dms", &secondMs)
	assert.Less(t, secondMs, firstMs)
}

func extractTimeoutLine(b []byte) []byte {
	var decoded struct {
		Timeout string `json:"timeout"`
	}
	lines := bytes.Split(b, []byte("\n"))
	for _, l := range lines {
		if len(l) == 0 {
			continue
		}
		if err := json.Unmarshal(l, &decoded); err == nil && decoded.Timeout != "" {
			out, _ := json.Marshal(decoded.Timeout)
			return out
		}
	}
	return []byte(`""`)
}
