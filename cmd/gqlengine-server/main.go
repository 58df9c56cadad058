// Command gqlengine-server is a minimal example HTTP front end for the
// query engine: it decodes a GraphQL request body, executes it against a
// fixed example schema whose only field is `health`, and writes back the
// standard {data, errors} envelope. It does not build a schema from an
// internal/schema.View.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	esv8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/searchlayer/gqlengine/internal/aggregation"
	"github.com/searchlayer/gqlengine/internal/concurrency"
	"github.com/searchlayer/gqlengine/internal/config"
	"github.com/searchlayer/gqlengine/internal/dispatch"
	"github.com/searchlayer/gqlengine/internal/executor"
	"github.com/searchlayer/gqlengine/internal/logging"
)

// aggregationAdapterFor resolves the configured grouping strategy (§4.3,
// §9) to its concrete Adapter.
func aggregationAdapterFor(kind config.GroupingAdapterKind) aggregation.Adapter {
	if kind == config.GroupingAdapterComposite {
		return aggregation.CompositeAdapter{}
	}
	return aggregation.NonCompositeAdapter{}
}

type requestBody struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// engineServer holds the long-lived dependencies every request's
// executor.Registry is built from; nothing here is request-scoped (§5:
// "the engine itself holds no mutable cross-request state except a small
// cached projection of known rollover indices per cluster and structured
// logging sinks").
type engineServer struct {
	schema    graphql.Schema
	cfg       *config.Config
	resolver  dispatch.ClusterResolver
	transport dispatch.Transport
	logger    logging.Logger
}

func (s *engineServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	logger := s.logger.With(zap.String("request_id", requestID))

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	deadlineAt := time.Now().Add(time.Duration(s.cfg.TimeoutInMs) * time.Millisecond)
	ctx, cancel := context.WithDeadline(r.Context(), deadlineAt)
	defer cancel()

	registry := &executor.Registry{
		Dispatcher: dispatch.Dispatcher{
			Resolver:            s.resolver,
			Transport:           s.transport,
			ConfiguredTimeoutMs: s.cfg.TimeoutInMs,
			AggregationAdapter:  aggregationAdapterFor(s.cfg.SubAggregationGroupingAdapter),
			AllowNonGetFallback: !s.cfg.EnforceMsearchReadOnly,
		},
		Logger: logger,
	}
	ctx = withRegistry(ctx, registry)

	start := time.Now()
	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  body.Query,
		VariableValues: body.Variables,
		OperationName:  body.OperationName,
		Context:        ctx,
	})

	logger.Info("request completed",
		zap.Int64("elasticgraph_overhead_ms", time.Since(start).Milliseconds()),
		zap.Int("error_count", len(result.Errors)),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

type registryKey struct{}

func withRegistry(ctx context.Context, reg *executor.Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, reg)
}

// RegistryFromContext returns the per-request plan registry field
// resolvers Submit plans to (§4.8).
func RegistryFromContext(ctx context.Context) *executor.Registry {
	reg, _ := ctx.Value(registryKey{}).(*executor.Registry)
	return reg
}

func main() {
	logger := logging.New()
	cfg := config.New(
		config.WithTimeout(30000),
		config.WithPageSizes(25, 500),
	)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// A real deployment builds the *graphql.Schema from an
	// internal/schema.View via the Hidden-Type Gate; wiring that projection
	// is deployment-specific and out of scope for this example entrypoint.
	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"health": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return "ok", nil
					},
				},
			},
		}),
	})
	if err != nil {
		log.Fatalf("failed to build schema: %v", err)
	}

	esClient, err := esv8.NewClient(esv8.Config{Addresses: []string{"http://localhost:9200"}})
	if err != nil {
		log.Fatalf("failed to build elasticsearch client: %v", err)
	}

	server := &engineServer{
		schema:    schema,
		cfg:       cfg,
		resolver:  staticClusterResolver{"primary": "http://localhost:9200"},
		transport: dispatch.ESClientTransport{Client: esClient},
		logger:    logger,
	}

	log.Println("listening on :8080")
	if err := http.ListenAndServe(":8080", boundConcurrency(server, maxConcurrentRequests)); err != nil {
		log.Fatal(err)
	}
}

// maxConcurrentRequests caps how many requests the process resolves at
// once, protecting the datastore clusters from unbounded connection
// fan-out (§5).
const maxConcurrentRequests = 64

// boundConcurrency wraps next with a request-admission token acquired from
// a process-wide limiter.
func boundConcurrency(next http.Handler, maxThreads int) http.Handler {
	ctx := concurrency.WithLimiter(context.Background(), maxThreads)
	// main itself does no further work under the limiter; give back the
	// token WithLimiter reserved for its caller so the full maxThreads are
	// available to inbound requests.
	concurrency.ReleaseToken(ctx)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		concurrency.AcquireToken(ctx)
		defer concurrency.ReleaseToken(ctx)
		next.ServeHTTP(w, r)
	})
}

type staticClusterResolver map[string]string

func (s staticClusterResolver) EndpointFor(cluster string) (string, bool) {
	u, ok := s[cluster]
	return u, ok
}
