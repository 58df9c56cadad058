// Package config holds the engine's run-time options (§6): timeouts, page
// sizes, index definitions and the sub-aggregation grouping adapter
// choice. Built via functional options, mirroring reveald-graphql's
// Config/ConfigOption/With... pattern.
package config

import (
	"fmt"

	"github.com/searchlayer/gqlengine/internal/schema"
)

// GroupingAdapterKind selects which of the two interchangeable
// sub-aggregation strategies (§4.3) the engine encodes with.
type GroupingAdapterKind string

const (
	GroupingAdapterComposite    GroupingAdapterKind = "composite"
	GroupingAdapterNonComposite GroupingAdapterKind = "non_composite"
)

// Config is the engine's recognized configuration surface (§6).
type Config struct {
	TimeoutInMs     int64
	DefaultPageSize int
	MaxPageSize     int

	IndexDefinitions map[string]schema.IndexDefinition

	SubAggregationGroupingAdapter GroupingAdapterKind

	// EnforceMsearchReadOnly, when true, keeps msearch requests on
	// GET-with-body: cmd/gqlengine-server wires its inverse into
	// dispatch.Dispatcher.AllowNonGetFallback (§4.5, §6 security invariant).
	// When false, the dispatcher sends POST.
	EnforceMsearchReadOnly bool
}

// ConfigOption is a functional option for building a Config.
type ConfigOption func(*Config)

// WithTimeout sets the effective request deadline, in milliseconds.
func WithTimeout(ms int64) ConfigOption {
	return func(c *Config) { c.TimeoutInMs = ms }
}

// WithPageSizes sets the default and maximum page sizes applied when a
// connection field's first/last argument is absent or out of bounds.
func WithPageSizes(defaultSize, maxSize int) ConfigOption {
	return func(c *Config) {
		c.DefaultPageSize = defaultSize
		c.MaxPageSize = maxSize
	}
}

// WithIndexDefinition registers one logical index's routing/rollover/
// cluster metadata.
func WithIndexDefinition(name string, def schema.IndexDefinition) ConfigOption {
	return func(c *Config) {
		if c.IndexDefinitions == nil {
			c.IndexDefinitions = make(map[string]schema.IndexDefinition)
		}
		def.LogicalName = name
		c.IndexDefinitions[name] = def
	}
}

// WithSubAggregationGroupingAdapter selects the composite or non-composite
// strategy for every grouped sub-aggregation (§4.3, §9 Open Question).
func WithSubAggregationGroupingAdapter(kind GroupingAdapterKind) ConfigOption {
	return func(c *Config) { c.SubAggregationGroupingAdapter = kind }
}

// WithMsearchReadOnlyEnforcement sets EnforceMsearchReadOnly, which
// selects GET-with-body (true) or POST (false) for msearch requests.
func WithMsearchReadOnlyEnforcement(enforce bool) ConfigOption {
	return func(c *Config) { c.EnforceMsearchReadOnly = enforce }
}

// New builds a Config from defaults plus the given options.
func New(opts ...ConfigOption) *Config {
	c := &Config{
		TimeoutInMs:                   30000,
		DefaultPageSize:               25,
		MaxPageSize:                   500,
		IndexDefinitions:              make(map[string]schema.IndexDefinition),
		SubAggregationGroupingAdapter: GroupingAdapterNonComposite,
		EnforceMsearchReadOnly:        true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate reports a configuration error for out-of-range or
// inconsistent settings, so misconfiguration surfaces at startup rather
// than mid-request.
func (c *Config) Validate() error {
	if c.TimeoutInMs <= 0 {
		return fmt.Errorf("config: timeout_in_ms must be positive, got %d", c.TimeoutInMs)
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 {
		return fmt.Errorf("config: page sizes must be positive")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("config: default_page_size %d exceeds max_page_size %d", c.DefaultPageSize, c.MaxPageSize)
	}
	switch c.SubAggregationGroupingAdapter {
	case GroupingAdapterComposite, GroupingAdapterNonComposite:
	default:
		return fmt.Errorf("config: unknown sub_aggregation_grouping_adapter %q", c.SubAggregationGroupingAdapter)
	}
	return nil
}
