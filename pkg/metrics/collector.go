package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector collects Prometheus-compatible metrics for run execution
type Collector struct {
	meter metric.Meter

	// Counters
	runsTotal        metric.Int64Counter
	llmRequestsTotal metric.Int64Counter
	tokensTotal      metric.Int64Counter
	toolCallsTotal   metric.Int64Counter
	retriesTotal     metric.Int64Counter

	// Histograms
	runDuration  metric.Float64Histogram
	llmLatency   metric.Float64Histogram
	toolDuration metric.Float64Histogram

	// Gauges (using observable gauges)
	activeRuns   map[string]bool // Track active run IDs
	activeRunsMu sync.RWMutex
	totalCostUSD float64
	totalCostMu  sync.RWMutex
}

// NewCollector creates a new metrics collector using the given meter provider
func NewCollector(meterProvider metric.MeterProvider) (*Collector, error) {
	meter := meterProvider.Meter("runlens")

	c := &Collector{
		meter:      meter,
		activeRuns: make(map[string]bool),
	}

	var err error

	// Initialize counters
	c.runsTotal, err = meter.Int64Counter(
		"runlens_runs_total",
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	c.llmRequestsTotal, err = meter.Int64Counter(
		"runlens_llm_requests_total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	c.tokensTotal, err = meter.Int64Counter(
		"runlens_tokens_total",
		metric.WithDescription("Total number of tokens processed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	c.toolCallsTotal, err = meter.Int64Counter(
		"runlens_tool_calls_total",
		metric.WithDescription("Total number of tool call attempts"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	c.retriesTotal, err = meter.Int64Counter(
		"runlens_retries_total",
		metric.WithDescription("Total number of retry attempts beyond the first"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	// Initialize histograms
	c.runDuration, err = meter.Float64Histogram(
		"runlens_run_duration_seconds",
		metric.WithDescription("Workflow run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	c.llmLatency, err = meter.Float64Histogram(
		"runlens_llm_latency_seconds",
		metric.WithDescription("LLM request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	c.toolDuration, err = meter.Float64Histogram(
		"runlens_tool_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	// Initialize observable gauges
	_, err = meter.Int64ObservableGauge(
		"runlens_active_runs",
		metric.WithDescription("Number of currently active runs"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			c.activeRunsMu.RLock()
			count := len(c.activeRuns)
			c.activeRunsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Float64ObservableGauge(
		"runlens_cost_usd",
		metric.WithDescription("Cumulative estimated LLM cost in USD"),
		metric.WithUnit("USD"),
		metric.WithFloat64Callback(func(ctx context.Context, observer metric.Float64Observer) error {
			c.totalCostMu.RLock()
			cost := c.totalCostUSD
			c.totalCostMu.RUnlock()
			observer.Observe(cost)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// RecordRunStart records the start of a run
func (c *Collector) RecordRunStart(ctx context.Context, runID, workflow string) {
	c.activeRunsMu.Lock()
	c.activeRuns[runID] = true
	c.activeRunsMu.Unlock()
}

// RecordRunComplete records the completion of a run
func (c *Collector) RecordRunComplete(ctx context.Context, runID, workflow, status string, attempt int, duration time.Duration) {
	c.activeRunsMu.Lock()
	delete(c.activeRuns, runID)
	c.activeRunsMu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String("workflow", workflow),
		attribute.String("status", status),
		attribute.String("attempt", strconv.Itoa(attempt)),
	}

	c.runsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if attempt > 1 {
		c.retriesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow", workflow),
			attribute.String("status", status),
		))
	}
}

// RecordLLMRequest records an LLM request completion
func (c *Collector) RecordLLMRequest(ctx context.Context, provider, model, status string, inputTokens, outputTokens int64, costUSD float64, latency time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("status", status),
	}

	c.llmRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.llmLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))

	// Record tokens
	if inputTokens > 0 {
		tokenAttrs := append(attrs, attribute.String("type", "input"))
		c.tokensTotal.Add(ctx, inputTokens, metric.WithAttributes(tokenAttrs...))
	}
	if outputTokens > 0 {
		tokenAttrs := append(attrs, attribute.String("type", "output"))
		c.tokensTotal.Add(ctx, outputTokens, metric.WithAttributes(tokenAttrs...))
	}

	// Update cumulative cost
	if costUSD > 0 {
		c.totalCostMu.Lock()
		c.totalCostUSD += costUSD
		c.totalCostMu.Unlock()
	}
}

// RecordToolCall records a tool call attempt
func (c *Collector) RecordToolCall(ctx context.Context, toolName, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", toolName),
		attribute.String("status", status),
	}

	c.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// ActiveRunCount returns the number of runs currently in flight
func (c *Collector) ActiveRunCount() int {
	c.activeRunsMu.RLock()
	defer c.activeRunsMu.RUnlock()
	return len(c.activeRuns)
}

// TotalCostUSD returns the cumulative estimated cost recorded so far
func (c *Collector) TotalCostUSD() float64 {
	c.totalCostMu.RLock()
	defer c.totalCostMu.RUnlock()
	return c.totalCostUSD
}
