// Copyright 2026 The Runlens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package track instruments LLM and tool calls for cost attribution.
//
// Spans follow the OpenTelemetry GenAI semantic conventions; every
// finished call is also written to the attempt ledger so token counts
// survive trace sampling.
package track

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runlens/runlens/pkg/ledger"
	"github.com/runlens/runlens/pkg/metrics"
	"github.com/runlens/runlens/pkg/propagation"
)

// GenAI semantic convention attribute names, plus runlens extensions for
// cache accounting and billing reconciliation.
const (
	attrOperationName     = "gen_ai.operation.name"
	attrProviderName      = "gen_ai.provider.name"
	attrRequestModel      = "gen_ai.request.model"
	attrResponseModel     = "gen_ai.response.model"
	attrUsageInputTokens  = "gen_ai.usage.input_tokens"
	attrUsageOutputTokens = "gen_ai.usage.output_tokens"
	attrResponseID        = "gen_ai.response.id"
	attrFinishReasons     = "gen_ai.response.finish_reasons"
	attrToolName          = "gen_ai.tool.name"
	attrToolCallID        = "gen_ai.tool.call.id"
	attrErrorType         = "error.type"

	attrCachedTokens     = "runlens.usage.cached_tokens"
	attrCacheReadTokens  = "runlens.usage.cache_read_tokens"
	attrCacheWriteTokens = "runlens.usage.cache_write_tokens"
	attrStreaming        = "runlens.request.streaming"
	attrCacheHit         = "runlens.request.cache_hit"
	attrAttemptNumber    = "runlens.request.attempt"
	attrEstimatedCost    = "runlens.cost.estimated_usd"
)

// Operation names per the GenAI semantic conventions.
const (
	OperationChat           = "chat"
	OperationTextCompletion = "text_completion"
	OperationEmbeddings     = "embeddings"
	OperationExecuteTool    = "execute_tool"
)

const tracerName = "runlens.gen_ai"

// providerNames maps common aliases to canonical GenAI provider names.
var providerNames = map[string]string{
	"openai":         "openai",
	"azure_openai":   "azure.openai",
	"azure-openai":   "azure.openai",
	"azureopenai":    "azure.openai",
	"anthropic":      "anthropic",
	"claude":         "anthropic",
	"bedrock":        "aws.bedrock",
	"aws_bedrock":    "aws.bedrock",
	"amazon_bedrock": "aws.bedrock",
	"vertex":         "gcp.vertex_ai",
	"vertexai":       "gcp.vertex_ai",
	"vertex_ai":      "gcp.vertex_ai",
	"gcp_vertex":     "gcp.vertex_ai",
	"gemini":         "gcp.vertex_ai",
	"google":         "gcp.vertex_ai",
	"cohere":         "cohere",
	"mistral":        "mistral",
	"mistralai":      "mistral",
	"together":       "together",
	"togetherai":     "together",
	"groq":           "groq",
	"replicate":      "replicate",
	"ollama":         "ollama",
	"huggingface":    "huggingface",
	"hf":             "huggingface",
	"fireworks":      "fireworks",
	"perplexity":     "perplexity",
}

// NormalizeProvider maps a provider alias to its canonical name. Unknown
// providers pass through lowercased.
func NormalizeProvider(provider string) string {
	lower := strings.ToLower(provider)
	if canonical, ok := providerNames[lower]; ok {
		return canonical
	}
	return lower
}

// LLMCall tracks one model call from start to End.
type LLMCall struct {
	provider  string
	model     string
	operation string
	runID     string
	attempt   int

	span      trace.Span
	start     time.Time
	collector *metrics.Collector
	ledger    *ledger.Ledger

	mu               sync.Mutex
	ended            bool
	inputTokens      int64
	outputTokens     int64
	cachedTokens     int64
	requestID        string
	estimatedCostUSD float64
}

// LLMOption configures an LLM call tracker.
type LLMOption func(*LLMCall)

// WithOperation sets the GenAI operation name. Default "chat".
func WithOperation(op string) LLMOption {
	return func(c *LLMCall) { c.operation = op }
}

// WithAttempt records which retry attempt this call belongs to.
func WithAttempt(n int) LLMOption {
	return func(c *LLMCall) {
		if n >= 1 {
			c.attempt = n
		}
	}
}

// WithCollector routes call metrics to the given collector.
func WithCollector(collector *metrics.Collector) LLMOption {
	return func(c *LLMCall) { c.collector = collector }
}

// WithLedger overrides the destination ledger. Default ledger.Global().
func WithLedger(l *ledger.Ledger) LLMOption {
	return func(c *LLMCall) { c.ledger = l }
}

// StartLLM opens a client span for a model call and returns its tracker.
// The run identity comes from ambient baggage; the span is named
// "<operation> <model>" per the GenAI span conventions.
//
//	ctx, call := track.StartLLM(ctx, "anthropic", "claude-sonnet-4")
//	resp, err := client.Complete(ctx, req)
//	if resp != nil {
//		call.SetTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
//		call.SetRequestID(resp.ID)
//	}
//	call.End(err)
func StartLLM(ctx context.Context, provider, model string, opts ...LLMOption) (context.Context, *LLMCall) {
	call := &LLMCall{
		provider:  NormalizeProvider(provider),
		model:     model,
		operation: OperationChat,
		runID:     propagation.RunID(ctx),
		attempt:   propagation.Attempt(ctx),
		start:     time.Now(),
	}
	for _, opt := range opts {
		opt(call)
	}

	ctx, call.span = otel.Tracer(tracerName).Start(ctx,
		call.operation+" "+model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrOperationName, call.operation),
			attribute.String(attrProviderName, call.provider),
			attribute.String(attrRequestModel, model),
			attribute.Int(attrAttemptNumber, call.attempt),
		),
	)
	return ctx, call
}

// SetTokens records usage from the model response.
func (c *LLMCall) SetTokens(inputTokens, outputTokens int64) *LLMCall {
	c.mu.Lock()
	c.inputTokens = inputTokens
	c.outputTokens = outputTokens
	c.mu.Unlock()

	c.span.SetAttributes(
		attribute.Int64(attrUsageInputTokens, inputTokens),
		attribute.Int64(attrUsageOutputTokens, outputTokens),
	)
	return c
}

// SetCacheTokens records prompt cache accounting. readTokens counts as the
// cached total for cost purposes.
func (c *LLMCall) SetCacheTokens(readTokens, writeTokens int64) *LLMCall {
	c.mu.Lock()
	c.cachedTokens = readTokens
	c.mu.Unlock()

	if readTokens > 0 {
		c.span.SetAttributes(
			attribute.Int64(attrCachedTokens, readTokens),
			attribute.Int64(attrCacheReadTokens, readTokens),
		)
	}
	if writeTokens > 0 {
		c.span.SetAttributes(attribute.Int64(attrCacheWriteTokens, writeTokens))
	}
	return c
}

// SetRequestID records the provider request id for billing reconciliation.
func (c *LLMCall) SetRequestID(id string) *LLMCall {
	if id == "" {
		return c
	}
	c.mu.Lock()
	c.requestID = id
	c.mu.Unlock()

	c.span.SetAttributes(attribute.String(attrResponseID, id))
	return c
}

// SetResponseModel records the model the provider actually served.
func (c *LLMCall) SetResponseModel(model string) *LLMCall {
	c.span.SetAttributes(attribute.String(attrResponseModel, model))
	return c
}

// SetFinishReason records the stop reason from the response.
func (c *LLMCall) SetFinishReason(reason string) *LLMCall {
	c.span.SetAttributes(attribute.StringSlice(attrFinishReasons, []string{reason}))
	return c
}

// SetStreaming marks the request as streaming.
func (c *LLMCall) SetStreaming() *LLMCall {
	c.span.SetAttributes(attribute.Bool(attrStreaming, true))
	return c
}

// SetCacheHit marks the request as served from a response cache.
func (c *LLMCall) SetCacheHit() *LLMCall {
	c.span.SetAttributes(attribute.Bool(attrCacheHit, true))
	return c
}

// SetEstimatedCost records the caller's cost estimate in USD.
func (c *LLMCall) SetEstimatedCost(usd float64) *LLMCall {
	c.mu.Lock()
	c.estimatedCostUSD = usd
	c.mu.Unlock()

	if usd > 0 {
		c.span.SetAttributes(attribute.Float64(attrEstimatedCost, usd))
	}
	return c
}

// End finalizes the call: closes the span, records metrics, and writes the
// llm.attempted ledger event. Safe to call more than once; only the first
// call has effect. Err may be nil for success.
func (c *LLMCall) End(err error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	inputTokens := c.inputTokens
	outputTokens := c.outputTokens
	cachedTokens := c.cachedTokens
	requestID := c.requestID
	costUSD := c.estimatedCostUSD
	c.mu.Unlock()

	duration := time.Since(c.start)
	status := ledger.StatusSuccess
	errorClass := ""

	if err != nil {
		errorClass = fmt.Sprintf("%T", err)
		status = ledger.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = ledger.StatusTimeout
		}
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
		c.span.SetAttributes(attribute.String(attrErrorType, errorClass))
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()

	if c.collector != nil {
		c.collector.RecordLLMRequest(context.Background(), c.provider, c.model,
			string(status), inputTokens, outputTokens, costUSD, duration)
	}

	sink := c.ledger
	if sink == nil {
		sink = ledger.Global()
	}
	sink.LLMAttempted(context.Background(), ledger.LLMAttempt{
		RunID:             c.runID,
		Provider:          c.provider,
		Model:             c.model,
		Operation:         c.operation,
		Attempt:           c.attempt,
		InputTokens:       inputTokens,
		OutputTokens:      outputTokens,
		CachedTokens:      cachedTokens,
		Duration:          duration,
		Status:            status,
		ErrorClass:        errorClass,
		ProviderRequestID: requestID,
		EstimatedCostUSD:  costUSD,
	})
}
