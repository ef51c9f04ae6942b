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

package track

import (
	"context"
	"errors"
	"fmt"
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

const (
	attrToolSuccess        = "runlens.tool.success"
	attrToolItemsReturned  = "runlens.tool.items_returned"
	attrToolBytesProcessed = "runlens.tool.bytes_processed"
)

// ToolCall tracks one tool or function execution from start to End.
type ToolCall struct {
	name    string
	runID   string
	attempt int

	span      trace.Span
	start     time.Time
	collector *metrics.Collector
	ledger    *ledger.Ledger

	mu             sync.Mutex
	ended          bool
	callID         string
	itemsReturned  int64
	bytesProcessed int64
}

// ToolOption configures a tool call tracker.
type ToolOption func(*ToolCall)

// WithToolCallID records the call id the model assigned to this tool use.
func WithToolCallID(id string) ToolOption {
	return func(c *ToolCall) { c.callID = id }
}

// WithToolAttempt records which retry attempt this call belongs to.
func WithToolAttempt(n int) ToolOption {
	return func(c *ToolCall) {
		if n >= 1 {
			c.attempt = n
		}
	}
}

// WithToolCollector routes call metrics to the given collector.
func WithToolCollector(collector *metrics.Collector) ToolOption {
	return func(c *ToolCall) { c.collector = collector }
}

// WithToolLedger overrides the destination ledger. Default ledger.Global().
func WithToolLedger(l *ledger.Ledger) ToolOption {
	return func(c *ToolCall) { c.ledger = l }
}

// StartTool opens an internal span for a tool execution. The span is named
// "execute_tool <name>" per the GenAI conventions.
func StartTool(ctx context.Context, name string, opts ...ToolOption) (context.Context, *ToolCall) {
	call := &ToolCall{
		name:    name,
		runID:   propagation.RunID(ctx),
		attempt: propagation.Attempt(ctx),
		start:   time.Now(),
	}
	for _, opt := range opts {
		opt(call)
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperationName, OperationExecuteTool),
		attribute.String(attrToolName, name),
		attribute.Int(attrAttemptNumber, call.attempt),
	}
	if call.callID != "" {
		attrs = append(attrs, attribute.String(attrToolCallID, call.callID))
	}

	ctx, call.span = otel.Tracer(tracerName).Start(ctx,
		OperationExecuteTool+" "+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, call
}

// SetResult records what the tool produced.
func (c *ToolCall) SetResult(itemsReturned, bytesProcessed int64) *ToolCall {
	c.mu.Lock()
	c.itemsReturned = itemsReturned
	c.bytesProcessed = bytesProcessed
	c.mu.Unlock()

	if itemsReturned > 0 {
		c.span.SetAttributes(attribute.Int64(attrToolItemsReturned, itemsReturned))
	}
	if bytesProcessed > 0 {
		c.span.SetAttributes(attribute.Int64(attrToolBytesProcessed, bytesProcessed))
	}
	return c
}

// SetCallID records the call id after the fact, for tools whose id only
// becomes known from the response.
func (c *ToolCall) SetCallID(id string) *ToolCall {
	if id == "" {
		return c
	}
	c.mu.Lock()
	c.callID = id
	c.mu.Unlock()

	c.span.SetAttributes(attribute.String(attrToolCallID, id))
	return c
}

// End finalizes the call: closes the span, records metrics, and writes the
// tool.attempted ledger event. Safe to call more than once.
func (c *ToolCall) End(err error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	callID := c.callID
	itemsReturned := c.itemsReturned
	bytesProcessed := c.bytesProcessed
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
		c.span.SetAttributes(
			attribute.String(attrErrorType, errorClass),
			attribute.Bool(attrToolSuccess, false),
		)
	} else {
		c.span.SetAttributes(attribute.Bool(attrToolSuccess, true))
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()

	if c.collector != nil {
		c.collector.RecordToolCall(context.Background(), c.name, string(status), duration)
	}

	sink := c.ledger
	if sink == nil {
		sink = ledger.Global()
	}
	sink.ToolAttempted(context.Background(), ledger.ToolAttempt{
		RunID:          c.runID,
		ToolName:       c.name,
		ToolCallID:     callID,
		Attempt:        c.attempt,
		Duration:       duration,
		Status:         status,
		ErrorClass:     errorClass,
		ItemsReturned:  itemsReturned,
		BytesProcessed: bytesProcessed,
	})
}
