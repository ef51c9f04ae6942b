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

package sdk

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/runlens/runlens/pkg/enrich"
	"github.com/runlens/runlens/pkg/ledger"
	"github.com/runlens/runlens/pkg/propagation"
	"github.com/runlens/runlens/pkg/run"
)

// capturingExporter records ledger events for assertions.
type capturingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (c *capturingExporter) Export(_ context.Context, records []sdklog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

func (c *capturingExporter) ForceFlush(context.Context) error { return nil }
func (c *capturingExporter) Shutdown(context.Context) error   { return nil }

func (c *capturingExporter) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []map[string]any
	for i := range c.records {
		attrs := make(map[string]any)
		c.records[i].WalkAttributes(func(kv otellog.KeyValue) bool {
			switch kv.Value.Kind() {
			case otellog.KindInt64:
				attrs[kv.Key] = kv.Value.AsInt64()
			case otellog.KindFloat64:
				attrs[kv.Key] = kv.Value.AsFloat64()
			default:
				attrs[kv.Key] = kv.Value.AsString()
			}
			return true
		})
		events = append(events, attrs)
	}
	return events
}

func setupScope(t *testing.T) (*tracetest.InMemoryExporter, *capturingExporter, *ledger.Ledger) {
	t.Helper()

	spanExporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(enrich.NewProcessor(enrich.FidelityFull)),
		sdktrace.WithSyncer(spanExporter),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	logExporter := &capturingExporter{}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(logExporter)),
	)
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	return spanExporter, logExporter, ledger.New(lp, ledger.WithServiceName("testsvc"))
}

func spanAttrMap(s tracetest.SpanStub) map[string]any {
	attrs := make(map[string]any)
	for _, kv := range s.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}

func TestStartRun_MissingIdentityFailsFast(t *testing.T) {
	spans, logs, sink := setupScope(t)

	_, scope, err := StartRun(context.Background(), "Support", WithSink(sink))
	require.ErrorIs(t, err, run.ErrInvalidArgument)
	assert.Nil(t, scope)

	assert.Empty(t, spans.GetSpans(), "no telemetry before validation passes")
	assert.Empty(t, logs.events(t))
}

func TestStartRun_SuccessfulScope(t *testing.T) {
	spans, logs, sink := setupScope(t)

	ctx, scope, err := StartRun(context.Background(), "Support",
		WithEventID("ticket-42"),
		WithCustomerID("acme"),
		WithSink(sink),
	)
	require.NoError(t, err)

	assert.Equal(t, scope.RunID(), propagation.RunID(ctx),
		"scope context carries the run baggage")

	recorded := scope.SetOutcome(run.StatusSuccess, run.WithValue("tickets_resolved", 1))
	assert.True(t, recorded)
	scope.End(ctx, nil)
	scope.End(ctx, errors.New("ignored")) // idempotent

	exported := spans.GetSpans()
	require.Len(t, exported, 1)
	span := exported[0]

	assert.Equal(t, "runlens.run/Support", span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)
	require.Len(t, span.Events, 2)
	assert.Equal(t, "runlens.run.started", span.Events[0].Name)
	assert.Equal(t, "runlens.run.completed", span.Events[1].Name)

	attrs := spanAttrMap(span)
	assert.Equal(t, scope.RunID(), attrs[run.KeyRunID])
	assert.Equal(t, "ticket-42", attrs[run.KeyEventID])
	assert.Equal(t, "success", attrs[run.KeyOutcomeStatus])
	assert.Equal(t, float64(1), attrs[run.KeyOutcomeValue])
	assert.Contains(t, attrs, run.KeyRunDurationMS)

	events := logs.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "attempt.started", events[0]["event.name"])
	assert.Equal(t, "attempt.ended", events[1]["event.name"])
	assert.Equal(t, "success", events[1]["status"])
}

func TestRun_ErrorPassesThroughUnchanged(t *testing.T) {
	spans, logs, sink := setupScope(t)

	appErr := errors.New("provider unavailable")
	err := Run(context.Background(), "Support",
		func(context.Context) error { return appErr },
		WithEventID("e1"), WithCustomerID("c1"), WithSink(sink),
	)

	require.Same(t, appErr, err, "application error is never wrapped or altered")

	exported := spans.GetSpans()
	require.Len(t, exported, 1)
	assert.Equal(t, codes.Error, exported[0].Status.Code)

	attrs := spanAttrMap(exported[0])
	assert.Equal(t, "failure", attrs[run.KeyOutcomeStatus])
	assert.Equal(t, "*errors.errorString", attrs[run.KeyOutcomeErrorClass])

	events := logs.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1]["status"])
	assert.Equal(t, "*errors.errorString", events[1]["error_class"])
}

func TestRun_ExplicitOutcomeNotOverwritten(t *testing.T) {
	spans, _, sink := setupScope(t)

	ctx, scope, err := StartRun(context.Background(), "Support",
		WithEventID("e1"), WithCustomerID("c1"), WithSink(sink))
	require.NoError(t, err)

	scope.SetOutcome(run.StatusPartial, run.WithReasonCode("needs_review"))
	scope.End(ctx, nil)

	exported := spans.GetSpans()
	require.Len(t, exported, 1)
	attrs := spanAttrMap(exported[0])
	assert.Equal(t, "partial", attrs[run.KeyOutcomeStatus])
	assert.Equal(t, "needs_review", attrs[run.KeyOutcomeReasonCode])
}

func TestRun_PanicRecordedAndRepanics(t *testing.T) {
	spans, logs, sink := setupScope(t)

	require.Panics(t, func() {
		_ = Run(context.Background(), "Support",
			func(context.Context) error { panic("boom") },
			WithEventID("e1"), WithCustomerID("c1"), WithSink(sink),
		)
	})

	exported := spans.GetSpans()
	require.Len(t, exported, 1)
	assert.Equal(t, codes.Error, exported[0].Status.Code)

	events := logs.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1]["status"])
}

func TestStartRun_ChildLinksToAmbientParent(t *testing.T) {
	spans, _, sink := setupScope(t)

	parentCtx, parentScope, err := StartRun(context.Background(), "Orchestrate",
		WithEventID("e1"), WithCustomerID("c1"),
		WithMode(propagation.ModeFull), WithSink(sink))
	require.NoError(t, err)

	childCtx, childScope, err := StartRun(parentCtx, "Fanout",
		WithEventID("e1"), WithCustomerID("c1"), WithSink(sink))
	require.NoError(t, err)

	assert.Equal(t, parentScope.RunID(), childScope.Context().ParentRunID)
	assert.NotEqual(t, parentScope.RunID(), childScope.RunID())

	childScope.End(childCtx, nil)
	parentScope.End(parentCtx, nil)

	require.Len(t, spans.GetSpans(), 2)
}

func TestStartRun_Resolvers(t *testing.T) {
	_, _, sink := setupScope(t)

	ctx, scope, err := StartRun(context.Background(), "Support",
		WithEventIDResolver(func(context.Context) (string, error) { return "e-9", nil }),
		WithCustomerIDResolver(func(context.Context) (string, error) { return "c-9", nil }),
		WithSink(sink),
	)
	require.NoError(t, err)
	assert.Equal(t, "e-9", scope.Context().EventID)
	assert.Equal(t, "c-9", scope.Context().CustomerID)
	scope.End(ctx, nil)

	_, _, err = StartRun(context.Background(), "Support",
		WithEventIDResolver(func(context.Context) (string, error) {
			return "", errors.New("no session")
		}),
		WithCustomerID("c1"), WithSink(sink),
	)
	require.ErrorIs(t, err, run.ErrInvalidArgument)
}

func TestStartRun_RetryOf(t *testing.T) {
	_, logs, sink := setupScope(t)

	ctx, first, err := StartRun(context.Background(), "Support",
		WithEventID("e1"), WithCustomerID("c1"), WithSink(sink))
	require.NoError(t, err)
	first.End(ctx, errors.New("transient"))

	// Retrying with the failed attempt's ctx is the natural call pattern;
	// the baggage still on it must not turn the retry into a child run.
	retryCtx, retry, err := StartRun(ctx, "Support",
		WithRetryOf(first.Context()), WithSink(sink))
	require.NoError(t, err)

	assert.Equal(t, 2, retry.Context().Attempt)
	assert.Equal(t, first.RunID(), retry.Context().RetryOfRunID)
	assert.Equal(t, first.RunID(), retry.Context().RootRunID)
	assert.Equal(t, first.Context().ParentRunID, retry.Context().ParentRunID,
		"retry inherits the previous attempt's parent, not the previous attempt itself")
	retry.End(retryCtx, nil)

	events := logs.events(t)
	require.Len(t, events, 4)
	assert.Equal(t, int64(2), events[2][run.KeyAttempt])
}
