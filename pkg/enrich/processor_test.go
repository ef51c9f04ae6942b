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

package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/runlens/runlens/pkg/propagation"
	"github.com/runlens/runlens/pkg/run"
)

func newTestPipeline(t *testing.T, fidelity Fidelity) (trace.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewProcessor(fidelity)),
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return tp.Tracer("test"), exporter
}

func spanAttrs(t *testing.T, exporter *tracetest.InMemoryExporter) map[attribute.Key]string {
	t.Helper()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	attrs := make(map[attribute.Key]string)
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value.AsString()
	}
	return attrs
}

func TestProcessor_LeanCopiesIdentityKeys(t *testing.T) {
	tracer, exporter := newTestPipeline(t, FidelityLean)

	rc, err := run.New("Support", "e1", "c1", run.WithTenantID("t1"))
	require.NoError(t, err)
	ctx := propagation.ContextWithRun(context.Background(), rc, propagation.ModeFull)

	_, span := tracer.Start(ctx, "child.op")
	span.End()

	attrs := spanAttrs(t, exporter)
	assert.Equal(t, rc.RunID, attrs[run.KeyRunID])
	assert.Equal(t, "Support", attrs[run.KeyWorkflow])
	assert.NotContains(t, attrs, attribute.Key(run.KeyCustomerID))
	assert.NotContains(t, attrs, attribute.Key(run.KeyTenantID))
}

func TestProcessor_FullCopiesSixKeys(t *testing.T) {
	tracer, exporter := newTestPipeline(t, FidelityFull)

	rc, err := run.New("Support", "e1", "c1", run.WithTenantID("t1"))
	require.NoError(t, err)
	ctx := propagation.ContextWithRun(context.Background(), rc, propagation.ModeFull)

	_, span := tracer.Start(ctx, "child.op")
	span.End()

	attrs := spanAttrs(t, exporter)
	assert.Equal(t, rc.RunID, attrs[run.KeyRunID])
	assert.Equal(t, "Support", attrs[run.KeyWorkflow])
	assert.Equal(t, "e1", attrs[run.KeyEventID])
	assert.Equal(t, "c1", attrs[run.KeyCustomerID])
	assert.Equal(t, "production", attrs[run.KeyEnvironment])
	assert.Equal(t, "t1", attrs[run.KeyTenantID])
}

func TestProcessor_ExplicitAttributesWin(t *testing.T) {
	tracer, exporter := newTestPipeline(t, FidelityLean)

	rc, err := run.New("Support", "e1", "c1")
	require.NoError(t, err)
	ctx := propagation.ContextWithRun(context.Background(), rc, propagation.ModeLean)

	_, span := tracer.Start(ctx, "child.op",
		trace.WithAttributes(attribute.String(run.KeyWorkflow, "Override")))
	span.End()

	attrs := spanAttrs(t, exporter)
	assert.Equal(t, "Override", attrs[run.KeyWorkflow])
	assert.Equal(t, rc.RunID, attrs[run.KeyRunID])
}

func TestProcessor_NoBaggageNoAttributes(t *testing.T) {
	tracer, exporter := newTestPipeline(t, FidelityFull)

	_, span := tracer.Start(context.Background(), "orphan.op")
	span.End()

	attrs := spanAttrs(t, exporter)
	assert.NotContains(t, attrs, attribute.Key(run.KeyRunID))
	assert.NotContains(t, attrs, attribute.Key(run.KeyWorkflow))
}
