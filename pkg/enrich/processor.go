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

// Package enrich stamps run identity onto every span at creation time.
//
// Baggage is process-local: it rides the context but never appears in
// exported span data on its own. The span processor in this package closes
// that gap by copying the run identity baggage onto each span as it starts,
// so every span in a run is queryable by run_id without any per-callsite
// instrumentation.
package enrich

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/runlens/runlens/pkg/run"
)

// Fidelity selects which baggage keys are copied onto spans.
type Fidelity string

const (
	// FidelityLean copies run_id and workflow.
	FidelityLean Fidelity = "lean"

	// FidelityFull additionally copies event_id, customer_id, environment,
	// and tenant_id.
	FidelityFull Fidelity = "full"
)

var leanKeys = []string{
	run.KeyRunID,
	run.KeyWorkflow,
}

var fullKeys = []string{
	run.KeyRunID,
	run.KeyWorkflow,
	run.KeyEventID,
	run.KeyCustomerID,
	run.KeyEnvironment,
	run.KeyTenantID,
}

// Processor is a SpanProcessor that copies run identity from ambient
// baggage onto every span at start. Keys the span already carries are left
// untouched so explicit instrumentation always wins.
//
// OnEnd, Shutdown, and ForceFlush are no-ops: the processor holds no state
// and never blocks the export path.
type Processor struct {
	keys []string
}

var _ sdktrace.SpanProcessor = (*Processor)(nil)

// NewProcessor returns a span processor at the given fidelity. Unknown
// fidelity values fall back to lean.
func NewProcessor(fidelity Fidelity) *Processor {
	keys := leanKeys
	if fidelity == FidelityFull {
		keys = fullKeys
	}
	return &Processor{keys: keys}
}

// OnStart implements sdktrace.SpanProcessor.
func (p *Processor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	bag := baggage.FromContext(parent)
	if bag.Len() == 0 {
		return
	}

	present := make(map[attribute.Key]bool, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		present[kv.Key] = true
	}

	for _, key := range p.keys {
		if present[attribute.Key(key)] {
			continue
		}
		if v := bag.Member(key).Value(); v != "" {
			s.SetAttributes(attribute.String(key, v))
		}
	}
}

// OnEnd implements sdktrace.SpanProcessor.
func (p *Processor) OnEnd(sdktrace.ReadOnlySpan) {}

// Shutdown implements sdktrace.SpanProcessor.
func (p *Processor) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (p *Processor) ForceFlush(context.Context) error { return nil }
