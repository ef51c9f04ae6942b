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

// Package propagation carries run context across process boundaries.
//
// Run identity travels in W3C Baggage alongside trace context. Baggage is
// process-local once extracted: it is not part of exported span data,
// which is why the enrich package copies it onto every span at creation.
package propagation

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	otelpropagation "go.opentelemetry.io/otel/propagation"

	"github.com/runlens/runlens/pkg/run"
)

// Mode selects the propagation fidelity level.
type Mode string

const (
	// ModeLean propagates only run_id, workflow, event_id, and customer_id.
	// Default: minimizes per-hop baggage overhead.
	ModeLean Mode = "lean"

	// ModeFull additionally propagates environment, tenancy, genealogy,
	// deadline, and cancellation state.
	ModeFull Mode = "full"
)

// ModeFromEnv resolves the propagation mode from RUNLENS_PROPAGATION_MODE,
// defaulting to lean.
func ModeFromEnv() Mode {
	if Mode(strings.ToLower(os.Getenv("RUNLENS_PROPAGATION_MODE"))) == ModeFull {
		return ModeFull
	}
	return ModeLean
}

// ContextWithRun derives a context whose baggage carries the run identity.
//
// The baggage update is built as a single composite value: existing
// unrelated members survive, and exactly one new baggage is published on
// the returned context. The caller's context is never mutated, so the
// carrier is restored simply by the derived context going out of scope.
func ContextWithRun(ctx context.Context, rc *run.Context, mode Mode) context.Context {
	bag := baggage.FromContext(ctx)

	for k, v := range rc.EncodeBaggage(mode == ModeFull) {
		member, err := baggage.NewMemberRaw(k, v)
		if err != nil {
			slog.Debug("skipping unpropagatable baggage member", "key", k, "error", err)
			continue
		}
		if bag, err = bag.SetMember(member); err != nil {
			slog.Debug("failed to set baggage member", "key", k, "error", err)
		}
	}

	return baggage.ContextWithBaggage(ctx, bag)
}

// RunFromContext reconstructs the propagated run context from the ambient
// baggage. ok is false when no valid identity is present (run_id and
// workflow are both required); a partial or malformed carrier is treated
// as "no ambient run", never as an error.
func RunFromContext(ctx context.Context) (*run.Context, bool) {
	bag := baggage.FromContext(ctx)
	if bag.Len() == 0 {
		return nil, false
	}

	kv := make(map[string]string, bag.Len())
	for _, member := range bag.Members() {
		if strings.HasPrefix(member.Key(), "runlens.") {
			kv[member.Key()] = member.Value()
		}
	}

	return run.DecodeBaggage(kv)
}

// RunID returns the propagated run identifier, or "" when none is set.
func RunID(ctx context.Context) string {
	return baggage.FromContext(ctx).Member(run.KeyRunID).Value()
}

// Workflow returns the propagated workflow name, or "" when none is set.
func Workflow(ctx context.Context) string {
	return baggage.FromContext(ctx).Member(run.KeyWorkflow).Value()
}

// Attempt returns the propagated attempt number, defaulting to 1.
func Attempt(ctx context.Context) int {
	rc, ok := RunFromContext(ctx)
	if !ok {
		return 1
	}
	return rc.Attempt
}

// W3CPropagator returns the composite TextMapPropagator used for
// cross-process calls: W3C Trace Context plus W3C Baggage.
func W3CPropagator() otelpropagation.TextMapPropagator {
	return otelpropagation.NewCompositeTextMapPropagator(
		otelpropagation.TraceContext{},
		otelpropagation.Baggage{},
	)
}

// SetGlobal installs the composite propagator as the process-wide default.
func SetGlobal() {
	otel.SetTextMapPropagator(W3CPropagator())
}
