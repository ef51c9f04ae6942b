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
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runlens/runlens/pkg/ledger"
	"github.com/runlens/runlens/pkg/metrics"
	"github.com/runlens/runlens/pkg/propagation"
	"github.com/runlens/runlens/pkg/run"
)

// RunScope is one tracked run attempt: a run context, its span, and the
// derived context carrying the run baggage.
type RunScope struct {
	rc   *run.Context
	span trace.Span

	collector *metrics.Collector
	sink      *ledger.Ledger
	startedAt time.Time

	mu    sync.Mutex
	ended bool
}

// StartRun begins a tracked run: it validates identity, opens the run
// span, emits the attempt.started ledger event, and returns a context
// carrying the run baggage. The caller must End the returned scope.
//
// Identity or validation errors surface here, before any telemetry is
// produced; they wrap run.ErrInvalidArgument.
func StartRun(ctx context.Context, workflow string, opts ...RunOption) (context.Context, *RunScope, error) {
	cfg := newRunConfig(opts)

	eventID, customerID, err := cfg.resolveIdentity(ctx)
	if err != nil {
		return ctx, nil, err
	}

	runOpts := cfg.runOptions()

	var rc *run.Context
	if cfg.retryOf != nil {
		// A retry inherits parent_run_id from the previous attempt. The
		// ambient baggage on ctx is usually that same failed attempt, and
		// reading it here would rewrite the parent to the prior run_id,
		// turning a retry into a fan-out child.
		rc = run.NewRetry(cfg.retryOf, runOpts...)
	} else {
		// An ambient run on the incoming context makes this a child run.
		if parent, ok := propagation.RunFromContext(ctx); ok {
			runOpts = append(runOpts, run.WithParentRunID(parent.RunID))
		}
		rc, err = run.New(workflow, eventID, customerID, runOpts...)
		if err != nil {
			return ctx, nil, err
		}
	}

	scope := &RunScope{
		rc:        rc,
		collector: cfg.collector,
		sink:      cfg.sink,
		startedAt: time.Now(),
	}

	ctx = propagation.ContextWithRun(ctx, rc, cfg.mode)
	ctx, scope.span = otel.Tracer(tracerName).Start(ctx,
		"runlens.run/"+workflow,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(rc.SpanAttributes()...),
	)
	scope.span.AddEvent("runlens.run.started")

	if scope.collector != nil {
		scope.collector.RecordRunStart(ctx, rc.RunID, workflow)
	}
	scope.ledger().AttemptStarted(ctx, rc)

	return ctx, scope, nil
}

// Context returns the scope's run context.
func (s *RunScope) Context() *run.Context { return s.rc }

// RunID returns the scope's run identifier.
func (s *RunScope) RunID() string { return s.rc.RunID }

// SetOutcome records the business outcome for this run. The first write
// wins; later calls (including End's automatic success) report false.
func (s *RunScope) SetOutcome(status run.Status, opts ...run.OutcomeOption) bool {
	return s.rc.Complete(status, opts...)
}

// RequestCancellation marks the run cancelled and records the
// cancellation.requested ledger event.
func (s *RunScope) RequestCancellation(ctx context.Context, reason string) {
	s.rc.RequestCancellation()
	s.ledger().CancellationRequested(ctx, s.rc.RunID, reason)
}

// End completes the run. A nil err finalizes with an automatic success
// outcome unless one was already set; a non-nil err records the error on
// the span and sets a failure outcome. Idempotent: only the first call
// has effect. The error is never altered, so callers can End and still
// return err unchanged.
func (s *RunScope) End(ctx context.Context, err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	duration := time.Since(s.startedAt)

	if err != nil {
		s.rc.Complete(run.StatusFailure, run.WithErrorClass(fmt.Sprintf("%T", err)))
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		// Default outcome; a no-op when the caller already set one.
		s.rc.Complete(run.StatusSuccess)
		s.span.SetStatus(codes.Ok, "")
	}

	// Re-project to pick up outcome and duration attributes.
	s.span.SetAttributes(s.rc.SpanAttributes()...)
	s.span.AddEvent("runlens.run.completed")
	s.span.End()

	out, _ := s.rc.Outcome()
	if s.collector != nil {
		s.collector.RecordRunComplete(ctx, s.rc.RunID, s.rc.Workflow,
			string(out.Status), s.rc.Attempt, duration)
	}
	s.ledger().AttemptEnded(ctx, s.rc.RunID, ledgerStatus(out.Status),
		duration, out.ErrorClass, out.ReasonCode)
}

func (s *RunScope) ledger() *ledger.Ledger {
	if s.sink != nil {
		return s.sink
	}
	return ledger.Global()
}

// ledgerStatus maps a run outcome status onto the ledger's attempt status
// vocabulary. Partial outcomes delivered value, so they count as success.
func ledgerStatus(status run.Status) ledger.AttemptStatus {
	switch status {
	case run.StatusFailure:
		return ledger.StatusError
	case run.StatusTimeout:
		return ledger.StatusTimeout
	case run.StatusCanceled:
		return ledger.StatusCancelled
	default:
		return ledger.StatusSuccess
	}
}

// Run executes fn inside a tracked run scope. It shares StartRun's
// pre-flight and End's completion logic; application errors are annotated
// and returned unchanged, and panics are recorded before repanicking.
func Run(ctx context.Context, workflow string, fn func(context.Context) error, opts ...RunOption) error {
	ctx, scope, err := StartRun(ctx, workflow, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			scope.End(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err = fn(ctx)
	scope.End(ctx, err)
	return err
}
