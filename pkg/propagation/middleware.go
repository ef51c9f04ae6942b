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

package propagation

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	otelpropagation "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/runlens/runlens/pkg/run"
	"github.com/runlens/runlens/pkg/runid"
)

// Explicit HTTP headers accepted for run identity, for callers that do not
// speak W3C Baggage. Baggage takes precedence when both are present.
const (
	HeaderRunID      = "X-Runlens-Run-Id"
	HeaderWorkflow   = "X-Runlens-Workflow"
	HeaderCustomerID = "X-Runlens-Customer-Id"
)

// MiddlewareConfig configures the inbound HTTP middleware.
type MiddlewareConfig struct {
	// Workflow is the fallback workflow name when the request carries none.
	Workflow string

	// AutoGenerateRunID mints a fresh run identifier for requests that
	// arrive without one. Default true.
	AutoGenerateRunID bool
}

// Middleware returns an HTTP middleware that extracts run identity from
// incoming requests and publishes it as baggage for the handler's context.
//
// It reads W3C trace context and baggage first, falls back to the
// X-Runlens-* headers, and enriches the current server span so the request
// is attributed even when the caller propagated nothing. The run identity
// is echoed back on the response headers.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	autoGenerate := cfg.AutoGenerateRunID

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), otelpropagation.HeaderCarrier(r.Header))

			runID := baggage.FromContext(ctx).Member(run.KeyRunID).Value()
			if runID == "" {
				runID = r.Header.Get(HeaderRunID)
			}
			if runID == "" && autoGenerate {
				runID = runid.New()
			}

			workflow := baggage.FromContext(ctx).Member(run.KeyWorkflow).Value()
			if workflow == "" {
				workflow = r.Header.Get(HeaderWorkflow)
			}
			if workflow == "" {
				workflow = cfg.Workflow
			}

			customerID := baggage.FromContext(ctx).Member(run.KeyCustomerID).Value()
			if customerID == "" {
				customerID = r.Header.Get(HeaderCustomerID)
			}

			span := trace.SpanFromContext(ctx)
			if runID != "" {
				span.SetAttributes(attribute.String(run.KeyRunID, runID))
			}
			if workflow != "" {
				span.SetAttributes(attribute.String(run.KeyWorkflow, workflow))
			}
			if customerID != "" {
				span.SetAttributes(attribute.String(run.KeyCustomerID, customerID))
			}

			ctx = contextWithMembers(ctx, map[string]string{
				run.KeyRunID:      runID,
				run.KeyWorkflow:   workflow,
				run.KeyCustomerID: customerID,
			})

			if runID != "" {
				w.Header().Set(HeaderRunID, runID)
			}
			if workflow != "" {
				w.Header().Set(HeaderWorkflow, workflow)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// contextWithMembers sets the non-empty key/value pairs as baggage members
// in a single composite update.
func contextWithMembers(ctx context.Context, kv map[string]string) context.Context {
	bag := baggage.FromContext(ctx)
	changed := false

	for k, v := range kv {
		if v == "" {
			continue
		}
		member, err := baggage.NewMemberRaw(k, v)
		if err != nil {
			continue
		}
		if next, err := bag.SetMember(member); err == nil {
			bag = next
			changed = true
		}
	}

	if !changed {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// Transport wraps an http.RoundTripper to inject trace context and run
// baggage into outbound requests.
type Transport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	req = req.Clone(req.Context())
	otel.GetTextMapPropagator().Inject(req.Context(), otelpropagation.HeaderCarrier(req.Header))

	if runID := RunID(req.Context()); runID != "" {
		req.Header.Set(HeaderRunID, runID)
	}

	return base.RoundTrip(req)
}

// WrapHTTPClient returns a copy of client whose transport injects run
// identity into every request. A nil client wraps http.DefaultClient.
func WrapHTTPClient(client *http.Client) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	return &http.Client{
		Transport:     &Transport{Base: client.Transport},
		CheckRedirect: client.CheckRedirect,
		Jar:           client.Jar,
		Timeout:       client.Timeout,
	}
}
