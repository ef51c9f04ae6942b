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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	otelpropagation "go.opentelemetry.io/otel/propagation"

	"github.com/runlens/runlens/pkg/run"
	"github.com/runlens/runlens/pkg/runid"
)

func withGlobalPropagator(t *testing.T) {
	t.Helper()
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(W3CPropagator())
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
}

func TestMiddleware_ExtractsBaggageIdentity(t *testing.T) {
	withGlobalPropagator(t)

	rc := newTestRun(t)
	var seenRunID, seenWorkflow string
	handler := Middleware(MiddlewareConfig{})(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			seenRunID = RunID(r.Context())
			seenWorkflow = Workflow(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	outCtx := ContextWithRun(context.Background(), rc, ModeLean)
	otel.GetTextMapPropagator().Inject(outCtx, otelpropagation.HeaderCarrier(req.Header))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, rc.RunID, seenRunID)
	assert.Equal(t, "Support", seenWorkflow)
	assert.Equal(t, rc.RunID, rec.Header().Get(HeaderRunID))
}

func TestMiddleware_HeaderFallback(t *testing.T) {
	withGlobalPropagator(t)

	id := runid.New()
	var seenRunID, seenCustomer string
	handler := Middleware(MiddlewareConfig{Workflow: "Ingest"})(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			seenRunID = RunID(r.Context())
			seenCustomer = baggage.FromContext(r.Context()).Member(run.KeyCustomerID).Value()
		}))

	req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
	req.Header.Set(HeaderRunID, id)
	req.Header.Set(HeaderCustomerID, "acme")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, id, seenRunID)
	assert.Equal(t, "acme", seenCustomer)
	assert.Equal(t, "Ingest", rec.Header().Get(HeaderWorkflow))
}

func TestMiddleware_AutoGeneratesRunID(t *testing.T) {
	withGlobalPropagator(t)

	var seenRunID string
	handler := Middleware(MiddlewareConfig{Workflow: "W", AutoGenerateRunID: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenRunID = RunID(r.Context())
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, runid.IsValid(seenRunID))
	assert.Equal(t, seenRunID, rec.Header().Get(HeaderRunID))
}

func TestTransport_InjectsRunIdentity(t *testing.T) {
	withGlobalPropagator(t)

	rc := newTestRun(t)
	var gotBaggage, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBaggage = r.Header.Get("baggage")
		gotHeader = r.Header.Get(HeaderRunID)
	}))
	defer srv.Close()

	client := WrapHTTPClient(srv.Client())
	ctx := ContextWithRun(context.Background(), rc, ModeLean)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, gotBaggage, run.KeyRunID)
	assert.Equal(t, rc.RunID, gotHeader)
}
