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

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/runlens/runlens/pkg/run"
)

func newSQLiteLedger(t *testing.T) (*Ledger, *SQLiteExporter) {
	t.Helper()

	exporter, err := NewSQLiteExporter(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return New(provider, WithServiceName("testsvc")), exporter
}

func TestSQLiteExporter_RequiresPath(t *testing.T) {
	_, err := NewSQLiteExporter(SQLiteConfig{})
	require.Error(t, err)
}

func TestSQLiteExporter_PersistsAndQueriesByRun(t *testing.T) {
	l, exporter := newSQLiteLedger(t)
	ctx := context.Background()

	rc, err := run.New("Support", "e1", "c1")
	require.NoError(t, err)

	l.AttemptStarted(ctx, rc)
	l.LLMAttempted(ctx, LLMAttempt{
		RunID:        rc.RunID,
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  100,
		OutputTokens: 20,
		Duration:     800 * time.Millisecond,
	})
	l.AttemptEnded(ctx, rc.RunID, StatusSuccess, time.Second, "", "")

	// Unrelated run must not show up in the query.
	l.AttemptEnded(ctx, "other-run", StatusError, time.Second, "ValueError", "")

	events, err := exporter.EventsForRun(ctx, rc.RunID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "attempt.started", events[0].EventName)
	assert.Equal(t, "llm.attempted", events[1].EventName)
	assert.Equal(t, "attempt.ended", events[2].EventName)

	assert.Equal(t, rc.RunID, events[1].RunID)
	assert.Equal(t, "gpt-4o", events[1].Attributes["gen_ai.request.model"])
	assert.Equal(t, float64(100), events[1].Attributes["gen_ai.usage.input_tokens"])
	assert.Equal(t, "INFO", events[1].Severity)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestSQLiteExporter_EmptyResult(t *testing.T) {
	_, exporter := newSQLiteLedger(t)

	events, err := exporter.EventsForRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}
