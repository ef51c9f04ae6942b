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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	_ "modernc.org/sqlite"

	"github.com/runlens/runlens/pkg/run"
)

// SQLiteExporter is a durable local log exporter for ledger events. It
// appends every record to a SQLite table and supports lookup by run id for
// operational debugging. Rows are never updated or deleted.
type SQLiteExporter struct {
	db *sql.DB
}

var _ sdklog.Exporter = (*SQLiteExporter)(nil)

// SQLiteConfig contains the durable sink configuration.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// NewSQLiteExporter opens (and if needed creates) the ledger database.
func NewSQLiteExporter(cfg SQLiteConfig) (*SQLiteExporter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode keeps concurrent readers off the writer's lock.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	exp := &SQLiteExporter{db: db}
	if err := exp.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return exp, nil
}

func (e *SQLiteExporter) migrate(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ledger_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_name TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		timestamp_ns INTEGER NOT NULL,
		severity TEXT NOT NULL,
		trace_id TEXT NOT NULL DEFAULT '',
		span_id TEXT NOT NULL DEFAULT '',
		attributes TEXT NOT NULL DEFAULT '{}'
	)`)
	if err != nil {
		return fmt.Errorf("failed to create ledger_events table: %w", err)
	}

	_, err = e.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_run_id ON ledger_events(run_id)`)
	if err != nil {
		return fmt.Errorf("failed to create run_id index: %w", err)
	}
	return nil
}

// Export implements sdklog.Exporter.
func (e *SQLiteExporter) Export(ctx context.Context, records []sdklog.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_events
		(event_name, run_id, timestamp_ns, severity, trace_id, span_id, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		record := &records[i]

		runID := ""
		attrs := make(map[string]any)
		record.WalkAttributes(func(kv log.KeyValue) bool {
			attrs[kv.Key] = logValueToAny(kv.Value)
			if kv.Key == run.KeyRunID {
				runID = kv.Value.AsString()
			}
			return true
		})

		attrJSON, err := json.Marshal(attrs)
		if err != nil {
			attrJSON = []byte("{}")
		}

		traceID, spanID := "", ""
		if record.TraceID().IsValid() {
			traceID = record.TraceID().String()
			spanID = record.SpanID().String()
		}

		eventName := record.EventName()
		if eventName == "" {
			eventName = record.Body().AsString()
		}

		if _, err := stmt.ExecContext(ctx,
			eventName,
			runID,
			record.Timestamp().UnixNano(),
			severityText(record.Severity()),
			traceID,
			spanID,
			string(attrJSON),
		); err != nil {
			return fmt.Errorf("failed to insert ledger event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger events: %w", err)
	}
	return nil
}

// ForceFlush implements sdklog.Exporter. Writes are committed per export
// batch, so there is nothing further to drain.
func (e *SQLiteExporter) ForceFlush(context.Context) error { return nil }

// Shutdown implements sdklog.Exporter.
func (e *SQLiteExporter) Shutdown(context.Context) error {
	return e.db.Close()
}

// Event is one persisted ledger row.
type Event struct {
	EventName  string
	RunID      string
	Timestamp  time.Time
	Severity   string
	TraceID    string
	SpanID     string
	Attributes map[string]any
}

// EventsForRun returns all persisted events for a run in emission order.
func (e *SQLiteExporter) EventsForRun(ctx context.Context, runID string) ([]Event, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT
		event_name, run_id, timestamp_ns, severity, trace_id, span_id, attributes
		FROM ledger_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev          Event
			timestampNS int64
			attrJSON    string
		)
		if err := rows.Scan(&ev.EventName, &ev.RunID, &timestampNS,
			&ev.Severity, &ev.TraceID, &ev.SpanID, &attrJSON); err != nil {
			return nil, fmt.Errorf("failed to scan ledger event: %w", err)
		}
		ev.Timestamp = time.Unix(0, timestampNS).UTC()
		if err := json.Unmarshal([]byte(attrJSON), &ev.Attributes); err != nil {
			ev.Attributes = map[string]any{}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func logValueToAny(v log.Value) any {
	switch v.Kind() {
	case log.KindString:
		return v.AsString()
	case log.KindInt64:
		return v.AsInt64()
	case log.KindFloat64:
		return v.AsFloat64()
	case log.KindBool:
		return v.AsBool()
	case log.KindBytes:
		return v.AsBytes()
	default:
		return v.String()
	}
}
