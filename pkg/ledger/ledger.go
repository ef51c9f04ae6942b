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

// Package ledger is an append-only, never-sampled event log for attempt
// accounting.
//
// Cost-relevant facts (attempts, token usage, zombie work) must survive
// even when the correlated trace is sampled away, so the ledger rides the
// OTel Logs pipeline instead of the tracing pipeline. Emission is
// best-effort: sink failures are logged at debug level and never reach the
// caller. The ledger must not be able to break application control flow.
package ledger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/runlens/runlens/pkg/run"
)

// EventType identifies a ledger event.
type EventType string

const (
	EventAttemptStarted     EventType = "attempt.started"
	EventAttemptEnded       EventType = "attempt.ended"
	EventLLMAttempted       EventType = "llm.attempted"
	EventToolAttempted      EventType = "tool.attempted"
	EventCancelRequested    EventType = "cancellation.requested"
	EventCancelAcknowledged EventType = "cancellation.acknowledged"
	EventZombieDetected     EventType = "zombie.detected"
	EventRedeliveryDetected EventType = "redelivery.detected"
)

// AttemptStatus is the terminal status of an attempt-level event.
type AttemptStatus string

const (
	StatusSuccess     AttemptStatus = "success"
	StatusError       AttemptStatus = "error"
	StatusTimeout     AttemptStatus = "timeout"
	StatusCancelled   AttemptStatus = "cancelled"
	StatusRateLimited AttemptStatus = "rate_limited"
)

const instrumentationName = "runlens.attempt_ledger"

// flusher is the subset of the SDK logger provider the ledger drains
// through. The log.LoggerProvider API interface does not expose it, so the
// ledger discovers it by assertion and degrades to no-op when absent.
type flusher interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// Ledger emits attempt events through an OTel Logs provider.
type Ledger struct {
	serviceName string
	logger      log.Logger
	flusher     flusher
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithServiceName overrides the service.name stamped on every event.
func WithServiceName(name string) Option {
	return func(l *Ledger) { l.serviceName = name }
}

// New builds a ledger on the given logger provider. The default service
// name comes from OTEL_SERVICE_NAME, falling back to "unknown".
func New(provider log.LoggerProvider, opts ...Option) *Ledger {
	l := &Ledger{
		serviceName: os.Getenv("OTEL_SERVICE_NAME"),
		logger:      provider.Logger(instrumentationName),
	}
	if l.serviceName == "" {
		l.serviceName = "unknown"
	}
	if f, ok := provider.(flusher); ok {
		l.flusher = f
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// emit builds and emits one record. Panics from a misbehaving sink are
// absorbed here so the ledger can never take the caller down with it.
func (l *Ledger) emit(ctx context.Context, event EventType, severity log.Severity, attrs []log.KeyValue) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("ledger emission failed", "event", string(event), "panic", r)
		}
	}()

	now := time.Now()

	var record log.Record
	record.SetTimestamp(now)
	record.SetEventName(string(event))
	record.SetBody(log.StringValue(string(event)))
	record.SetSeverity(severity)
	record.SetSeverityText(severityText(severity))

	record.AddAttributes(
		log.String("event.name", string(event)),
		log.String("service.name", l.serviceName),
		log.Int64("timestamp_ms", now.UnixMilli()),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttributes(
			log.String("trace_id", sc.TraceID().String()),
			log.String("span_id", sc.SpanID().String()),
		)
	}
	record.AddAttributes(attrs...)

	l.logger.Emit(ctx, record)
}

func severityText(s log.Severity) string {
	switch {
	case s >= log.SeverityError:
		return "ERROR"
	case s >= log.SeverityWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// AttemptStarted records the start of a run attempt.
func (l *Ledger) AttemptStarted(ctx context.Context, rc *run.Context) {
	attrs := []log.KeyValue{
		log.String(run.KeyRunID, rc.RunID),
		log.String(run.KeyWorkflow, rc.Workflow),
		log.Int(run.KeyAttempt, rc.Attempt),
		log.String(run.KeyRootRunID, rc.RootRunID),
	}
	if rc.TenantID != "" {
		attrs = append(attrs, log.String(run.KeyTenantID, rc.TenantID))
	}
	if !rc.Deadline.IsZero() {
		attrs = append(attrs, log.Float64("deadline_ts",
			float64(rc.Deadline.UnixMilli())/1000.0))
	}
	l.emit(ctx, EventAttemptStarted, log.SeverityInfo, attrs)
}

// AttemptEnded records the terminal status of a run attempt.
func (l *Ledger) AttemptEnded(ctx context.Context, runID string, status AttemptStatus, duration time.Duration, errorClass, reasonCode string) {
	severity := log.SeverityInfo
	if status != StatusSuccess {
		severity = log.SeverityWarn
	}

	attrs := []log.KeyValue{
		log.String(run.KeyRunID, runID),
		log.String("status", string(status)),
		log.Float64("duration_ms", float64(duration.Microseconds())/1000.0),
	}
	if errorClass != "" {
		attrs = append(attrs, log.String("error_class", errorClass))
	}
	if reasonCode != "" {
		attrs = append(attrs, log.String("reason_code", reasonCode))
	}
	l.emit(ctx, EventAttemptEnded, severity, attrs)
}

// LLMAttempt describes one LLM call attempt for the ledger.
type LLMAttempt struct {
	RunID             string
	Provider          string
	Model             string
	Operation         string // defaults to "chat"
	Attempt           int    // defaults to 1
	InputTokens       int64
	OutputTokens      int64
	CachedTokens      int64
	Duration          time.Duration
	Status            AttemptStatus // defaults to success
	ErrorClass        string
	ProviderRequestID string
	EstimatedCostUSD  float64
}

// LLMAttempted records one LLM call attempt with token and cost facts.
func (l *Ledger) LLMAttempted(ctx context.Context, a LLMAttempt) {
	if a.Operation == "" {
		a.Operation = "chat"
	}
	if a.Attempt == 0 {
		a.Attempt = 1
	}
	if a.Status == "" {
		a.Status = StatusSuccess
	}
	severity := log.SeverityInfo
	if a.Status != StatusSuccess {
		severity = log.SeverityWarn
	}

	attrs := []log.KeyValue{
		log.String(run.KeyRunID, a.RunID),
		log.String("gen_ai.provider.name", a.Provider),
		log.String("gen_ai.request.model", a.Model),
		log.String("gen_ai.operation.name", a.Operation),
		log.Int(run.KeyAttempt, a.Attempt),
		log.Int64("gen_ai.usage.input_tokens", a.InputTokens),
		log.Int64("gen_ai.usage.output_tokens", a.OutputTokens),
		log.Int64("runlens.usage.cached_tokens", a.CachedTokens),
		log.Float64("duration_ms", float64(a.Duration.Microseconds())/1000.0),
		log.String("status", string(a.Status)),
	}
	if a.ErrorClass != "" {
		attrs = append(attrs, log.String("error_class", a.ErrorClass))
	}
	if a.ProviderRequestID != "" {
		attrs = append(attrs, log.String("gen_ai.response.id", a.ProviderRequestID))
	}
	if a.EstimatedCostUSD > 0 {
		attrs = append(attrs, log.Float64("runlens.cost.estimated_usd", a.EstimatedCostUSD))
	}
	l.emit(ctx, EventLLMAttempted, severity, attrs)
}

// ToolAttempt describes one tool execution attempt for the ledger.
type ToolAttempt struct {
	RunID          string
	ToolName       string
	ToolCallID     string
	Attempt        int // defaults to 1
	Duration       time.Duration
	Status         AttemptStatus // defaults to success
	ErrorClass     string
	ItemsReturned  int64
	BytesProcessed int64
}

// ToolAttempted records one tool execution attempt.
func (l *Ledger) ToolAttempted(ctx context.Context, a ToolAttempt) {
	if a.Attempt == 0 {
		a.Attempt = 1
	}
	if a.Status == "" {
		a.Status = StatusSuccess
	}
	severity := log.SeverityInfo
	if a.Status != StatusSuccess {
		severity = log.SeverityWarn
	}

	attrs := []log.KeyValue{
		log.String(run.KeyRunID, a.RunID),
		log.String("gen_ai.tool.name", a.ToolName),
		log.Int(run.KeyAttempt, a.Attempt),
		log.Float64("duration_ms", float64(a.Duration.Microseconds())/1000.0),
		log.String("status", string(a.Status)),
		log.Int64("items_returned", a.ItemsReturned),
		log.Int64("bytes_processed", a.BytesProcessed),
	}
	if a.ToolCallID != "" {
		attrs = append(attrs, log.String("gen_ai.tool.call.id", a.ToolCallID))
	}
	if a.ErrorClass != "" {
		attrs = append(attrs, log.String("error_class", a.ErrorClass))
	}
	l.emit(ctx, EventToolAttempted, severity, attrs)
}

// CancellationRequested records a cancellation request against a run.
func (l *Ledger) CancellationRequested(ctx context.Context, runID, reason string) {
	if reason == "" {
		reason = "user"
	}
	l.emit(ctx, EventCancelRequested, log.SeverityWarn, []log.KeyValue{
		log.String(run.KeyRunID, runID),
		log.String("cancellation.reason", reason),
		log.Int64("cancellation.requested_at_ms", time.Now().UnixMilli()),
	})
}

// CancellationAcknowledged records that a component observed and honored a
// cancellation, with the latency from request to acknowledgement.
func (l *Ledger) CancellationAcknowledged(ctx context.Context, runID, acknowledgedBy string, latency time.Duration) {
	l.emit(ctx, EventCancelAcknowledged, log.SeverityInfo, []log.KeyValue{
		log.String(run.KeyRunID, runID),
		log.String("cancellation.acknowledged_by", acknowledgedBy),
		log.Float64("cancellation.latency_ms", float64(latency.Microseconds())/1000.0),
	})
}

// ZombieReport describes work observed continuing past a run's deadline.
type ZombieReport struct {
	RunID     string
	Deadline  time.Time
	ActualEnd time.Time
	Component string
}

// ZombieDetected records work that outlived its deadline. Deadlines are
// advisory, so this event is the system of record for the enforcement gap.
func (l *Ledger) ZombieDetected(ctx context.Context, z ZombieReport) {
	l.emit(ctx, EventZombieDetected, log.SeverityError, []log.KeyValue{
		log.String(run.KeyRunID, z.RunID),
		log.Float64("deadline_ts", float64(z.Deadline.UnixMilli())/1000.0),
		log.Float64("actual_end_ts", float64(z.ActualEnd.UnixMilli())/1000.0),
		log.Float64("zombie_duration_ms", float64(z.ActualEnd.Sub(z.Deadline).Microseconds())/1000.0),
		log.String("zombie_component", z.Component),
	})
}

// RedeliveryDetected records a queue redelivery observed for a run.
func (l *Ledger) RedeliveryDetected(ctx context.Context, runID, queueName string, deliveryCount int, originalMessageID string) {
	attrs := []log.KeyValue{
		log.String(run.KeyRunID, runID),
		log.String("queue.name", queueName),
		log.Int("delivery_count", deliveryCount),
	}
	if originalMessageID != "" {
		attrs = append(attrs, log.String("original_message_id", originalMessageID))
	}
	l.emit(ctx, EventRedeliveryDetected, log.SeverityWarn, attrs)
}

// Flush drains pending events within the timeout and reports success.
func (l *Ledger) Flush(ctx context.Context) bool {
	if l.flusher == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := l.flusher.ForceFlush(ctx); err != nil {
		slog.Debug("ledger flush failed", "error", err)
		return false
	}
	return true
}

// Shutdown drains and stops the underlying provider and reports success.
func (l *Ledger) Shutdown(ctx context.Context) bool {
	if l.flusher == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := l.flusher.Shutdown(ctx); err != nil {
		slog.Debug("ledger shutdown failed", "error", err)
		return false
	}
	return true
}
