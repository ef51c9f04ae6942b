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

package run

import (
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Carrier and span attribute keys. All keys share the "runlens." prefix to
// avoid collisions with unrelated propagated data.
const (
	KeyRunID        = "runlens.run_id"
	KeyWorkflow     = "runlens.workflow"
	KeyEventID      = "runlens.event_id"
	KeyCustomerID   = "runlens.customer_id"
	KeyEnvironment  = "runlens.environment"
	KeyTenantID     = "runlens.tenant_id"
	KeyParentRunID  = "runlens.parent_run_id"
	KeyRootRunID    = "runlens.root_run_id"
	KeyAttempt      = "runlens.attempt"
	KeyRetryOfRunID = "runlens.retry_of_run_id"
	KeyDeadline     = "runlens.deadline"
	KeyCancelled    = "runlens.cancelled"
)

// Span-only attribute keys.
const (
	KeyWorkflowVersion   = "runlens.workflow.version"
	KeyRunStartTime      = "runlens.run.start_time"
	KeyRunDeadlineTS     = "runlens.run.deadline_ts"
	KeyRunCancelled      = "runlens.run.cancelled"
	KeyRunCancelledAt    = "runlens.run.cancelled_at"
	KeyRunDurationMS     = "runlens.run.duration_ms"
	KeyOutcomeStatus     = "runlens.outcome.status"
	KeyOutcomeReasonCode = "runlens.outcome.reason_code"
	KeyOutcomeErrorClass = "runlens.outcome.error_class"
	KeyOutcomeValueType  = "runlens.outcome.value_type"
	KeyOutcomeValue      = "runlens.outcome.value_amount"
	KeyOutcomeConfidence = "runlens.outcome.confidence"
)

// SpanAttributes projects the full context onto span attributes. Optional
// fields are included only when set. Called once when the run span opens,
// and again after completion to pick up the outcome.
func (c *Context) SpanAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(KeyRunID, c.RunID),
		attribute.String(KeyWorkflow, c.Workflow),
		attribute.String(KeyEventID, c.EventID),
		attribute.String(KeyCustomerID, c.CustomerID),
		attribute.String(KeyEnvironment, c.Environment),
		attribute.String(KeyRunStartTime, c.StartTime.Format(time.RFC3339Nano)),
	}

	if c.WorkflowVersion != "" {
		attrs = append(attrs, attribute.String(KeyWorkflowVersion, c.WorkflowVersion))
	}
	if c.TenantID != "" {
		attrs = append(attrs, attribute.String(KeyTenantID, c.TenantID))
	}
	if c.ParentRunID != "" {
		attrs = append(attrs, attribute.String(KeyParentRunID, c.ParentRunID))
	}

	attrs = append(attrs,
		attribute.String(KeyRootRunID, c.RootRunID),
		attribute.Int(KeyAttempt, c.Attempt),
	)

	if c.RetryOfRunID != "" {
		attrs = append(attrs, attribute.String(KeyRetryOfRunID, c.RetryOfRunID))
	}
	if !c.Deadline.IsZero() {
		attrs = append(attrs, attribute.Float64(KeyRunDeadlineTS,
			float64(c.Deadline.UnixMilli())/1000.0))
	}

	if cancelled, at := c.Cancelled(); cancelled {
		attrs = append(attrs, attribute.Bool(KeyRunCancelled, true))
		if !at.IsZero() {
			attrs = append(attrs, attribute.Float64(KeyRunCancelledAt,
				float64(at.UnixMilli())/1000.0))
		}
	}

	if out, ok := c.Outcome(); ok {
		attrs = append(attrs, attribute.String(KeyOutcomeStatus, string(out.Status)))
		if out.ReasonCode != "" {
			attrs = append(attrs, attribute.String(KeyOutcomeReasonCode, out.ReasonCode))
		}
		if out.ErrorClass != "" {
			attrs = append(attrs, attribute.String(KeyOutcomeErrorClass, out.ErrorClass))
		}
		if out.ValueType != "" {
			attrs = append(attrs, attribute.String(KeyOutcomeValueType, out.ValueType))
		}
		if out.ValueAmount != nil {
			attrs = append(attrs, attribute.Float64(KeyOutcomeValue, *out.ValueAmount))
		}
		if out.Confidence != nil {
			attrs = append(attrs, attribute.Float64(KeyOutcomeConfidence, *out.Confidence))
		}
		attrs = append(attrs, attribute.Float64(KeyRunDurationMS,
			float64(c.Duration().Microseconds())/1000.0))
	}

	return attrs
}

// EncodeBaggage returns the carrier key/value pairs for cross-process
// propagation. Lean encoding carries only the four identity keys; full
// encoding adds genealogy, deadline, and cancellation state, with
// redundant values (root equal to run, first attempt) elided to keep the
// per-hop overhead bounded.
func (c *Context) EncodeBaggage(full bool) map[string]string {
	kv := map[string]string{
		KeyRunID:      c.RunID,
		KeyWorkflow:   c.Workflow,
		KeyEventID:    c.EventID,
		KeyCustomerID: c.CustomerID,
	}
	if !full {
		return kv
	}

	kv[KeyEnvironment] = c.Environment
	if c.TenantID != "" {
		kv[KeyTenantID] = c.TenantID
	}
	if c.ParentRunID != "" {
		kv[KeyParentRunID] = c.ParentRunID
	}
	if c.RootRunID != "" && c.RootRunID != c.RunID {
		kv[KeyRootRunID] = c.RootRunID
	}
	if c.Attempt > 1 {
		kv[KeyAttempt] = strconv.Itoa(c.Attempt)
	}
	if c.RetryOfRunID != "" {
		kv[KeyRetryOfRunID] = c.RetryOfRunID
	}
	if !c.Deadline.IsZero() {
		kv[KeyDeadline] = strconv.FormatInt(c.Deadline.UnixMilli(), 10)
	}
	if cancelled, _ := c.Cancelled(); cancelled {
		kv[KeyCancelled] = "true"
	}

	return kv
}

// DecodeBaggage reconstructs a Context from carrier key/value pairs.
// RunID and Workflow are mandatory: without them there is no valid
// propagated identity and ok is false. Malformed attempt or deadline
// values fall back to their defaults rather than failing.
func DecodeBaggage(kv map[string]string) (*Context, bool) {
	runID := kv[KeyRunID]
	workflow := kv[KeyWorkflow]
	if runID == "" || workflow == "" {
		return nil, false
	}

	attempt := 1
	if raw, ok := kv[KeyAttempt]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 1 {
			attempt = parsed
		}
	}

	var deadline time.Time
	if raw, ok := kv[KeyDeadline]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			deadline = time.UnixMilli(ms).UTC()
		}
	}

	environment := kv[KeyEnvironment]
	if environment == "" {
		environment = "unknown"
	}

	rootRunID := kv[KeyRootRunID]
	if rootRunID == "" {
		rootRunID = runID
	}

	c := &Context{
		RunID:        runID,
		Workflow:     workflow,
		EventID:      kv[KeyEventID],
		CustomerID:   kv[KeyCustomerID],
		Environment:  environment,
		TenantID:     kv[KeyTenantID],
		ParentRunID:  kv[KeyParentRunID],
		RootRunID:    rootRunID,
		Attempt:      attempt,
		RetryOfRunID: kv[KeyRetryOfRunID],
		StartTime:    time.Now().UTC(),
		Deadline:     deadline,
	}

	if kv[KeyCancelled] == "true" {
		c.cancelled = true
	}

	return c, true
}
