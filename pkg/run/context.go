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

// Package run defines the run context data model.
//
// A run is one attempt at executing one logical unit of work. Run context
// is orthogonal to trace context: W3C trace context ties distributed spans
// together, run context ties business execution together across retries
// and asynchronous fan-out. A single run can span multiple traces; the
// genealogy fields (RootRunID, ParentRunID, RetryOfRunID) keep the chain
// reconstructable.
package run

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/runlens/runlens/pkg/runid"
)

// ErrInvalidArgument is returned when a required identity field is missing.
// It is raised before any context is created or carrier state is touched.
var ErrInvalidArgument = errors.New("invalid argument")

// Context is the canonical run context for one attempt.
//
// The identity and genealogy fields are set at construction and must not
// be mutated afterward. Cancellation and outcome are the only mutable
// state, guarded internally so a Context may be shared across goroutines.
type Context struct {
	// RunID is unique per attempt. A retry gets a fresh RunID.
	RunID string

	// Workflow is the low-cardinality logical name of the unit of work.
	Workflow string

	// EventID identifies the business unit of work being processed.
	EventID string

	// CustomerID identifies the end customer being served.
	CustomerID string

	// Environment is the deployment environment.
	Environment string

	// WorkflowVersion is a stable fingerprint of the executing logic.
	WorkflowVersion string

	// TenantID is an optional tenant classifier.
	TenantID string

	// ParentRunID links a fan-out run to its causally enclosing run.
	ParentRunID string

	// RootRunID is the RunID of the first attempt in the retry chain.
	// It stays stable across every retry.
	RootRunID string

	// Attempt starts at 1 and increments by exactly 1 per retry.
	Attempt int

	// RetryOfRunID is the RunID of the immediately preceding attempt.
	RetryOfRunID string

	// StartTime is when this attempt was created.
	StartTime time.Time

	// Deadline is the absolute time after which the run is expired.
	// Zero means no deadline.
	Deadline time.Time

	mu          sync.Mutex
	cancelled   bool
	cancelledAt time.Time
	outcome     *Outcome
}

// Option configures optional fields on a new Context.
type Option func(*Context)

// WithWorkflowVersion sets the workflow version fingerprint.
func WithWorkflowVersion(v string) Option {
	return func(c *Context) { c.WorkflowVersion = v }
}

// WithEnvironment sets the deployment environment explicitly, overriding
// the RUNLENS_ENVIRONMENT / DEPLOYMENT_ENVIRONMENT resolution.
func WithEnvironment(env string) Option {
	return func(c *Context) { c.Environment = env }
}

// WithTenantID sets the tenant identifier.
func WithTenantID(id string) Option {
	return func(c *Context) { c.TenantID = id }
}

// WithParentRunID links the run to a causally enclosing run.
func WithParentRunID(id string) Option {
	return func(c *Context) { c.ParentRunID = id }
}

// WithDeadline sets a relative deadline for the run.
func WithDeadline(d time.Duration) Option {
	return func(c *Context) { c.Deadline = time.Now().Add(d) }
}

// New creates a Context for a first attempt with a freshly generated RunID.
// EventID and customerID are mandatory; an empty value fails with
// ErrInvalidArgument before any state is created.
func New(workflow, eventID, customerID string, opts ...Option) (*Context, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event_id must not be empty", ErrInvalidArgument)
	}
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer_id must not be empty", ErrInvalidArgument)
	}

	c := &Context{
		RunID:      runid.New(),
		Workflow:   workflow,
		EventID:    eventID,
		CustomerID: customerID,
		Attempt:    1,
		StartTime:  time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.Environment == "" {
		c.Environment = defaultEnvironment()
	}
	if c.RootRunID == "" {
		c.RootRunID = c.RunID
	}

	return c, nil
}

// NewRetry creates the context for the next attempt after prev.
//
// Identity and genealogy carry over, Attempt increments by one, and
// RetryOfRunID points at prev. Deadline and cancellation state are not
// inherited: a retry starts clean unless the caller sets a new deadline.
func NewRetry(prev *Context, opts ...Option) *Context {
	c := &Context{
		RunID:           runid.New(),
		Workflow:        prev.Workflow,
		EventID:         prev.EventID,
		CustomerID:      prev.CustomerID,
		Environment:     prev.Environment,
		WorkflowVersion: prev.WorkflowVersion,
		TenantID:        prev.TenantID,
		ParentRunID:     prev.ParentRunID,
		RootRunID:       prev.RootRunID,
		Attempt:         prev.Attempt + 1,
		RetryOfRunID:    prev.RunID,
		StartTime:       time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// IsPastDeadline reports whether the run's deadline has passed.
// Pure query; no side effects.
func (c *Context) IsPastDeadline() bool {
	return !c.Deadline.IsZero() && time.Now().After(c.Deadline)
}

// IsCancelled reports whether the run is cancelled, either explicitly
// or by deadline expiry. Pure and idempotent.
func (c *Context) IsCancelled() bool {
	c.mu.Lock()
	cancelled := c.cancelled
	c.mu.Unlock()

	return cancelled || c.IsPastDeadline()
}

// RequestCancellation marks the run as explicitly cancelled.
// Deadlines are advisory; nothing interrupts running work, callers must
// poll IsCancelled.
func (c *Context) RequestCancellation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cancelled {
		c.cancelled = true
		c.cancelledAt = time.Now().UTC()
	}
}

// Cancelled returns the explicit-cancellation state and, when cancelled,
// the time cancellation was requested.
func (c *Context) Cancelled() (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelled, c.cancelledAt
}

// RemainingTime returns the time left before the deadline, zero if the
// deadline has passed, and ok=false when no deadline is set.
func (c *Context) RemainingTime() (time.Duration, bool) {
	if c.Deadline.IsZero() {
		return 0, false
	}

	remaining := time.Until(c.Deadline)
	if remaining < 0 {
		remaining = 0
	}

	return remaining, true
}

// Complete records the run outcome. The outcome is write-once: the first
// call wins and later calls (including automatic success inference) are
// ignored. Reports whether the outcome was recorded by this call.
func (c *Context) Complete(status Status, opts ...OutcomeOption) bool {
	out := &Outcome{Status: status}
	for _, opt := range opts {
		opt(out)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outcome != nil {
		return false
	}

	c.outcome = out
	return true
}

// Outcome returns a copy of the recorded outcome, if any.
func (c *Context) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outcome == nil {
		return Outcome{}, false
	}

	return *c.outcome, true
}

// Duration returns the wall-clock time elapsed since the attempt started.
func (c *Context) Duration() time.Duration {
	return time.Since(c.StartTime)
}

func defaultEnvironment() string {
	if env := os.Getenv("RUNLENS_ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("DEPLOYMENT_ENVIRONMENT"); env != "" {
		return env
	}
	return "production"
}
