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
	"time"

	"github.com/runlens/runlens/pkg/ledger"
	"github.com/runlens/runlens/pkg/metrics"
	"github.com/runlens/runlens/pkg/propagation"
	"github.com/runlens/runlens/pkg/run"
)

// Resolver produces a business identifier from the request context, for
// callers whose event or customer id lives in middleware state rather than
// in a variable at the call site.
type Resolver func(context.Context) (string, error)

// RunOption configures StartRun and Run.
type RunOption func(*runConfig)

type runConfig struct {
	eventID          string
	eventResolver    Resolver
	customerID       string
	customerResolver Resolver

	environment     string
	tenantID        string
	workflowVersion string
	deadline        time.Duration

	retryOf *run.Context

	mode      propagation.Mode
	collector *metrics.Collector
	sink      *ledger.Ledger
}

func newRunConfig(opts []RunOption) *runConfig {
	cfg := &runConfig{mode: propagation.ModeFromEnv()}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithEventID sets the triggering business event identifier.
func WithEventID(id string) RunOption {
	return func(c *runConfig) { c.eventID = id }
}

// WithEventIDResolver derives the event id from the context at StartRun.
func WithEventIDResolver(r Resolver) RunOption {
	return func(c *runConfig) { c.eventResolver = r }
}

// WithCustomerID sets the customer the run is attributed to.
func WithCustomerID(id string) RunOption {
	return func(c *runConfig) { c.customerID = id }
}

// WithCustomerIDResolver derives the customer id from the context at
// StartRun.
func WithCustomerIDResolver(r Resolver) RunOption {
	return func(c *runConfig) { c.customerResolver = r }
}

// WithEnvironment overrides the deployment environment for this run.
func WithEnvironment(env string) RunOption {
	return func(c *runConfig) { c.environment = env }
}

// WithTenantID sets the tenant for multi-tenant attribution.
func WithTenantID(id string) RunOption {
	return func(c *runConfig) { c.tenantID = id }
}

// WithWorkflowVersion declares the workflow version; use
// run.VersionFingerprint to derive one from prompt and model identifiers.
func WithWorkflowVersion(version string) RunOption {
	return func(c *runConfig) { c.workflowVersion = version }
}

// WithDeadline sets an advisory deadline for the run.
func WithDeadline(d time.Duration) RunOption {
	return func(c *runConfig) { c.deadline = d }
}

// WithRetryOf starts the run as a retry of prev, inheriting its identity
// and extending its genealogy chain.
func WithRetryOf(prev *run.Context) RunOption {
	return func(c *runConfig) { c.retryOf = prev }
}

// WithMode overrides the propagation fidelity for this run.
func WithMode(mode propagation.Mode) RunOption {
	return func(c *runConfig) { c.mode = mode }
}

// WithMetrics routes run metrics to the given collector.
func WithMetrics(collector *metrics.Collector) RunOption {
	return func(c *runConfig) { c.collector = collector }
}

// WithSink overrides the destination ledger. Default ledger.Global().
func WithSink(l *ledger.Ledger) RunOption {
	return func(c *runConfig) { c.sink = l }
}

// resolveIdentity produces the event and customer ids, preferring static
// values over resolvers. Resolver failures surface before any telemetry.
func (c *runConfig) resolveIdentity(ctx context.Context) (string, string, error) {
	eventID := c.eventID
	if eventID == "" && c.eventResolver != nil {
		var err error
		if eventID, err = c.eventResolver(ctx); err != nil {
			return "", "", fmt.Errorf("%w: event id resolver: %w", run.ErrInvalidArgument, err)
		}
	}

	customerID := c.customerID
	if customerID == "" && c.customerResolver != nil {
		var err error
		if customerID, err = c.customerResolver(ctx); err != nil {
			return "", "", fmt.Errorf("%w: customer id resolver: %w", run.ErrInvalidArgument, err)
		}
	}

	return eventID, customerID, nil
}

func (c *runConfig) runOptions() []run.Option {
	var opts []run.Option
	if c.environment != "" {
		opts = append(opts, run.WithEnvironment(c.environment))
	}
	if c.tenantID != "" {
		opts = append(opts, run.WithTenantID(c.tenantID))
	}
	if c.workflowVersion != "" {
		opts = append(opts, run.WithWorkflowVersion(c.workflowVersion))
	}
	if c.deadline > 0 {
		opts = append(opts, run.WithDeadline(c.deadline))
	}
	return opts
}
