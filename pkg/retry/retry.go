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

// Package retry runs an operation with exponential backoff while keeping
// the run genealogy intact: every attempt after the first executes under a
// fresh retry run context, so attempt numbers and retry_of_run_id chains
// are maintained without any caller bookkeeping.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/runlens/runlens/pkg/propagation"
	"github.com/runlens/runlens/pkg/run"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 5).
	// 0 means do not retry at all.
	MaxRetries int
	// BaseBackoff is the initial backoff duration (default: 1s).
	BaseBackoff time.Duration
	// MaxBackoff is the maximum backoff duration (default: 60s).
	MaxBackoff time.Duration
	// MaxJitter is the maximum random jitter added to backoff (default: 500ms).
	MaxJitter time.Duration
	// Mode selects the baggage fidelity for retry attempts.
	Mode propagation.Mode
}

// Validate checks that the retry configuration has valid values.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if c.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if c.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// DefaultConfig returns a retry configuration suitable for rate limit and
// transient provider errors.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  60 * time.Second,
		MaxJitter:   500 * time.Millisecond,
		Mode:        propagation.ModeLean,
	}
}

// Do executes fn with exponential backoff retry. The first attempt runs
// under the run context already present on ctx. Each retry derives a new
// run context via run.NewRetry and re-injects it as baggage, so spans and
// ledger events from attempt N carry attempt=N and the retry chain back to
// the root. Only errors classified retryable by isRetryable are retried.
//
// When ctx carries no run context, fn is retried without genealogy
// bookkeeping.
func Do(ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func(context.Context) error) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	current, hasRun := propagation.RunFromContext(ctx)
	attemptCtx := ctx
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 && hasRun {
			current = run.NewRetry(current)
			attemptCtx = propagation.ContextWithRun(ctx, current, cfg.Mode)
		}

		lastErr = fn(attemptCtx)
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		backoff := min(cfg.BaseBackoff<<attempt, cfg.MaxBackoff)

		// Random jitter avoids thundering herd on shared rate limits.
		var jitter time.Duration
		if cfg.MaxJitter > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.MaxJitter)))
			if err == nil {
				jitter = time.Duration(n.Int64())
			}
		}

		slog.WarnContext(ctx, "retrying after transient failure",
			"operation", operation,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"backoff", backoff+jitter,
			"error", lastErr.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
}
