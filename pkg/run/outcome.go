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
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Status is the terminal status of a run.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusPartial  Status = "partial"
	StatusTimeout  Status = "timeout"
	StatusCanceled Status = "canceled"
)

// Outcome is attached once at run completion. Value fields quantify the
// business result so cost can be compared against delivered value.
type Outcome struct {
	Status      Status
	ReasonCode  string
	ErrorClass  string
	ValueType   string
	ValueAmount *float64
	Confidence  *float64
}

// OutcomeOption sets optional outcome fields on Complete.
type OutcomeOption func(*Outcome)

// WithReasonCode records a machine-readable reason for the outcome.
func WithReasonCode(code string) OutcomeOption {
	return func(o *Outcome) { o.ReasonCode = code }
}

// WithErrorClass records the class name of the error that ended the run.
func WithErrorClass(class string) OutcomeOption {
	return func(o *Outcome) { o.ErrorClass = class }
}

// WithValue records the quantified business value of the run, e.g.
// ("tickets_resolved", 1).
func WithValue(valueType string, amount float64) OutcomeOption {
	return func(o *Outcome) {
		o.ValueType = valueType
		o.ValueAmount = &amount
	}
}

// WithConfidence records a 0.0-1.0 confidence score for the outcome.
func WithConfidence(confidence float64) OutcomeOption {
	return func(o *Outcome) { o.Confidence = &confidence }
}

// VersionFingerprint derives a stable workflow version identifier from the
// declared inputs, e.g. a prompt revision and a model name. The result is
// low cardinality and changes only when an input changes.
func VersionFingerprint(parts ...string) string {
	if len(parts) == 0 {
		return "v:unknown"
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "v:" + hex.EncodeToString(sum[:])[:12]
}
