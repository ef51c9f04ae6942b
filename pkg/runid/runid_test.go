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

package runid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Format(t *testing.T) {
	id := New()
	assert.Len(t, id, 36)
	assert.True(t, IsValid(id), "generated id %q should be valid", id)

	// Version and variant nibbles occupy fixed positions.
	assert.Equal(t, byte('7'), id[14])
	assert.Contains(t, "89ab", string(id[19]))
}

func TestNew_Uniqueness(t *testing.T) {
	const n = 10000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := New()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id generated: %s", id)
		seen[id] = struct{}{}
	}
}

func TestNew_SortableAcrossMilliseconds(t *testing.T) {
	first := New()
	time.Sleep(2 * time.Millisecond)
	second := New()

	assert.Less(t, first, second,
		"id generated earlier should sort lexicographically smaller")
}

func TestTimestamp_RoundTrip(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	id := New()
	after := time.Now()

	ts, ok := Timestamp(id)
	require.True(t, ok)
	assert.False(t, ts.Before(before), "embedded timestamp too early")
	assert.False(t, ts.After(after), "embedded timestamp too late")
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"generated", New(), true},
		{"empty", "", false},
		{"uuid4", "8b4df1a2-4a0e-4c9b-9d3e-000000000000", false},
		{"truncated", New()[:35], false},
		{"uppercase", "018F4E2C-0000-7000-8000-000000000000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValid(tt.id))
		})
	}
}
