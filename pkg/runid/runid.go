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

// Package runid generates time-sortable run identifiers.
//
// A run identifier is a UUIDv7: the first 48 bits are a big-endian
// millisecond epoch timestamp, so the string form of two identifiers
// generated in different milliseconds sorts in temporal order. The
// remaining bits (outside the fixed version/variant positions) come
// from crypto/rand, so identifiers are globally unique even within
// the same millisecond.
package runid

import (
	"crypto/rand"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var idRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// New generates a UUIDv7-format run identifier.
func New() string {
	var b [16]byte

	ms := uint64(time.Now().UnixMilli())
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)

	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b[6:])

	b[6] = 0x70 | (b[6] & 0x0F) // version 7
	b[8] = 0x80 | (b[8] & 0x3F) // RFC 4122 variant

	return uuid.UUID(b).String()
}

// IsValid reports whether s is a well-formed run identifier.
func IsValid(s string) bool {
	return idRegex.MatchString(s)
}

// Timestamp extracts the creation time embedded in a run identifier.
// Returns false if the identifier is not well formed.
func Timestamp(s string) (time.Time, bool) {
	if !IsValid(s) {
		return time.Time{}, false
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return time.Time{}, false
	}

	ms := int64(u[0])<<40 | int64(u[1])<<32 | int64(u[2])<<24 |
		int64(u[3])<<16 | int64(u[4])<<8 | int64(u[5])

	return time.UnixMilli(ms).UTC(), true
}
