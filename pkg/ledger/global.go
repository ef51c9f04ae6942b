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
	"sync"

	"go.opentelemetry.io/otel/log/global"
)

var (
	globalMu     sync.RWMutex
	globalLedger *Ledger
)

// Global returns the process-wide ledger. When none has been installed it
// lazily builds one on the global OTel logger provider, which is a no-op
// provider until an SDK wires a real one.
func Global() *Ledger {
	globalMu.RLock()
	l := globalLedger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLedger == nil {
		globalLedger = New(global.GetLoggerProvider())
	}
	return globalLedger
}

// SetGlobal installs the process-wide ledger. Tests use this to route
// events to an in-memory sink; passing nil resets to lazy default.
func SetGlobal(l *Ledger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLedger = l
}
