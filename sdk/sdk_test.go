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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlens/runlens/pkg/ledger"
)

func TestInit_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter = "jaeger"

	_, err := Init(context.Background(), cfg)
	require.Error(t, err)
}

func TestInit_SmokeWithSQLiteLedger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "smoke"
	cfg.Exporter = "none"
	cfg.Metrics = false
	cfg.Ledger = Ledger{
		Sink: "sqlite",
		Path: filepath.Join(t.TempDir(), "ledger.db"),
	}

	ctx := context.Background()
	s, err := Init(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ledger.SetGlobal(nil)
		_ = s.Shutdown(ctx)
	})

	require.NotNil(t, s.Ledger())
	assert.Same(t, s.Ledger(), ledger.Global(), "Init installs the global ledger")
	assert.Nil(t, s.Collector(), "metrics disabled")

	runCtx, scope, err := StartRun(ctx, "Smoke",
		WithEventID("e1"), WithCustomerID("c1"))
	require.NoError(t, err)
	scope.End(runCtx, nil)

	require.NoError(t, s.ForceFlush(ctx))
}
