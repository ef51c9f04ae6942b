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

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlens/runlens/pkg/run"
	"github.com/runlens/runlens/pkg/track"
	"github.com/runlens/runlens/sdk"
)

func newDemoCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Emit a sample tracked run to the console exporter",
		Long: `Run a synthetic workflow (one LLM call, one tool call) with spans
printed to stdout. With --db the attempt ledger is also written to a
SQLite database so 'runlens ledger' can be tried against real rows.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := sdk.DefaultConfig()
			cfg.ServiceName = "runlens-demo"
			cfg.Environment = "development"
			cfg.Exporter = "console"
			cfg.Metrics = false
			cfg.Ledger = sdk.Ledger{Sink: "none"}
			if dbPath != "" {
				cfg.Ledger = sdk.Ledger{Sink: "sqlite", Path: dbPath}
			}

			ctx := cmd.Context()
			s, err := sdk.Init(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Shutdown(ctx)

			err = sdk.Run(ctx, "DemoSupport",
				func(ctx context.Context) error { return demoWorkflow(ctx) },
				sdk.WithEventID("demo-ticket-1"),
				sdk.WithCustomerID("demo-customer"),
				sdk.WithWorkflowVersion(run.VersionFingerprint("demo-prompt", "demo-model")),
			)
			if err != nil {
				return err
			}

			if dbPath != "" {
				cmd.Printf("ledger written to %s\n", dbPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Also write the attempt ledger to this SQLite database")

	return cmd
}

func demoWorkflow(ctx context.Context) error {
	ctx, llm := track.StartLLM(ctx, "anthropic", "claude-sonnet-4-5")
	time.Sleep(10 * time.Millisecond)
	llm.SetTokens(1200, 340).
		SetEstimatedCost(0.0087).
		SetFinishReason("end_turn")
	llm.End(nil)

	_, tool := track.StartTool(ctx, "search_knowledge_base")
	time.Sleep(5 * time.Millisecond)
	tool.SetResult(3, 2048)
	tool.End(nil)

	return nil
}
