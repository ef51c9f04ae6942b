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

// Package cli implements the runlens command-line tool.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	runlog "github.com/runlens/runlens/internal/log"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"

	flagConfig string
	flagJSON   bool
)

// SetVersion sets the version information (called from main).
func SetVersion(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

// NewRootCommand creates the root Cobra command for the runlens tool.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runlens",
		Short: "Runlens - run attribution for agent workflows",
		Long: `Runlens is the companion tool for the runlens SDK. It generates and
inspects run identifiers, shows the resolved SDK configuration, queries
a local attempt ledger, and can emit a demo run against a console
exporter for wiring checks.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(runlog.New(runlog.FromEnv()))
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default: runlens.yaml)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output in JSON format")

	cmd.AddCommand(
		newIDCommand(),
		newConfigCommand(),
		newLedgerCommand(),
		newDemoCommand(),
		newVersionCommand(),
	)

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagJSON {
				data, err := json.MarshalIndent(map[string]string{
					"version":    buildVersion,
					"commit":     buildCommit,
					"build_date": buildDate,
				}, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			cmd.Printf("runlens version %s\n", buildVersion)
			cmd.Printf("  commit:     %s\n", buildCommit)
			cmd.Printf("  build date: %s\n", buildDate)
			return nil
		},
	}
}
