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
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlens/runlens/pkg/ledger"
	"github.com/runlens/runlens/pkg/runid"
)

func newLedgerCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "ledger <run-id>",
		Short: "Show the attempt ledger for a run",
		Long: `Query a local SQLite attempt ledger for every event recorded against
a run. Works against the database written by the sqlite ledger sink.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if !runid.IsValid(runID) {
				return fmt.Errorf("not a valid run id: %q", runID)
			}
			if dbPath == "" {
				return fmt.Errorf("--db is required")
			}

			exp, err := ledger.NewSQLiteExporter(ledger.SQLiteConfig{Path: dbPath})
			if err != nil {
				return err
			}
			defer exp.Shutdown(cmd.Context())

			events, err := exp.EventsForRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no ledger events for run %s", runID)
			}

			if flagJSON {
				data, err := json.MarshalIndent(events, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal ledger events: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			for _, ev := range events {
				cmd.Printf("%s  %-7s %s\n",
					ev.Timestamp.Format(time.RFC3339Nano), ev.Severity, ev.EventName)
				keys := make([]string, 0, len(ev.Attributes))
				for key := range ev.Attributes {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					cmd.Printf("    %s=%v\n", key, ev.Attributes[key])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite ledger database")

	return cmd
}
