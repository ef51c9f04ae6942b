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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlens/runlens/pkg/runid"
)

func newIDCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "id",
		Short: "Generate run identifiers",
		Long: `Generate time-ordered run identifiers (UUIDv7). Useful for seeding
external retry systems that need a run id before the SDK runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", count)
			}
			for i := 0; i < count; i++ {
				cmd.Println(runid.New())
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of identifiers to generate")

	cmd.AddCommand(newIDInspectCommand())
	return cmd
}

func newIDInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "Validate a run identifier and show its embedded timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !runid.IsValid(id) {
				return fmt.Errorf("not a valid run id: %q", id)
			}

			ts, ok := runid.Timestamp(id)
			if !ok {
				return fmt.Errorf("run id has no extractable timestamp: %q", id)
			}

			cmd.Printf("run_id:    %s\n", id)
			cmd.Printf("created:   %s\n", ts.UTC().Format(time.RFC3339Nano))
			cmd.Printf("age:       %s\n", time.Since(ts).Round(time.Millisecond))
			return nil
		},
	}
}
