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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/runlens/runlens/sdk"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved SDK configuration",
		Long: `Load the SDK configuration the way Init would (file, environment
interpolation, then environment overrides) and print the result. Use
this to verify what a service will actually run with.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sdk.LoadConfig(cmd.Context(), flagConfig)
			if err != nil {
				return err
			}

			var out []byte
			if flagJSON {
				out, err = json.MarshalIndent(cfg, "", "  ")
			} else {
				out, err = yaml.Marshal(cfg)
			}
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}

			cmd.Print(string(out))
			if flagJSON {
				cmd.Println()
			}
			return nil
		},
	}
}
