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
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds the SDK and OpenTelemetry configuration.
//
// The SDK is intentionally thin on the hot path: it generates run identity
// and propagates minimal context. PII redaction, cardinality limits, and
// vendor enrichment belong in the OTel Collector, not here.
//
// Precedence (highest to lowest): code arguments, environment variables
// (RUNLENS_*, OTEL_*), YAML config file, built-in defaults.
type Config struct {
	// Service identification
	ServiceName      string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	ServiceVersion   string `yaml:"service_version" env:"RUNLENS_SERVICE_VERSION"`
	ServiceNamespace string `yaml:"service_namespace" env:"RUNLENS_SERVICE_NAMESPACE"`
	Environment      string `yaml:"environment" env:"RUNLENS_ENVIRONMENT"`

	// Exporter selects the span exporter: "otlp", "otlp-http", "console",
	// or "none".
	Exporter string `yaml:"exporter" env:"RUNLENS_EXPORTER"`

	// OTLPEndpoint is the collector endpoint for traces and logs.
	OTLPEndpoint string            `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders  map[string]string `yaml:"otlp_headers" env:"OTEL_EXPORTER_OTLP_HEADERS"`
	OTLPInsecure bool              `yaml:"otlp_insecure" env:"RUNLENS_OTLP_INSECURE"`

	// Batch export tuning
	BatchSize     int           `yaml:"batch_size" env:"RUNLENS_BATCH_SIZE"`
	MaxQueueSize  int           `yaml:"max_queue_size" env:"RUNLENS_MAX_QUEUE_SIZE"`
	BatchInterval time.Duration `yaml:"batch_interval" env:"RUNLENS_BATCH_INTERVAL"`

	// SampleRate is the head sampling rate (1.0 = keep everything).
	// Cost attribution depends on complete traces; lower this only when
	// the ledger alone is enough.
	SampleRate float64 `yaml:"sample_rate" env:"RUNLENS_SAMPLE_RATE"`

	// PropagationMode is "lean" or "full".
	PropagationMode string `yaml:"propagation_mode" env:"RUNLENS_PROPAGATION_MODE"`

	// Ledger selects the ledger sink: "otlp", "sqlite", or "none".
	Ledger Ledger `yaml:"ledger"`

	// Metrics enables the Prometheus meter provider.
	Metrics bool `yaml:"metrics" env:"RUNLENS_METRICS"`
}

// Ledger configures the attempt ledger sink.
type Ledger struct {
	Sink string `yaml:"sink" env:"RUNLENS_LEDGER_SINK"`

	// Path is the SQLite database path when Sink is "sqlite".
	Path string `yaml:"path" env:"RUNLENS_LEDGER_PATH"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:     "unknown-service",
		Environment:     "production",
		Exporter:        "otlp-http",
		OTLPEndpoint:    "http://localhost:4318",
		OTLPInsecure:    true,
		BatchSize:       512,
		MaxQueueSize:    2048,
		BatchInterval:   5 * time.Second,
		SampleRate:      1.0,
		PropagationMode: "lean",
		Ledger:          Ledger{Sink: "otlp"},
		Metrics:         true,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	switch c.Exporter {
	case "otlp", "otlp-http", "console", "none":
	default:
		return fmt.Errorf("invalid exporter %q (must be otlp, otlp-http, console, or none)", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be in [0, 1], got %v", c.SampleRate)
	}
	switch c.PropagationMode {
	case "lean", "full":
	default:
		return fmt.Errorf("invalid propagation_mode %q (must be lean or full)", c.PropagationMode)
	}
	switch c.Ledger.Sink {
	case "otlp", "sqlite", "none":
	default:
		return fmt.Errorf("invalid ledger sink %q (must be otlp, sqlite, or none)", c.Ledger.Sink)
	}
	if c.Ledger.Sink == "sqlite" && c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required when sink is sqlite")
	}
	return nil
}

// configSearchPath lists the default config file locations, in order.
var configSearchPath = []string{
	"runlens.yaml",
	"config/runlens.yaml",
}

// LoadConfig resolves configuration from defaults, an optional YAML file,
// and environment overrides.
//
// When path is empty the file is searched at RUNLENS_CONFIG_FILE, then
// runlens.yaml, then config/runlens.yaml; a missing file in the search path
// is not an error (env-only operation is normal), but an explicit path
// that does not exist is.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("RUNLENS_CONFIG_FILE")
		explicit = path != ""
	}
	if path == "" {
		for _, candidate := range configSearchPath {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(interpolateEnv(data), &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// interpolateEnv expands ${VAR} and ${VAR:-default} references in the raw
// YAML before parsing. Unset variables without a default expand to "".
func interpolateEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		name := string(groups[1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		return groups[3]
	})
}
