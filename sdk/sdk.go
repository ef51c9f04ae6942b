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

// Package sdk wires run attribution into the OpenTelemetry pipeline and
// provides the run-scope entry points StartRun and Run.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	logglobal "go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/runlens/runlens/pkg/enrich"
	"github.com/runlens/runlens/pkg/ledger"
	"github.com/runlens/runlens/pkg/metrics"
	"github.com/runlens/runlens/pkg/propagation"
)

const tracerName = "runlens"

// SDK holds the initialized providers. One per process.
type SDK struct {
	cfg Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
	collector      *metrics.Collector
	ledger         *ledger.Ledger
}

// Init builds the tracer, meter, and logger providers, installs the
// composite propagator and the span enrichment processor, and wires the
// global attempt ledger. It must be called once at process start.
func Init(ctx context.Context, cfg Config) (*SDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &SDK{cfg: cfg}

	if err := s.initTracing(ctx, res); err != nil {
		return nil, err
	}
	if err := s.initLedger(ctx, res); err != nil {
		_ = s.Shutdown(ctx)
		return nil, err
	}
	if cfg.Metrics {
		if err := s.initMetrics(res); err != nil {
			_ = s.Shutdown(ctx)
			return nil, err
		}
	}

	propagation.SetGlobal()
	return s, nil
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	if cfg.ServiceNamespace != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceNamespace(cfg.ServiceNamespace)))
	}

	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Merge keeps the default SDK attributes (telemetry.sdk.*).
	merged, err := resource.Merge(resource.Default(), res)
	if err != nil {
		return nil, fmt.Errorf("failed to merge resource: %w", err)
	}
	return merged, nil
}

func (s *SDK) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(s.cfg.SampleRate)),
		sdktrace.WithSpanProcessor(enrich.NewProcessor(enrich.Fidelity(s.cfg.PropagationMode))),
	}

	exporter, err := s.spanExporter(ctx)
	if err != nil {
		return err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(s.cfg.BatchSize),
			sdktrace.WithMaxQueueSize(s.cfg.MaxQueueSize),
			sdktrace.WithBatchTimeout(s.cfg.BatchInterval),
		))
	}

	s.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(s.tracerProvider)
	return nil
}

// sampler returns the head sampler for the configured rate. Attribution
// wants complete traces, so 1.0 maps to AlwaysSample rather than a ratio.
func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func (s *SDK) spanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch s.cfg.Exporter {
	case "console":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		return exporter, nil

	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(s.cfg.OTLPEndpoint)}
		if s.cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(s.cfg.OTLPHeaders) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(s.cfg.OTLPHeaders))
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		return exporter, nil

	case "otlp-http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(s.cfg.OTLPEndpoint)}
		if s.cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(s.cfg.OTLPHeaders) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(s.cfg.OTLPHeaders))
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp-http exporter: %w", err)
		}
		return exporter, nil

	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("invalid exporter %q", s.cfg.Exporter)
}

func (s *SDK) initLedger(ctx context.Context, res *resource.Resource) error {
	var processor sdklog.Processor

	switch s.cfg.Ledger.Sink {
	case "otlp":
		opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(s.cfg.OTLPEndpoint)}
		if s.cfg.OTLPInsecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		if len(s.cfg.OTLPHeaders) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(s.cfg.OTLPHeaders))
		}
		exporter, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create log exporter: %w", err)
		}
		processor = sdklog.NewBatchProcessor(exporter)

	case "sqlite":
		exporter, err := ledger.NewSQLiteExporter(ledger.SQLiteConfig{Path: s.cfg.Ledger.Path})
		if err != nil {
			return fmt.Errorf("failed to create sqlite ledger sink: %w", err)
		}
		processor = sdklog.NewBatchProcessor(exporter)

	case "none":
		// Logger provider stays nil; the ledger emits into the global
		// noop provider.
	}

	if processor != nil {
		s.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(processor),
		)
		logglobal.SetLoggerProvider(s.loggerProvider)
		s.ledger = ledger.New(s.loggerProvider, ledger.WithServiceName(s.cfg.ServiceName))
	} else {
		s.ledger = ledger.New(logglobal.GetLoggerProvider(),
			ledger.WithServiceName(s.cfg.ServiceName))
	}
	ledger.SetGlobal(s.ledger)
	return nil
}

func (s *SDK) initMetrics(res *resource.Resource) error {
	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	s.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(s.meterProvider)

	s.collector, err = metrics.NewCollector(s.meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	return nil
}

// Ledger returns the attempt ledger wired by Init.
func (s *SDK) Ledger() *ledger.Ledger { return s.ledger }

// Collector returns the run metrics collector, or nil when metrics are
// disabled.
func (s *SDK) Collector() *metrics.Collector { return s.collector }

// MetricsHandler returns the Prometheus scrape handler.
func (s *SDK) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ForceFlush exports all pending telemetry synchronously.
func (s *SDK) ForceFlush(ctx context.Context) error {
	var errs []error
	if s.tracerProvider != nil {
		errs = append(errs, s.tracerProvider.ForceFlush(ctx))
	}
	if s.meterProvider != nil {
		errs = append(errs, s.meterProvider.ForceFlush(ctx))
	}
	if s.loggerProvider != nil {
		errs = append(errs, s.loggerProvider.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes pending telemetry and releases provider resources.
func (s *SDK) Shutdown(ctx context.Context) error {
	var errs []error
	if s.tracerProvider != nil {
		errs = append(errs, s.tracerProvider.Shutdown(ctx))
	}
	if s.meterProvider != nil {
		errs = append(errs, s.meterProvider.Shutdown(ctx))
	}
	if s.loggerProvider != nil {
		errs = append(errs, s.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
