// Package telemetry wires the process-wide OpenTelemetry tracer
// provider that internal/gwhttp's per-request tracing middleware
// (C11) reports spans to. Unlike a
// typical multi-service deployment, this gateway is a single
// always-on process fronting live WebSocket sessions, so the sampling
// rate here is a deployment knob (GATEWAY_TRACE_SAMPLE_RATIO) rather
// than a fixed dev/prod switch, and the exported resource carries the
// gateway's own deployment-environment attribute alongside the
// standard service identity.
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hanzoai/gateway/internal/config"
)

// defaultVersion is used only if Init's caller passes an empty
// version string (cmd/gateway/main.go normally passes
// config.Config.Version).
const defaultVersion = "0.0.0-unknown"

// Init builds the OTLP gRPC exporter, resource, and sampler for this
// process and registers them as the global tracer provider. version
// is the running gateway's build version, reported as the
// service.version resource attribute. Returns a shutdown func to call
// during graceful shutdown; when telemetry is disabled or
// unconfigured, Init returns a no-op shutdown instead of an error so
// that a deployment with no collector doesn't fail to start.
func Init(cfg config.TelemetryConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("telemetry: tracing disabled, no OTLP endpoint configured")
		return func(ctx context.Context) error { return nil }, nil
	}
	if version == "" {
		version = defaultVersion
	}

	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("telemetry: tracing initialized")

	return tp.Shutdown, nil
}

// sampler derives a root sampler from the configured ratio: 1.0
// always-samples (the default, since this gateway's request volume
// is typically a handful of long-lived WS sessions rather than a
// high-QPS HTTP fleet); a ratio between 0 and 1 parent-respects an
// upstream sampling decision and otherwise samples by ratio, so a
// deployment fronted by another traced service stays coherent with
// its parent's choice; 0 or below never samples.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	if ratio <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
