// Package telemetry initializes OpenTelemetry tracing for the process,
// trimmed from the teacher's pkg/telemetry/tracer.go to the SDK's
// in-process span processor: no OTLP exporter is wired (that pulls in a
// collector dependency this repo does not otherwise need), so when tracing
// is enabled, spans created by internal/provider's tracedAdapter and
// internal/engine's graph loop are sampled and timed but not shipped
// anywhere — a trace.SpanProcessor forwarding to a collector can be added
// in InitTracer without touching the instrumented packages.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Config configures the process-wide tracer provider.
type Config struct {
	Enabled bool
}

// InitTracer installs a global TracerProvider: when enabled it samples
// every span, so every otel.Tracer(name) call elsewhere in the process
// (internal/provider, internal/engine) produces real spans; when disabled
// it samples none. Disabled by default: Config.Enabled is sourced from the
// process Config the same way the teacher's TracerConfig.Enabled is.
func InitTracer(cfg Config) ShutdownFunc {
	if !cfg.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())))
		return func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
