package observe

import (
	"context"
	"errors"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry configures the process-wide OpenTelemetry SDK.
type Telemetry struct {
	// ServiceName reported in telemetry. Defaults to "lorikeet".
	ServiceName string

	// ServiceVersion reported in telemetry. Defaults to the module version
	// from build info when available.
	ServiceVersion string

	// SpanExporter receives finished spans. When nil, spans are recorded for
	// log correlation but not exported; deployments that want distributed
	// traces plug in an OTLP exporter here.
	SpanExporter sdktrace.SpanExporter
}

// Setup installs the global meter provider, tracer provider, and W3C trace
// propagator. Metrics flow through the Prometheus bridge to the registry the
// server scrapes at /metrics.
//
// The returned function flushes and shuts down both providers; call it in a
// defer from main.
func Setup(ctx context.Context, cfg Telemetry) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lorikeet"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = buildVersion()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SpanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// buildVersion is the module version stamped into the binary, if any.
func buildVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		return bi.Main.Version
	}
	return ""
}
