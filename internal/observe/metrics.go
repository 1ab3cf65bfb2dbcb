// Package observe provides application-wide observability primitives for
// Lorikeet: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Setup] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lorikeet metrics.
const meterName = "github.com/MrWong99/lorikeet"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognizeDuration tracks speech-recognition inference latency.
	RecognizeDuration metric.Float64Histogram

	// VADProcessDuration tracks hybrid VAD processing latency per chunk.
	VADProcessDuration metric.Float64Histogram

	// MergeDuration tracks token-stream reconciliation latency per chunk.
	MergeDuration metric.Float64Histogram

	// --- Counters ---

	// MergeAnchors counts anchor search outcomes. Use with attribute:
	//   attribute.String("outcome", "found"|"miss")
	MergeAnchors metric.Int64Counter

	// TokensConfirmed counts tokens graduated to the confirmed transcript.
	TokensConfirmed metric.Int64Counter

	// AudioSamples counts ingested PCM samples across all sessions.
	AudioSamples metric.Int64Counter

	// --- Error counters ---

	// StoreWritesDropped counts audio frames dropped before reaching a
	// session store because the ingestion queue was full.
	StoreWritesDropped metric.Int64Counter

	// RecognizeErrors counts recognizer failures. Use with attribute:
	//   attribute.String("engine", ...)
	RecognizeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-audio latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognizeDuration, err = m.Float64Histogram("lorikeet.asr.recognize.duration",
		metric.WithDescription("Latency of speech-recognition inference per window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VADProcessDuration, err = m.Float64Histogram("lorikeet.vad.process.duration",
		metric.WithDescription("Latency of hybrid VAD processing per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MergeDuration, err = m.Float64Histogram("lorikeet.merge.duration",
		metric.WithDescription("Latency of token-stream reconciliation per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MergeAnchors, err = m.Int64Counter("lorikeet.merge.anchors",
		metric.WithDescription("Total anchor searches by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TokensConfirmed, err = m.Int64Counter("lorikeet.merge.tokens_confirmed",
		metric.WithDescription("Total tokens graduated to the confirmed transcript."),
	); err != nil {
		return nil, err
	}
	if met.AudioSamples, err = m.Int64Counter("lorikeet.audio.samples",
		metric.WithDescription("Total ingested PCM samples across all sessions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StoreWritesDropped, err = m.Int64Counter("lorikeet.store.writes_dropped",
		metric.WithDescription("Total writes dropped on a closed or faulted session store."),
	); err != nil {
		return nil, err
	}
	if met.RecognizeErrors, err = m.Int64Counter("lorikeet.asr.errors",
		metric.WithDescription("Total recognizer failures by engine."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lorikeet.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lorikeet.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAnchor records one anchor search outcome.
func (m *Metrics) RecordAnchor(ctx context.Context, found bool) {
	outcome := "miss"
	if found {
		outcome = "found"
	}
	m.MergeAnchors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordRecognize records one recognizer invocation: its latency and, when
// err is non-nil, an error counter increment.
func (m *Metrics) RecordRecognize(ctx context.Context, engine string, seconds float64, err error) {
	m.RecognizeDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
	if err != nil {
		m.RecognizeErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("engine", engine)),
		)
	}
}

// RecordConfirmedTokens records tokens newly graduated to confirmed.
func (m *Metrics) RecordConfirmedTokens(ctx context.Context, n int) {
	if n > 0 {
		m.TokensConfirmed.Add(ctx, int64(n))
	}
}
