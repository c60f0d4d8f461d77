// Package observe provides application-wide observability primitives for
// Vocero: OpenTelemetry metrics and a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired in [InitProvider] so that everything can be scraped via
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vocero metrics.
const meterName = "github.com/vocero-ai/vocero"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognizeDuration tracks speech-to-text latency per utterance.
	RecognizeDuration metric.Float64Histogram

	// TranslateDuration tracks translation latency per (utterance, language).
	TranslateDuration metric.Float64Histogram

	// SynthesizeDuration tracks text-to-speech latency per (utterance, language).
	SynthesizeDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end latency from utterance boundary to
	// result publication.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// UtterancesProcessed counts utterances by status. Use with attribute:
	//   attribute.String("status", "ok"|"empty"|"dropped")
	UtterancesProcessed metric.Int64Counter

	// ResultsPublished counts TranslationResults published to the delivery bus.
	ResultsPublished metric.Int64Counter

	// DroppedFrames counts PCM frames dropped before segmentation. Use with:
	//   attribute.String("reason", "malformed"|"too_short"|"backpressure"|"muted")
	DroppedFrames metric.Int64Counter

	// CacheLookups counts TTS cache probes. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// SpeechAPIErrors counts external speech API failures. Use with:
	//   attribute.String("op", ...), attribute.String("kind", "transient"|"permanent")
	SpeechAPIErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live gateway sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveCalls tracks the number of calls with at least one connected
	// participant on this node.
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for soft-realtime translation latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognizeDuration, err = m.Float64Histogram("vocero.recognize.duration",
		metric.WithDescription("Latency of speech-to-text recognition per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("vocero.translate.duration",
		metric.WithDescription("Latency of text translation per target language."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesizeDuration, err = m.Float64Histogram("vocero.synthesize.duration",
		metric.WithDescription("Latency of speech synthesis per target language."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("vocero.pipeline.duration",
		metric.WithDescription("End-to-end latency from utterance boundary to publication."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.UtterancesProcessed, err = m.Int64Counter("vocero.utterances.processed",
		metric.WithDescription("Total utterances processed by status."),
	); err != nil {
		return nil, err
	}
	if met.ResultsPublished, err = m.Int64Counter("vocero.results.published",
		metric.WithDescription("Total translation results published to the delivery bus."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("vocero.frames.dropped",
		metric.WithDescription("Total PCM frames dropped before segmentation, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("vocero.ttscache.lookups",
		metric.WithDescription("Total TTS cache probes by result."),
	); err != nil {
		return nil, err
	}
	if met.SpeechAPIErrors, err = m.Int64Counter("vocero.speech_api.errors",
		metric.WithDescription("Total external speech API failures by op and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocero.active_sessions",
		metric.WithDescription("Number of live gateway sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("vocero.active_calls",
		metric.WithDescription("Number of calls with a connected participant on this node."),
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

// RecordDroppedFrames records n dropped frames with the given reason and
// session attribution.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, n int64, reason, sessionID string) {
	m.DroppedFrames.Add(ctx, n, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("session", sessionID),
	))
}

// RecordCacheLookup records one TTS cache probe outcome.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSpeechAPIError records one external speech API failure.
func (m *Metrics) RecordSpeechAPIError(ctx context.Context, op, kind string) {
	m.SpeechAPIErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind),
	))
}
