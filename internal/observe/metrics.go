// Package observe provides application-wide observability primitives for
// swaracoach: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all swaracoach metrics.
const meterName = "github.com/MrWong99/swaracoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks transcription latency per utterance. Use with
	// attribute.String("provider", ...).
	STTDuration metric.Float64Histogram

	// PlaybackDuration tracks how long a reference line took to play.
	PlaybackDuration metric.Float64Histogram

	// UtteranceDuration tracks the length of captured learner utterances.
	UtteranceDuration metric.Float64Histogram

	// --- Practice counters ---

	// Transitions counts state machine transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("event", ...)
	Transitions metric.Int64Counter

	// CyclesCompleted counts finished repeat cycles.
	CyclesCompleted metric.Int64Counter

	// SectionsCompleted counts sections practised to the end.
	SectionsCompleted metric.Int64Counter

	// VADEvents counts voice activity boundaries. Use with attribute:
	//   attribute.String("type", "speech_start"|"speech_end"|"ceiling")
	VADEvents metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes attribute.String("provider", ...), attribute.String("to", ...).
	BreakerTransitions metric.Int64Counter

	// --- Quality ---

	// MatchScore records the phonetic similarity of each transcript to the
	// expected line, in [0, 1].
	MatchScore metric.Float64Histogram

	// SwaraQuality records the overall quality of each offline analysis,
	// in [0, 1].
	SwaraQuality metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// StreamSubscribers tracks connected websocket subscribers.
	StreamSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and playback latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// ratioBuckets covers scores in [0, 1].
var ratioBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("swaracoach.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("swaracoach.playback.duration",
		metric.WithDescription("Wall time spent playing a reference line."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("swaracoach.utterance.duration",
		metric.WithDescription("Length of captured learner utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Practice counters.
	if met.Transitions, err = m.Int64Counter("swaracoach.practice.transitions",
		metric.WithDescription("State machine transitions by source state, target state and event."),
	); err != nil {
		return nil, err
	}
	if met.CyclesCompleted, err = m.Int64Counter("swaracoach.practice.cycles_completed",
		metric.WithDescription("Completed repeat cycles."),
	); err != nil {
		return nil, err
	}
	if met.SectionsCompleted, err = m.Int64Counter("swaracoach.practice.sections_completed",
		metric.WithDescription("Sections practised to completion."),
	); err != nil {
		return nil, err
	}
	if met.VADEvents, err = m.Int64Counter("swaracoach.vad.events",
		metric.WithDescription("Voice activity boundaries by type."),
	); err != nil {
		return nil, err
	}

	// Provider counters.
	if met.ProviderRequests, err = m.Int64Counter("swaracoach.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("swaracoach.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("swaracoach.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}

	// Quality.
	if met.MatchScore, err = m.Float64Histogram("swaracoach.transcript.match_score",
		metric.WithDescription("Phonetic similarity of transcripts to the expected line."),
		metric.WithExplicitBucketBoundaries(ratioBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SwaraQuality, err = m.Float64Histogram("swaracoach.swara.quality",
		metric.WithDescription("Overall swara accuracy of offline analyses."),
		metric.WithExplicitBucketBoundaries(ratioBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("swaracoach.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.StreamSubscribers, err = m.Int64UpDownCounter("swaracoach.stream_subscribers",
		metric.WithDescription("Number of connected state stream subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("swaracoach.http.request.duration",
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

// RecordTransition counts one state machine transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, event string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("event", event),
		),
	)
}

// RecordVADEvent counts one voice activity boundary.
func (m *Metrics) RecordVADEvent(ctx context.Context, kind string) {
	m.VADEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a circuit breaker state change. Its
// signature matches the breaker's OnStateChange hook once from is dropped.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("to", to),
		),
	)
}
