// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, and structured logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/earshot-audio/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ResampleDuration tracks one conversion job's latency. Use with
	// attribute.String("method", ...).
	ResampleDuration metric.Float64Histogram

	// CacheHits and CacheMisses count conversion cache lookups.
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// VADTriggers counts utterance onsets.
	VADTriggers metric.Int64Counter

	// VADFrames counts processed analysis frames. Use with
	//   attribute.Bool("voice", ...)
	VADFrames metric.Int64Counter

	// FallbackAttempts counts fallback chain steps. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("outcome", ...)
	FallbackAttempts metric.Int64Counter

	// UtterancesDropped counts utterances lost after the fallback chain
	// was exhausted.
	UtterancesDropped metric.Int64Counter

	// ActiveStreams tracks the number of live audio streams.
	ActiveStreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// real-time audio conversion jobs.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResampleDuration, err = m.Float64Histogram("earshot.resample.duration",
		metric.WithDescription("Latency of one sample rate conversion job by method."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("earshot.resample.cache.hits",
		metric.WithDescription("Conversion cache hits."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("earshot.resample.cache.misses",
		metric.WithDescription("Conversion cache misses."),
	); err != nil {
		return nil, err
	}
	if met.VADTriggers, err = m.Int64Counter("earshot.vad.triggers",
		metric.WithDescription("Utterance onsets detected."),
	); err != nil {
		return nil, err
	}
	if met.VADFrames, err = m.Int64Counter("earshot.vad.frames",
		metric.WithDescription("Analysis frames processed by voice/non-voice outcome."),
	); err != nil {
		return nil, err
	}
	if met.FallbackAttempts, err = m.Int64Counter("earshot.fallback.attempts",
		metric.WithDescription("Fallback chain steps by stage and outcome."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDropped, err = m.Int64Counter("earshot.utterances.dropped",
		metric.WithDescription("Utterances dropped after the fallback chain was exhausted."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("earshot.streams.active",
		metric.WithDescription("Number of live audio streams."),
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

// RecordResample records one conversion job's latency under its method name.
func (m *Metrics) RecordResample(ctx context.Context, method string, elapsed time.Duration) {
	m.ResampleDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(Attr("method", method)),
	)
}

// RecordVADFrame records one processed frame with its voice outcome.
func (m *Metrics) RecordVADFrame(ctx context.Context, voice bool) {
	m.VADFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("voice", voice)),
	)
}

// RecordFallbackAttempt records one fallback chain step with its outcome.
func (m *Metrics) RecordFallbackAttempt(ctx context.Context, stage, outcome string) {
	m.FallbackAttempts.Add(ctx, 1,
		metric.WithAttributes(
			Attr("stage", stage),
			Attr("outcome", outcome),
		),
	)
}
