// Package observe provides application-wide observability primitives for
// dr-a: OpenTelemetry metrics and the SDK provider setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dr-a metrics.
const meterName = "github.com/Predictive-Systems-Inc/dr-a"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks transcription request latency. Use with
	// attribute.String("origin", "human"|"model") and
	// attribute.String("provider", <provider name>).
	TranscriptionDuration metric.Float64Histogram

	// Utterances counts finalized and discarded utterances. Use with
	// attribute.String("outcome", "finalized"|"discarded").
	Utterances metric.Int64Counter

	// SessionConnects counts connection attempts. Use with
	// attribute.String("kind", "initial"|"reconnect"|"topic_switch") and
	// attribute.String("status", "ok"|"error").
	SessionConnects metric.Int64Counter

	// MediaChunksSent counts outbound media chunks. Use with
	// attribute.String("mime", ...).
	MediaChunksSent metric.Int64Counter

	// MediaChunksDropped counts outbound chunks dropped because the session
	// was not yet active.
	MediaChunksDropped metric.Int64Counter

	// FramesCaptured counts speaking-gated video frames sent upstream.
	FramesCaptured metric.Int64Counter

	// PlaybackQueueDepth tracks the number of queued, not-yet-rendered
	// inbound audio chunks.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live streaming sessions (0 or 1 by
	// design; values above 1 indicate a teardown bug).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("dra.transcription.duration",
		metric.WithDescription("Latency of asynchronous transcription requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("dra.utterances",
		metric.WithDescription("Utterances assembled by the capture pipeline."),
	); err != nil {
		return nil, err
	}
	if met.SessionConnects, err = m.Int64Counter("dra.session.connects",
		metric.WithDescription("Session connection attempts."),
	); err != nil {
		return nil, err
	}
	if met.MediaChunksSent, err = m.Int64Counter("dra.media.chunks_sent",
		metric.WithDescription("Outbound media chunks transmitted."),
	); err != nil {
		return nil, err
	}
	if met.MediaChunksDropped, err = m.Int64Counter("dra.media.chunks_dropped",
		metric.WithDescription("Outbound media chunks dropped before setup completion."),
	); err != nil {
		return nil, err
	}
	if met.FramesCaptured, err = m.Int64Counter("dra.frames.captured",
		metric.WithDescription("Speaking-gated video frames captured and sent."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("dra.playback.queue_depth",
		metric.WithDescription("Queued inbound audio chunks awaiting playback."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("dra.sessions.active",
		metric.WithDescription("Live streaming sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

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
