// Package observe provides application-wide observability primitives for
// voxd: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all voxd metrics.
const meterName = "github.com/voxd-io/voxd"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// InferenceDuration tracks per-utterance transcription latency.
	InferenceDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of submitted utterances.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// DroppedFrames counts audio frames evicted from the capture ring
	// under overflow.
	DroppedFrames metric.Int64Counter

	// Utterances counts segmenter outcomes. Use with attribute:
	//   attribute.String("outcome", "closed"|"discarded")
	Utterances metric.Int64Counter

	// QueueDrops counts pending jobs cancelled by drop-oldest backpressure.
	QueueDrops metric.Int64Counter

	// ForcedReleases counts reorder-buffer entries force-released after the
	// reorder timeout.
	ForcedReleases metric.Int64Counter

	// Results counts results handed to the sink. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"late")
	Results metric.Int64Counter

	// --- Error counters ---

	// TranscriptionFailures counts per-utterance transcriber errors.
	TranscriptionFailures metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of jobs waiting for an inference slot.
	QueueDepth metric.Int64UpDownCounter

	// InflightJobs tracks the number of concurrent transcriber calls.
	InflightJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for local speech-inference latencies.
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
	if met.InferenceDuration, err = m.Float64Histogram("voxd.inference.duration",
		metric.WithDescription("Latency of per-utterance transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxd.utterance.duration",
		metric.WithDescription("Audio length of submitted utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DroppedFrames, err = m.Int64Counter("voxd.capture.dropped_frames",
		metric.WithDescription("Audio frames evicted from the capture ring under overflow."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxd.segment.utterances",
		metric.WithDescription("Segmenter outcomes by outcome (closed, discarded)."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("voxd.scheduler.queue_drops",
		metric.WithDescription("Pending jobs cancelled by drop-oldest backpressure."),
	); err != nil {
		return nil, err
	}
	if met.ForcedReleases, err = m.Int64Counter("voxd.scheduler.forced_releases",
		metric.WithDescription("Reorder entries force-released after the reorder timeout."),
	); err != nil {
		return nil, err
	}
	if met.Results, err = m.Int64Counter("voxd.sink.results",
		metric.WithDescription("Results delivered to the sink by status (ok, error, late)."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TranscriptionFailures, err = m.Int64Counter("voxd.inference.failures",
		metric.WithDescription("Per-utterance transcriber errors."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("voxd.scheduler.queue_depth",
		metric.WithDescription("Jobs waiting for an inference slot."),
	); err != nil {
		return nil, err
	}
	if met.InflightJobs, err = m.Int64UpDownCounter("voxd.scheduler.inflight",
		metric.WithDescription("Concurrent transcriber calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxd.http.request.duration",
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
