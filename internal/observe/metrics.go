// Package observe provides application-wide observability primitives for
// hornwatch: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] wires
// them to a Prometheus registry so that they can be scraped via the
// /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all hornwatch metrics.
const meterName = "github.com/MrWong99/hornwatch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StepDuration tracks the time to extract and compare one frame.
	StepDuration metric.Float64Histogram

	// SignatureLoadDuration tracks reference signature loading.
	SignatureLoadDuration metric.Float64Histogram

	// AlarmDuration tracks alarm trigger latency. Use with attributes:
	//   attribute.String("alarm", ...), attribute.String("status", ...)
	AlarmDuration metric.Float64Histogram

	// Distance records the per-frame distance to the reference signature.
	Distance metric.Float64Histogram

	// --- Counters ---

	// Frames counts processed frames. Use with attribute:
	//   attribute.String("outcome", "match"|"no_match")
	Frames metric.Int64Counter

	// Detections counts detection episodes (Listening→Detected transitions).
	Detections metric.Int64Counter

	// --- Error counters ---

	// CaptureErrors counts capture failures. Use with attribute:
	//   attribute.String("kind", "unsupported"|"permission"|"device")
	CaptureErrors metric.Int64Counter

	// AlarmErrors counts failed alarm triggers. Use with attribute:
	//   attribute.String("alarm", ...)
	AlarmErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions holding a capture.
	ActiveSessions metric.Int64UpDownCounter

	// StatusSubscribers tracks connected status stream clients.
	StatusSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stepBuckets defines histogram bucket boundaries (in seconds) for per-frame
// processing, which must stay well below one frame period.
var stepBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for I/O
// bound operations.
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
	if met.StepDuration, err = m.Float64Histogram("hornwatch.step.duration",
		metric.WithDescription("Time to extract features from and evaluate one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SignatureLoadDuration, err = m.Float64Histogram("hornwatch.signature.load.duration",
		metric.WithDescription("Latency of loading the reference signature."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlarmDuration, err = m.Float64Histogram("hornwatch.alarm.duration",
		metric.WithDescription("Latency of alarm triggers by alarm and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Distance, err = m.Float64Histogram("hornwatch.detect.distance",
		metric.WithDescription("Distance between live frames and the reference signature."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Frames, err = m.Int64Counter("hornwatch.frames",
		metric.WithDescription("Total processed frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("hornwatch.detections",
		metric.WithDescription("Total detection episodes."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CaptureErrors, err = m.Int64Counter("hornwatch.capture.errors",
		metric.WithDescription("Total audio capture errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.AlarmErrors, err = m.Int64Counter("hornwatch.alarm.errors",
		metric.WithDescription("Total failed alarm triggers by alarm."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("hornwatch.active_sessions",
		metric.WithDescription("Number of sessions currently holding an audio capture."),
	); err != nil {
		return nil, err
	}
	if met.StatusSubscribers, err = m.Int64UpDownCounter("hornwatch.status.subscribers",
		metric.WithDescription("Number of connected status stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hornwatch.http.request.duration",
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

// RecordFrame records one processed frame with its outcome and distance.
// Distances of +Inf (no signature) are not recorded.
func (m *Metrics) RecordFrame(ctx context.Context, outcome string, distance, stepSeconds float64) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.StepDuration.Record(ctx, stepSeconds)
	if distance <= maxRecordedDistance {
		m.Distance.Record(ctx, distance)
	}
}

const maxRecordedDistance = 1e300

// RecordCaptureError is a convenience method that records a capture error
// counter increment.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAlarm records one alarm trigger with its latency and status.
func (m *Metrics) RecordAlarm(ctx context.Context, alarm, status string, seconds float64) {
	m.AlarmDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("alarm", alarm),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.AlarmErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("alarm", alarm)))
	}
}
