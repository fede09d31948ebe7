// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ConnectDuration tracks how long a connect attempt takes until the
	// session is acknowledged or fails. Use with attribute:
	//   attribute.String("outcome", "ok"|"error")
	ConnectDuration metric.Float64Histogram

	// Turns counts remote turn starts. Use with attribute:
	//   attribute.String("outcome", "accepted"|"rejected")
	Turns metric.Int64Counter

	// CaptureFrames counts microphone frames. Use with attribute:
	//   attribute.String("outcome", "sent"|"suppressed"|"failed"|"dropped")
	CaptureFrames metric.Int64Counter

	// PlaybackChunks counts inbound audio chunks. Use with attribute:
	//   attribute.String("outcome", "scheduled"|"stale"|"invalid")
	PlaybackChunks metric.Int64Counter

	// PlaybackUnderruns counts chunks that arrived after the playback cursor
	// had already been passed by the output clock.
	PlaybackUnderruns metric.Int64Counter

	// SessionErrors counts session failures. Use with attribute:
	//   attribute.String("kind", "device"|"connect"|"protocol"|"transport")
	SessionErrors metric.Int64Counter

	// BreakerTransitions counts credential endpoint circuit breaker state
	// changes. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("state", "open"|"half-open"|"closed")
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks ops HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for
// connect latency: credential exchange, handshake and session ack.
var connectBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("parley.connect.duration",
		metric.WithDescription("Latency of session connect attempts by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Remote turn starts by acceptance outcome."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFrames, err = m.Int64Counter("parley.capture.frames",
		metric.WithDescription("Captured microphone frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("parley.playback.chunks",
		metric.WithDescription("Inbound audio chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("parley.playback.underruns",
		metric.WithDescription("Audio chunks that arrived after the playback cursor was passed."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("parley.errors",
		metric.WithDescription("Session failures by error kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("parley.credentials.breaker.transitions",
		metric.WithDescription("Credential endpoint circuit breaker transitions by new state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Ops HTTP request latency by method and path."),
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

func outcome(o string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("outcome", o))
}

// RecordConnect records the duration and outcome of one connect attempt.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, err error) {
	o := "ok"
	if err != nil {
		o = "error"
	}
	m.ConnectDuration.Record(ctx, d.Seconds(), outcome(o))
}

// RecordTurn records a turn start that was accepted or rejected.
func (m *Metrics) RecordTurn(ctx context.Context, accepted bool) {
	o := "rejected"
	if accepted {
		o = "accepted"
	}
	m.Turns.Add(ctx, 1, outcome(o))
}

// RecordCaptureFrame records the fate of one microphone frame.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, o string) {
	m.CaptureFrames.Add(ctx, 1, outcome(o))
}

// RecordPlaybackChunk records the fate of one inbound audio chunk.
func (m *Metrics) RecordPlaybackChunk(ctx context.Context, o string) {
	m.PlaybackChunks.Add(ctx, 1, outcome(o))
}

// RecordUnderrun records one playback underrun.
func (m *Metrics) RecordUnderrun(ctx context.Context) {
	m.PlaybackUnderruns.Add(ctx, 1)
}

// RecordError records a session failure of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition records a circuit breaker of endpoint entering
// state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, endpoint, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("state", state),
	))
}
