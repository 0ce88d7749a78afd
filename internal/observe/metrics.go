// Package observe provides application-wide observability primitives for
// Vivavoce: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Vivavoce metrics.
const meterName = "github.com/vivavoce-ai/vivavoce"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks full interview session wall time.
	SessionDuration metric.Float64Histogram

	// MintDuration tracks ephemeral-token minting latency.
	MintDuration metric.Float64Histogram

	// UploadDuration tracks recording upload latency.
	UploadDuration metric.Float64Histogram

	// AnalysisDuration tracks transcript evaluation latency.
	AnalysisDuration metric.Float64Histogram

	// --- Counters ---

	// RealtimeEvents counts classified realtime events. Use with attribute:
	//   attribute.String("kind", ...)
	RealtimeEvents metric.Int64Counter

	// TurnsAccepted counts transcript turns committed to the session. Use with
	// attribute: attribute.String("speaker", ...)
	TurnsAccepted metric.Int64Counter

	// TurnsDropped counts utterances rejected by the acceptance policy. Use
	// with attribute: attribute.String("reason", ...)
	TurnsDropped metric.Int64Counter

	// RecorderChunks counts committed recording chunks.
	RecorderChunks metric.Int64Counter

	// --- Error counters ---

	// UpstreamErrors counts realtime and judge API errors. Use with
	// attributes: attribute.String("upstream", ...), attribute.String("op", ...)
	UpstreamErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveInterviews tracks the number of live interview sessions.
	ActiveInterviews metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// request-scale instruments. Session duration gets its own minute-scale set.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers the three-minute interview window with headroom.
var sessionBuckets = []float64{
	15, 30, 60, 90, 120, 150, 180, 210, 240, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("vivavoce.session.duration",
		metric.WithDescription("Wall time of a complete interview session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MintDuration, err = m.Float64Histogram("vivavoce.mint.duration",
		metric.WithDescription("Latency of ephemeral realtime token minting."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("vivavoce.upload.duration",
		metric.WithDescription("Latency of recording uploads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("vivavoce.analysis.duration",
		metric.WithDescription("Latency of transcript evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RealtimeEvents, err = m.Int64Counter("vivavoce.realtime.events",
		metric.WithDescription("Total classified realtime events by kind."),
	); err != nil {
		return nil, err
	}
	if met.TurnsAccepted, err = m.Int64Counter("vivavoce.turns.accepted",
		metric.WithDescription("Total transcript turns committed, by speaker."),
	); err != nil {
		return nil, err
	}
	if met.TurnsDropped, err = m.Int64Counter("vivavoce.turns.dropped",
		metric.WithDescription("Total utterances rejected by the acceptance policy, by reason."),
	); err != nil {
		return nil, err
	}
	if met.RecorderChunks, err = m.Int64Counter("vivavoce.recorder.chunks",
		metric.WithDescription("Total committed recording chunks."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.UpstreamErrors, err = m.Int64Counter("vivavoce.upstream.errors",
		metric.WithDescription("Total upstream API errors by upstream and operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveInterviews, err = m.Int64UpDownCounter("vivavoce.active_interviews",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vivavoce.http.request.duration",
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

// RecordRealtimeEvent records one classified realtime event.
func (m *Metrics) RecordRealtimeEvent(ctx context.Context, kind string) {
	m.RealtimeEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTurnAccepted records one committed transcript turn.
func (m *Metrics) RecordTurnAccepted(ctx context.Context, speaker string) {
	m.TurnsAccepted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordTurnDropped records one rejected utterance.
func (m *Metrics) RecordTurnDropped(ctx context.Context, reason string) {
	m.TurnsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordUpstreamError records one upstream API error.
func (m *Metrics) RecordUpstreamError(ctx context.Context, upstream, op string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("upstream", upstream),
			attribute.String("op", op),
		),
	)
}
