// Package observe provides the observability primitives for tasmi:
// OpenTelemetry metrics and tracing, trace-aware slog loggers and the HTTP
// middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are scraped from
// /metrics via the Prometheus exporter bridge set up by [InitProvider].
// [DefaultMetrics] returns a package-level instance bound to the global meter
// provider; tests should call [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all tasmi metrics.
const meterName = "github.com/MrWong99/tasmi"

// Metrics holds every instrument the service records. The OTel types are
// safe for concurrent use.
type Metrics struct {
	// FramesProcessed counts audio frames accepted by a segmenter.
	FramesProcessed metric.Int64Counter

	// FramesDropped counts malformed frames. Attribute: reason.
	FramesDropped metric.Int64Counter

	// SegmentsEmitted counts completed utterances.
	SegmentsEmitted metric.Int64Counter

	// WordsScored counts verdicts. Attribute: status.
	WordsScored metric.Int64Counter

	// StageErrors counts pipeline failures. Attribute: stage.
	StageErrors metric.Int64Counter

	// SessionsCompleted counts sessions that scored every word.
	SessionsCompleted metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// backend, to.
	BreakerTransitions metric.Int64Counter

	// NormalizeDuration, TranscribeDuration and PipelineDuration time the
	// segment pipeline stages and the whole pass.
	NormalizeDuration  metric.Float64Histogram
	TranscribeDuration metric.Float64Histogram
	PipelineDuration   metric.Float64Histogram

	// ActiveSessions tracks open recitation connections.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for batch STT
// round trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesProcessed, "tasmi.frames.processed", "Audio frames accepted by segmenters."},
		{&met.FramesDropped, "tasmi.frames.dropped", "Malformed audio frames dropped, by reason."},
		{&met.SegmentsEmitted, "tasmi.segments.emitted", "Word-length utterances emitted by segmenters."},
		{&met.WordsScored, "tasmi.words.scored", "Scored words by verdict status."},
		{&met.StageErrors, "tasmi.pipeline.errors", "Segment pipeline failures by stage."},
		{&met.SessionsCompleted, "tasmi.sessions.completed", "Recitation sessions that scored every word."},
		{&met.BreakerTransitions, "tasmi.breaker.transitions", "Circuit breaker state changes by backend and target state."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.NormalizeDuration, "tasmi.audio.normalize.duration", "Latency of segment audio normalization."},
		{&met.TranscribeDuration, "tasmi.stt.duration", "Latency of speech-to-text transcription."},
		{&met.PipelineDuration, "tasmi.pipeline.duration", "Latency of one segment pipeline pass."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("tasmi.active_sessions",
		metric.WithDescription("Number of open recitation sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tasmi.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance, created on first use
// from [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDropped counts one malformed frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordWordScored counts one verdict.
func (m *Metrics) RecordWordScored(ctx context.Context, status string) {
	m.WordsScored.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordStageError counts one pipeline failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("backend", backend), Attr("to", to)))
}
