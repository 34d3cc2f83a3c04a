// Package observe wires readaloud to OpenTelemetry: metric instruments,
// session-scoped spans and loggers, and the control API middleware.
//
// [InitProvider] bridges metrics to Prometheus, served by [MetricsHandler] on
// /metrics. Components default to [DefaultMetrics]; tests build their own
// with [NewMetrics] over an isolated [metric.MeterProvider].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/readaloud"

// Metrics holds the instruments readaloud records to. Attribute keys are
// listed per field; values come from a fixed small set.
type Metrics struct {
	// language, status ("ok", "error", "cancelled")
	SynthesisDuration metric.Float64Histogram
	SynthesisAttempts metric.Int64Counter

	// Whole fetch of one segment, retries included.
	FetchDuration metric.Float64Histogram

	// Play to completion of one segment, paused time included.
	PlaybackDuration metric.Float64Histogram

	// language, outcome ("played", "skipped", "timed_out", "failed")
	Segments metric.Int64Counter

	// result ("hit", "miss")
	PrefetchLookups metric.Int64Counter

	// status ("ok", "failed")
	PageTurns metric.Int64Counter

	// endpoint, to
	BreakerTransitions metric.Int64Counter

	ActiveSessions  metric.Int64UpDownCounter
	InFlightFetches metric.Int64UpDownCounter

	// method, path (the route pattern)
	HTTPRequestDuration metric.Float64Histogram
}

// Synthesis against a remote model takes anywhere from a fraction of a
// second to minutes.
var synthesisBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

var playbackBuckets = []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90}

// instruments creates instruments on one meter and keeps the first errors of
// each, so NewMetrics can report them together.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	met := &Metrics{
		SynthesisDuration: in.seconds("readaloud.synthesis.duration",
			"Latency of a single synthesis attempt.", synthesisBuckets),
		FetchDuration: in.seconds("readaloud.fetch.duration",
			"Latency of fetching one segment's audio, retries included.", synthesisBuckets),
		PlaybackDuration: in.seconds("readaloud.playback.duration",
			"Wall time spent playing one segment.", playbackBuckets),
		HTTPRequestDuration: in.seconds("readaloud.http.request.duration",
			"Control API latency by method and route.", nil),

		SynthesisAttempts: in.counter("readaloud.synthesis.attempts",
			"Synthesis requests by language and status."),
		Segments: in.counter("readaloud.segments",
			"Segments by language and outcome."),
		PrefetchLookups: in.counter("readaloud.prefetch.lookups",
			"Prefetch cache lookups by result."),
		PageTurns: in.counter("readaloud.page_turns",
			"Automatic page turns by status."),
		BreakerTransitions: in.counter("readaloud.breaker.transitions",
			"Circuit breaker state changes by endpoint and target state."),

		ActiveSessions: in.upDown("readaloud.active_sessions",
			"Running reading sessions."),
		InFlightFetches: in.upDown("readaloud.fetch.in_flight",
			"Synthesis requests holding a concurrency slot."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider, created on first use.
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

// RecordSynthesisAttempt records one endpoint request and its latency.
func (m *Metrics) RecordSynthesisAttempt(ctx context.Context, language, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("status", status),
	)
	m.SynthesisAttempts.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, seconds, attrs)
}

// RecordSegment records the outcome of one segment.
func (m *Metrics) RecordSegment(ctx context.Context, language, outcome string) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("language", language),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordPrefetchLookup records a cache hit or miss.
func (m *Metrics) RecordPrefetchLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PrefetchLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordPageTurn records an automatic page turn attempt.
func (m *Metrics) RecordPageTurn(ctx context.Context, ok bool) {
	status := "failed"
	if ok {
		status = "ok"
	}
	m.PageTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, endpoint, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("to", to),
		),
	)
}
