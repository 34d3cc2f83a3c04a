// Package fetch turns text segments into audio by calling the synthesis
// endpoint routed for the segment's language.
//
// A [Fetcher] owns the retry policy (three attempts, n² × 2s backoff by
// default), a per-attempt timeout, and a weighted semaphore that bounds how
// many synthesis requests may be in flight at once. Failures are returned to
// the caller, which decides to skip the segment; nothing here panics or
// blocks past ctx.
//
// Typical usage:
//
//	f := fetch.New(fetch.WithMetrics(observe.DefaultMetrics()))
//	f.Route(types.English, fetch.Route{Name: "en", Provider: en, Voice: types.VoiceProfile{ID: "p335"}})
//	audio, err := f.Fetch(ctx, seg)
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/resilience"
	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/types"
)

// ErrNoRoute is returned when no endpoint is routed for a segment's language.
var ErrNoRoute = errors.New("fetch: no route for language")

// ---- defaults ----

const (
	defaultMaxAttempts    = 3
	defaultBackoffUnit    = 2 * time.Second
	defaultAttemptTimeout = 5 * time.Minute

	// defaultMaxInFlight covers the segment being played plus one prefetch.
	defaultMaxInFlight = 2
)

// Route binds a language to the endpoint and voice that speak it.
type Route struct {
	// Name labels the route in logs and spans.
	Name string

	// Provider performs one synthesis attempt. It may itself be a
	// resilience.TTSFailover over several endpoints.
	Provider tts.Provider

	// Voice is passed to every Synthesize call for this route.
	Voice types.VoiceProfile
}

// ---- options ----

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetryPolicy replaces the retry policy. Zero fields take the defaults
// documented on [resilience.RetryPolicy].
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(f *Fetcher) {
		f.policy = p
	}
}

// WithAttemptTimeout bounds each individual synthesis attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.attemptTimeout = d
		}
	}
}

// WithMaxInFlight bounds concurrent synthesis requests across all callers.
func WithMaxInFlight(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxInFlight = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// ---- Fetcher ----

// Fetcher is safe for concurrent use.
type Fetcher struct {
	policy         resilience.RetryPolicy
	attemptTimeout time.Duration
	maxInFlight    int64
	sem            *semaphore.Weighted
	metrics        *observe.Metrics

	mu     sync.RWMutex
	routes map[types.Language]Route
}

// New creates a Fetcher with no routes. Register at least one with
// [Fetcher.Route] before fetching.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		policy: resilience.RetryPolicy{
			MaxAttempts: defaultMaxAttempts,
			Backoff:     resilience.QuadraticBackoff(defaultBackoffUnit),
		},
		attemptTimeout: defaultAttemptTimeout,
		maxInFlight:    defaultMaxInFlight,
		routes:         make(map[types.Language]Route),
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	if f.policy.OnRetry == nil {
		f.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			slog.Warn("synthesis attempt failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"err", err)
		}
	}
	f.sem = semaphore.NewWeighted(f.maxInFlight)
	return f
}

// Route registers (or replaces) the route for lang.
func (f *Fetcher) Route(lang types.Language, r Route) {
	if r.Name == "" {
		r.Name = string(lang)
	}
	f.mu.Lock()
	f.routes[lang] = r
	f.mu.Unlock()
}

// Languages returns the languages that have a route, sorted.
func (f *Fetcher) Languages() []types.Language {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]types.Language, 0, len(f.routes))
	for l := range f.routes {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

func (f *Fetcher) route(lang types.Language) (Route, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.routes[lang]
	return r, ok
}

// Fetch synthesises seg.Text with the endpoint routed for seg.Language.
//
// It returns ctx.Err() promptly once ctx is done, [ErrNoRoute] for an
// unrouted language, and an error wrapping resilience.ErrRetriesExhausted once
// every attempt has failed.
func (f *Fetcher) Fetch(ctx context.Context, seg segment.TextSegment) ([]byte, error) {
	r, ok := f.route(seg.Language)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoRoute, seg.Language)
	}

	ctx, span := observe.StartSpan(ctx, "fetch.segment",
		trace.WithAttributes(observe.SegmentAttrs(seg.Index, string(seg.Language))...),
		trace.WithAttributes(observe.AttrRoute.String(r.Name)),
	)
	start := time.Now()

	audio, err := resilience.Retry(ctx, f.policy, func(ctx context.Context, attempt int) ([]byte, error) {
		return f.attempt(ctx, r, seg, attempt)
	})

	f.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("fetch: segment %d: %w", seg.Index, err)
	}
	return audio, nil
}

// attempt performs one synthesis request while holding an in-flight slot.
func (f *Fetcher) attempt(ctx context.Context, r Route, seg segment.TextSegment, attempt int) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	f.metrics.InFlightFetches.Add(ctx, 1)
	defer f.metrics.InFlightFetches.Add(context.WithoutCancel(ctx), -1)

	actx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	start := time.Now()
	audio, err := r.Provider.Synthesize(actx, seg.Text, r.Voice)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		if ctx.Err() != nil {
			status = "cancelled"
		}
	}
	f.metrics.RecordSynthesisAttempt(context.WithoutCancel(ctx), string(seg.Language), status, elapsed.Seconds())

	if err != nil {
		return nil, err
	}
	observe.Logger(ctx).Debug("segment synthesised",
		"index", seg.Index,
		"route", r.Name,
		"attempt", attempt,
		"bytes", len(audio),
		"duration", elapsed)
	return audio, nil
}
