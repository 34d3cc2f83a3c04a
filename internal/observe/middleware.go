package observe

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// defaultQuietPaths are polled by probes, scrapers and the reader UI. Their
// completions log at debug level.
var defaultQuietPaths = []string{"/healthz", "/readyz", "/metrics", "/v1/state"}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithQuietPaths replaces the set of paths logged at debug level.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		mw.quiet = make(map[string]bool, len(paths))
		for _, p := range paths {
			mw.quiet[p] = true
		}
	}
}

type middleware struct {
	metrics *Metrics
	prop    propagation.TextMapPropagator
	quiet   map[string]bool
	next    http.Handler
}

// Middleware instruments the control API. Every request gets a server span
// continued from any incoming W3C traceparent, an X-Correlation-ID response
// header carrying the trace ID, and a completion log line.
//
// Request durations are recorded per route pattern. State streams hijack the
// connection and stay open for a whole reading session, so they are logged
// but kept out of the duration histogram. 5xx responses mark the span as
// failed and log at warn level.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	base := middleware{metrics: m, prop: propagation.TraceContext{}}
	WithQuietPaths(defaultQuietPaths...)(&base)
	for _, o := range opts {
		o(&base)
	}
	return func(next http.Handler) http.Handler {
		mw := base
		mw.next = next
		return &mw
	}
}

func (mw *middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	r = r.WithContext(ctx)
	rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	mw.next.ServeHTTP(rec, r)
	elapsed := time.Since(start)

	// r.Pattern is set by the ServeMux on the request it was handed.
	route := routeLabel(r)
	span.SetName(r.Method + " " + route)
	span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
	if r.Pattern != "" {
		span.SetAttributes(semconv.HTTPRoute(route))
	}
	if rec.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(rec.status))
	}

	msg := "request completed"
	if rec.hijacked {
		msg = "stream closed"
	} else {
		mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", route),
			),
		)
	}

	level := slog.LevelInfo
	switch {
	case rec.status >= http.StatusInternalServerError:
		level = slog.LevelWarn
	case mw.quiet[r.URL.Path]:
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, msg,
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Int64("bytes", rec.written),
		slog.Duration("duration", elapsed),
	)
}

// responseRecorder captures the status code and body size written by the
// downstream handler. Hijack is forwarded so websocket upgrades keep working.
type responseRecorder struct {
	http.ResponseWriter
	status   int
	written  int64
	hijacked bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.hijacked = true
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *responseRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

// routeLabel returns the matched ServeMux pattern without its method prefix,
// or the raw path for unrouted requests. Patterns keep per-page URLs from
// exploding metric cardinality.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return r.URL.Path
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}
