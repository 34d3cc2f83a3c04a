package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "readaloud".
	ServiceName string

	ServiceVersion string

	// TraceExporter receives finished spans. Optional.
	TraceExporter sdktrace.SpanExporter

	// LogSpans adds an exporter that writes finished spans to the debug log.
	LogSpans bool

	// TraceSampleRatio samples this fraction of root spans. Values outside
	// (0, 1) sample everything.
	TraceSampleRatio float64

	// Registerer receives the Prometheus collectors. Default:
	// prometheus.DefaultRegisterer, which [MetricsHandler] serves.
	Registerer prometheus.Registerer
}

// InitProvider installs global meter and tracer providers and the W3C trace
// context propagator. Metrics go to a Prometheus registry scraped on
// /metrics; spans go to the configured exporters.
//
// The returned function flushes and shuts down both providers. Call it in a
// defer from main().
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "readaloud"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tp := sdktrace.NewTracerProvider(tracerOptions(res, cfg)...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func tracerOptions(res *resource.Resource, cfg ProviderConfig) []sdktrace.TracerProviderOption {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if r := cfg.TraceSampleRatio; r > 0 && r < 1 {
		opts = append(opts, sdktrace.WithSampler(
			sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r)),
		))
	}
	if cfg.TraceExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	if cfg.LogSpans {
		opts = append(opts, sdktrace.WithBatcher(NewLogExporter(nil)))
	}
	return opts
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ─── Span log exporter ───────────────────────────────────────────────────────

// LogExporter writes each finished span as one debug log line carrying its
// name, duration, readaloud.* attributes and error status. It lets a single
// reading session be followed in the log without a tracing backend.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter returns an exporter writing to l, or to slog.Default() at
// export time when l is nil.
func NewLogExporter(l *slog.Logger) *LogExporter {
	return &LogExporter{logger: l}
}

// ExportSpans implements [sdktrace.SpanExporter].
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	l := e.logger
	if l == nil {
		l = slog.Default()
	}
	for _, s := range spans {
		attrs := []slog.Attr{
			slog.String("span", s.Name()),
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
		}
		for _, kv := range s.Attributes() {
			if name, ok := strings.CutPrefix(string(kv.Key), "readaloud."); ok {
				attrs = append(attrs, slog.String(name, kv.Value.Emit()))
			}
		}
		if st := s.Status(); st.Code == codes.Error {
			attrs = append(attrs, slog.String("err", st.Description))
		}
		l.LogAttrs(ctx, slog.LevelDebug, "span finished", attrs...)
	}
	return nil
}

// Shutdown implements [sdktrace.SpanExporter].
func (e *LogExporter) Shutdown(context.Context) error { return nil }
