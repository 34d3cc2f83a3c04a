package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/readaloud"

// Span attribute keys used across the reading pipeline.
const (
	AttrSessionID       = attribute.Key("readaloud.session.id")
	AttrPage            = attribute.Key("readaloud.page")
	AttrSegmentIndex    = attribute.Key("readaloud.segment.index")
	AttrSegmentLanguage = attribute.Key("readaloud.segment.language")
	AttrRoute           = attribute.Key("readaloud.route")
	AttrCancelled       = attribute.Key("readaloud.cancelled")
)

type sessionKey struct{}

// WithSession tags ctx with a reading session ID. Spans started and loggers
// derived from the returned context carry it.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session ID set by [WithSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Tracer returns the readaloud tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx belongs to a reading session
// the span is tagged with its ID. The caller ends the span, usually with
// [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := SessionID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrSessionID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// SegmentAttrs describes one text segment.
func SegmentAttrs(index int, language string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSegmentIndex.Int(index),
		AttrSegmentLanguage.String(language),
	}
}

// EndSpan ends span, recording err. Cancellation is how Stop and language
// changes abandon work, so it is marked with [AttrCancelled] rather than as a
// span error.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.SetAttributes(AttrCancelled.Bool(true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "". The control
// API echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the session ID and the trace and
// span IDs found in ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
