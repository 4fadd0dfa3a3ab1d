package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/bfast/bfast-go"

// Component names a family of SDK operations.
type Component string

const (
	ComponentDatabase  Component = "database"
	ComponentFunctions Component = "functions"
	ComponentStorage   Component = "storage"
	ComponentAuth      Component = "auth"
	ComponentRealtime  Component = "realtime"
	ComponentCache     Component = "cache"
)

// StartCallSpan starts the span of one SDK call, e.g. "database.find users".
func StartCallSpan(ctx context.Context, component Component, operation, target string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	name := fmt.Sprintf("%s.%s", component, operation)
	if target != "" {
		name = fmt.Sprintf("%s %s", name, target)
	}
	attrs = append(attrs,
		attribute.String("bfast.component", string(component)),
		attribute.String("bfast.operation", operation),
	)
	if target != "" {
		attrs = append(attrs, attribute.String("bfast.target", target))
	}
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// StartHTTPSpan starts a client span for an outgoing request and injects
// the trace context into its headers.
func StartHTTPSpan(ctx context.Context, req *http.Request) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.Redacted()),
			attribute.String("net.peer.name", req.URL.Hostname()),
		),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return ctx, span
}

// WithCacheHit annotates span with the cache outcome of a read.
func WithCacheHit(span trace.Span, hit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", hit))
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// End records err, if any, and ends span.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
