// Package tracing provides OpenTelemetry client spans for SDK calls.
package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/bfast/bfast-go/pkg/apperr"
)

const shutdownTimeout = 10 * time.Second

// TracerProvider owns the SDK provider so the CLI can flush it on exit.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// TracerConfig mirrors the observability.tracing_* settings.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is host:port of an OTLP/gRPC collector. An https:// prefix
	// switches the exporter to TLS; bare and http:// endpoints are plaintext.
	Endpoint   string
	SampleRate float64
	Enabled    bool
}

func (c TracerConfig) validate() error {
	switch {
	case strings.TrimSpace(c.ServiceName) == "":
		return apperr.Config("tracing requires a service name")
	case strings.TrimSpace(c.Endpoint) == "":
		return apperr.Config("tracing requires an OTLP endpoint")
	case c.SampleRate < 0 || c.SampleRate > 1:
		return apperr.Config("tracing sample rate %v is outside [0, 1]", c.SampleRate)
	}
	return nil
}

// grpcOptions turns Endpoint into exporter options.
func (c TracerConfig) grpcOptions() []otlptracegrpc.Option {
	endpoint := strings.TrimSpace(c.Endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(strings.TrimPrefix(endpoint, "https://"))}
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}
	return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure()}
}

// NewTracerProvider builds an OTLP/gRPC exporting provider and installs it,
// together with the W3C propagators, as the otel globals. A disabled config
// yields a provider that never samples and leaves the globals alone.
func NewTracerProvider(ctx context.Context, cfg TracerConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{
			provider: sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())),
		}, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(cfg.grpcOptions()...))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.TelemetrySDKLanguageGo,
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return &TracerProvider{provider: provider}, nil
}

func (tp *TracerProvider) Tracer(name string) trace.Tracer {
	return tp.provider.Tracer(name)
}

// Shutdown flushes buffered spans, giving up after ten seconds.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := tp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
