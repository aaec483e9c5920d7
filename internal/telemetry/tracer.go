// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Resource describes this process on every exported span.
type Resource struct {
	ServiceName string
	Version     string
	// Runtime is "lambda" or "server".
	Runtime string
}

func (r Resource) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(r.ServiceName)}
	if r.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(r.Version))
	}
	if r.Runtime != "" {
		attrs = append(attrs, attribute.String("movie_agent.runtime", r.Runtime))
	}
	return attrs
}

// InitTracer installs a global tracer provider that writes spans to w, along
// with W3C trace context propagation, and returns the provider's shutdown
// function. Shutdown flushes spans still held by the batcher.
func InitTracer(r Resource, w io.Writer, logger *slog.Logger) (func(context.Context) error, error) {
	if r.ServiceName == "" {
		return nil, errors.New("telemetry: service name must not be empty")
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("telemetry: exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", r.attributes()...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("tracing enabled",
		slog.String("service", r.ServiceName),
		slog.String("version", r.Version),
		slog.String("runtime", r.Runtime),
	)
	return tp.Shutdown, nil
}

// HTTPClient returns a copy of base whose outbound requests are traced.
func HTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	out := *base
	out.Transport = otelhttp.NewTransport(transport)
	return &out
}
