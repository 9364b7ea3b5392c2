// Package telemetry configures OpenTelemetry tracing for the engine.
package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

type settings struct {
	writer      io.Writer
	prettyPrint bool
	sampler     sdktrace.Sampler
}

// Option configures InitTracer.
type Option func(*settings)

// WithWriter sends exported spans to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(s *settings) { s.writer = w }
}

// WithPrettyPrint indents exported spans.
func WithPrettyPrint() Option {
	return func(s *settings) { s.prettyPrint = true }
}

// WithSampler overrides the default parent-based always-on sampler.
func WithSampler(sampler sdktrace.Sampler) Option {
	return func(s *settings) { s.sampler = sampler }
}

// InitTracer installs a global tracer provider exporting through stdouttrace
// and returns its shutdown function, which flushes pending spans.
func InitTracer(serviceName string, logger *slog.Logger, opts ...Option) (func(context.Context) error, error) {
	s := &settings{sampler: sdktrace.ParentBased(sdktrace.AlwaysSample())}
	for _, opt := range opts {
		opt(s)
	}

	var exporterOpts []stdouttrace.Option
	if s.writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(s.writer))
	}
	if s.prettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(s.sampler),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))

	return tp.Shutdown, nil
}
