// Package opentelemetry wires the otlp trace exporter.
package opentelemetry

import (
	"context"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracer registers a global tracer provider exporting to cfg.Tracing.OtelEndpoint and returns
// its shutdown func.
func InitTracer(ctx context.Context, cfg *config.Config, logger lumber.Logger) func(context.Context) error {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.Tracing.OtelEndpoint),
	)
	if err != nil {
		logger.Fatalf("failed to create otlp trace exporter: %v", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", constants.ServiceName),
			attribute.String("service.version", constants.BinaryVersion),
			attribute.String("deployment.environment", cfg.Env),
		),
	)
	if err != nil {
		logger.Errorf("failed to set otel resources: %v", err)
		res = resource.Default()
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	logger.Infof("tracing enabled, exporting to %s", cfg.Tracing.OtelEndpoint)
	return provider.Shutdown
}
