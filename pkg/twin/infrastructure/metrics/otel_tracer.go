package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

// OpenTelemetryTracer is the OTLP implementation of the metrics.Tracer interface.
// When tracing is disabled it degrades to a no-op tracer provider so call sites
// never need to branch.
type OpenTelemetryTracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewOpenTelemetryTracer creates a tracer from the tracing configuration.
// Spans are exported over OTLP/gRPC to the configured collector endpoint.
func NewOpenTelemetryTracer(cfg *config.Config) (metrics.Tracer, error) {
	tracingCfg := cfg.Twinstore.Tracing

	if !tracingCfg.Enabled {
		logger.Debugf("Tracing disabled, using no-op tracer provider.")
		return &OpenTelemetryTracer{
			tracer: noop.NewTracerProvider().Tracer("twinstore"),
		}, nil
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(tracingCfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", tracingCfg.ServiceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Infof("Tracing enabled, exporting spans to %s.", tracingCfg.Endpoint)
	return &OpenTelemetryTracer{
		tracer:   provider.Tracer("twinstore"),
		provider: provider,
	}, nil
}

// StartSpan starts a span with the given name and attributes.
func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, metrics.EndSpanFunc) {
	var kvs []attribute.KeyValue
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(kvs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Shutdown flushes and stops the underlying span exporter.
func (t *OpenTelemetryTracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(ctx)
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
