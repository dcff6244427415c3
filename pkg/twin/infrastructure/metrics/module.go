package metrics

import (
	"go.uber.org/fx"

	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
)

// Module is an Fx module that provides PrometheusRecorder and OpenTelemetryTracer.
var Module = fx.Options(
	// Provide PrometheusRecorder as a core metrics.MetricRecorder interface.
	fx.Provide(fx.Annotate(
		NewPrometheusRecorder,
		fx.As(new(metrics.MetricRecorder)),
	)),
	// Provide OpenTelemetryTracer as a core metrics.Tracer interface.
	fx.Provide(NewOpenTelemetryTracer),
)
