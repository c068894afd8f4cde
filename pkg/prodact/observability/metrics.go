package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope used for dispatcher metrics.
const MeterName = "prodact"

// MetricsRecorder records dispatcher metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one fan-out with the number of handlers reached.
	RecordDispatch(ctx context.Context, op string, handlers int, duration time.Duration)

	// RecordHandlerPanic records a handler that panicked during fan-out.
	RecordHandlerPanic(ctx context.Context, op, handler string)

	// RecordEncodingFailure records a payload rejected before fan-out.
	RecordEncodingFailure(ctx context.Context, op string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatchCalls    metric.Int64Counter
	dispatchHandlers metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
	handlerPanics    metric.Int64Counter
	encodingFailures metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter(MeterName)

	dispatchCalls, err := meter.Int64Counter("prodact.dispatch.calls",
		metric.WithDescription("Number of dispatcher calls"),
	)
	if err != nil {
		return nil, err
	}

	dispatchHandlers, err := meter.Int64Counter("prodact.dispatch.handler_calls",
		metric.WithDescription("Number of handler invocations made by fan-out"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("prodact.dispatch.latency_ms",
		metric.WithDescription("Fan-out latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerPanics, err := meter.Int64Counter("prodact.dispatch.handler_panics",
		metric.WithDescription("Number of handler panics recovered during fan-out"),
	)
	if err != nil {
		return nil, err
	}

	encodingFailures, err := meter.Int64Counter("prodact.encoding.failures",
		metric.WithDescription("Number of payloads rejected by the encoder"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatchCalls:    dispatchCalls,
		dispatchHandlers: dispatchHandlers,
		dispatchLatency:  dispatchLatency,
		handlerPanics:    handlerPanics,
		encodingFailures: encodingFailures,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records one fan-out.
func (m *otelMetrics) RecordDispatch(ctx context.Context, op string, handlers int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.dispatchCalls.Add(ctx, 1, attrs)
	m.dispatchHandlers.Add(ctx, int64(handlers), attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordHandlerPanic records a recovered handler panic.
func (m *otelMetrics) RecordHandlerPanic(ctx context.Context, op, handler string) {
	m.handlerPanics.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("handler", handler),
	))
}

// RecordEncodingFailure records a rejected payload.
func (m *otelMetrics) RecordEncodingFailure(ctx context.Context, op string) {
	m.encodingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
