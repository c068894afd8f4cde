package prodact

import (
	"log/slog"

	"github.com/randalmurphal/prodact/pkg/prodact/observability"
)

// config holds Analytics construction options.
type config struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

func defaultConfig() config {
	return config{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// Option configures an Analytics instance.
type Option func(*config)

// WithLogger sets the structured logger used for dispatcher diagnostics.
// Default: no logging.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	a := prodact.New(prodact.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry dispatch metrics.
// Default: disabled.
//
// Metrics use the global OTel meter provider.
func WithMetrics(enabled bool) Option {
	return func(c *config) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder sets a custom metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables an OpenTelemetry span per dispatch.
// Default: disabled.
//
// Spans use the global OTel tracer provider.
func WithTracing(enabled bool) Option {
	return func(c *config) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// LogOption configures a single LogEventWith call.
type LogOption func(*logConfig)

type logConfig struct {
	outOfSession bool
}

// OutOfSession marks the event as excluded from session metrics.
// Useful for events triggered by push notifications.
func OutOfSession() LogOption {
	return func(c *logConfig) {
		c.outOfSession = true
	}
}

// WithOutOfSession sets the out-of-session flag explicitly.
func WithOutOfSession(outOfSession bool) LogOption {
	return func(c *logConfig) {
		c.outOfSession = outOfSession
	}
}
