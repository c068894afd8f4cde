// Package observability provides logging, metrics, and tracing for the
// analytics dispatcher.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// LogDispatch logs a completed fan-out.
func LogDispatch(logger *slog.Logger, op, name string, handlers int, elapsed time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("analytics dispatched",
		slog.String("op", op),
		slog.String("name", name),
		slog.Int("handlers", handlers),
		slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	)
}

// LogHandlerPanic logs a handler that panicked during fan-out.
// Fan-out continues with the next handler.
func LogHandlerPanic(logger *slog.Logger, op, handler string, recovered any) {
	if logger == nil {
		return
	}
	logger.Error("analytics handler panicked",
		slog.String("op", op),
		slog.String("handler", handler),
		slog.Any("panic", recovered),
	)
}

// LogEncodingError logs a payload that could not be flattened.
// No handler was invoked for the call.
func LogEncodingError(logger *slog.Logger, op, name string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("analytics payload rejected",
		slog.String("op", op),
		slog.String("name", name),
		slog.String("error", err.Error()),
	)
}

// LogLateRegistration warns about a handler added after ConfigureAll.
// Such handlers are not configured automatically.
func LogLateRegistration(logger *slog.Logger, capability, handler string) {
	if logger == nil {
		return
	}
	logger.Warn("analytics handler registered after configuration",
		slog.String("capability", capability),
		slog.String("handler", handler),
	)
}

// LogConfigured logs the configure step.
func LogConfigured(logger *slog.Logger, eventHandlers, propertyHandlers, round int) {
	if logger == nil {
		return
	}
	logger.Info("analytics handlers configured",
		slog.Int("event_handlers", eventHandlers),
		slog.Int("property_handlers", propertyHandlers),
		slog.Int("round", round),
	)
}

// LogBackendError logs a failure reported by a backend.
// Adapters use it for errors that never reach the caller.
func LogBackendError(logger *slog.Logger, backend, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("analytics backend failed",
		slog.String("backend", backend),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

// LogUnsupported logs an operation a backend cannot perform.
func LogUnsupported(logger *slog.Logger, backend, op string) {
	if logger == nil {
		return
	}
	logger.Debug("analytics operation unsupported by backend",
		slog.String("backend", backend),
		slog.String("op", op),
	)
}
