package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCaptureLogger returns a debug-level JSON logger writing to buf.
func newCaptureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestLogDispatch(t *testing.T) {
	logger, buf := newCaptureLogger()

	LogDispatch(logger, "log_event", "app_open", 2, 250*time.Microsecond)

	record := lastRecord(t, buf)
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "analytics dispatched", record["msg"])
	assert.Equal(t, "log_event", record["op"])
	assert.Equal(t, "app_open", record["name"])
	assert.Equal(t, float64(2), record["handlers"])
	assert.Equal(t, 0.25, record["duration_ms"])
}

func TestLogHandlerPanic(t *testing.T) {
	logger, buf := newCaptureLogger()

	LogHandlerPanic(logger, "set", "*memory.Backend", "boom")

	record := lastRecord(t, buf)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "set", record["op"])
	assert.Equal(t, "*memory.Backend", record["handler"])
	assert.Equal(t, "boom", record["panic"])
}

func TestLogEncodingError(t *testing.T) {
	logger, buf := newCaptureLogger()

	LogEncodingError(logger, "log_event", "search", errors.New("nested"))

	record := lastRecord(t, buf)
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "search", record["name"])
	assert.Equal(t, "nested", record["error"])
}

func TestLogLateRegistration(t *testing.T) {
	logger, buf := newCaptureLogger()

	LogLateRegistration(logger, "event", "*logsink.Sink")

	record := lastRecord(t, buf)
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "event", record["capability"])
}

func TestLogConfigured(t *testing.T) {
	logger, buf := newCaptureLogger()

	LogConfigured(logger, 2, 1, 1)

	record := lastRecord(t, buf)
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, float64(2), record["event_handlers"])
	assert.Equal(t, float64(1), record["property_handlers"])
}

func TestLogBackendError(t *testing.T) {
	logger, buf := newCaptureLogger()

	LogBackendError(logger, "sqlite", "set", errors.New("disk full"))

	record := lastRecord(t, buf)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "sqlite", record["backend"])
	assert.Equal(t, "disk full", record["error"])
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		LogDispatch(nil, "op", "name", 1, time.Millisecond)
		LogHandlerPanic(nil, "op", "h", "x")
		LogEncodingError(nil, "op", "name", errors.New("x"))
		LogLateRegistration(nil, "event", "h")
		LogConfigured(nil, 0, 0, 1)
		LogBackendError(nil, "b", "op", errors.New("x"))
		LogUnsupported(nil, "b", "clear")
	})
}
