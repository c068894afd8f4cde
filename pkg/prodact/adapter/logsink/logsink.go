// Package logsink writes every analytics call to a slog logger.
// It is meant for local debugging.
package logsink

import (
	"context"
	"log/slog"
	"sort"

	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/observability"
)

// BackendName identifies this backend in logs.
const BackendName = "log"

// Backend logs events and user property changes.
type Backend struct {
	prodact.ClearUnsupported

	logger *slog.Logger
	level  slog.Level
}

// Option configures a Backend.
type Option func(*Backend)

// WithLevel sets the level calls are logged at.
// Default: slog.LevelInfo
func WithLevel(level slog.Level) Option {
	return func(b *Backend) {
		b.level = level
	}
}

// New creates a backend writing to logger. A nil logger uses slog.Default.
func New(logger *slog.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		logger: logger.With(slog.String("backend", BackendName)),
		level:  slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend name.
func (b *Backend) Name() string { return BackendName }

func (b *Backend) log(ctx context.Context, msg string, attrs ...slog.Attr) {
	b.logger.LogAttrs(ctx, b.level, msg, attrs...)
}

// Configure implements prodact.EventHandler and prodact.UserPropertiesHandler.
func (b *Backend) Configure(ctx context.Context) {
	b.log(ctx, "analytics configure")
}

// LogEvent implements prodact.EventHandler.
func (b *Backend) LogEvent(ctx context.Context, name string) {
	b.log(ctx, "analytics event", slog.String("event", name))
}

// LogEventWithProperties implements prodact.EventHandler.
func (b *Backend) LogEventWithProperties(ctx context.Context, name string, props prodact.Properties, outOfSession bool) {
	b.log(ctx, "analytics event",
		slog.String("event", name),
		slog.Bool("out_of_session", outOfSession),
		propertiesGroup(props),
	)
}

// SetUserProperties implements prodact.UserPropertiesHandler.
func (b *Backend) SetUserProperties(ctx context.Context, props prodact.Properties) {
	b.log(ctx, "analytics set user properties", propertiesGroup(props))
}

// ClearUserProperties implements prodact.UserPropertiesHandler.
// There is nothing to clear; the call is logged at debug level.
func (b *Backend) ClearUserProperties(ctx context.Context) {
	b.ClearUnsupported.ClearUserProperties(ctx)
	observability.LogUnsupported(b.logger, BackendName, prodact.OpClearUserProperties)
}

// Set implements prodact.UserPropertiesHandler.
func (b *Backend) Set(ctx context.Context, key prodact.PropertyKey, value any) {
	b.log(ctx, "analytics set user property",
		slog.String("key", key.Name),
		slog.String("mutability", key.Mutability.String()),
		slog.Any("value", value),
	)
}

// Add implements prodact.UserPropertiesHandler.
func (b *Backend) Add(ctx context.Context, key prodact.PropertyKey, value any) {
	b.log(ctx, "analytics add user property",
		slog.String("key", key.Name),
		slog.Any("delta", value),
	)
}

// Unset implements prodact.UserPropertiesHandler.
func (b *Backend) Unset(ctx context.Context, key prodact.PropertyKey) {
	b.log(ctx, "analytics unset user property", slog.String("key", key.Name))
}

// propertiesGroup renders props as a slog group with sorted keys.
func propertiesGroup(props prodact.Properties) slog.Attr {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, props[k]))
	}
	return slog.Group("properties", attrs...)
}

var (
	_ prodact.EventHandler          = (*Backend)(nil)
	_ prodact.UserPropertiesHandler = (*Backend)(nil)
)
