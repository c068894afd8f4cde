// Package otelsink records analytics events as OpenTelemetry signals.
//
// Each event increments the prodact.events counter and, when the caller's
// context carries a recording span, adds a span event with the event
// properties as attributes. The sink handles events only.
package otelsink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/observability"
)

// BackendName identifies this backend in logs.
const BackendName = "otel"

// CounterName is the name of the event counter.
const CounterName = "prodact.events"

// SpanEventName is the name of span events added per analytics event.
const SpanEventName = "analytics.event"

// Attribute keys.
const (
	AttrEventName    = "event.name"
	AttrOutOfSession = "out_of_session"
	propertyPrefix   = "property."
)

// Backend is an EventHandler backed by OpenTelemetry.
type Backend struct {
	provider metric.MeterProvider
	logger   *slog.Logger

	mu      sync.RWMutex
	counter metric.Int64Counter
}

// Option configures a Backend.
type Option func(*Backend)

// WithMeterProvider sets the meter provider.
// Default: the global OTel meter provider at Configure time.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(b *Backend) {
		b.provider = mp
	}
}

// WithLogger sets the logger for instrument creation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates an unconfigured backend. Events logged before Configure are
// added to spans but not counted.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend name.
func (b *Backend) Name() string { return BackendName }

// Configure implements prodact.EventHandler. It creates the event counter.
func (b *Backend) Configure(context.Context) {
	provider := b.provider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	counter, err := provider.Meter(observability.MeterName).Int64Counter(
		CounterName,
		metric.WithDescription("Number of analytics events logged"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		observability.LogBackendError(b.logger, BackendName, prodact.OpConfigure,
			fmt.Errorf("create counter: %w", err))
		return
	}

	b.mu.Lock()
	b.counter = counter
	b.mu.Unlock()
}

// LogEvent implements prodact.EventHandler.
func (b *Backend) LogEvent(ctx context.Context, name string) {
	b.record(ctx, name, nil, false)
}

// LogEventWithProperties implements prodact.EventHandler.
func (b *Backend) LogEventWithProperties(ctx context.Context, name string, props prodact.Properties, outOfSession bool) {
	b.record(ctx, name, props, outOfSession)
}

func (b *Backend) record(ctx context.Context, name string, props prodact.Properties, outOfSession bool) {
	b.mu.RLock()
	counter := b.counter
	b.mu.RUnlock()

	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrEventName, name),
			attribute.Bool(AttrOutOfSession, outOfSession),
		))
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := append([]attribute.KeyValue{
		attribute.String(AttrEventName, name),
		attribute.Bool(AttrOutOfSession, outOfSession),
	}, PropertyAttributes(props)...)
	span.AddEvent(SpanEventName, trace.WithAttributes(attrs...))
}

// PropertyAttributes converts properties to attributes prefixed with
// "property.", sorted by key.
func PropertyAttributes(props prodact.Properties) []attribute.KeyValue {
	if len(props) == 0 {
		return nil
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		key := propertyPrefix + k
		switch v := props[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(v)))
		}
	}
	return attrs
}

var _ prodact.EventHandler = (*Backend)(nil)
