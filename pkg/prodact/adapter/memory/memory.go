// Package memory provides an in-memory analytics backend.
//
// The backend stores user properties the way profile-oriented analytics
// vendors do: every property name has independent string, number and bool
// attributes. It is useful for tests and as a reference for adapter
// semantics. Data is lost when the process exits.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/prodact/internal/profile"
	"github.com/randalmurphal/prodact/pkg/prodact"
)

// BackendName identifies this backend in logs.
const BackendName = "memory"

// Event is one recorded event.
type Event struct {
	Name         string
	Properties   prodact.Properties // nil for events logged without properties
	OutOfSession bool
	Timestamp    time.Time
}

// attribute holds the typed representations of one property.
type attribute struct {
	values map[profile.Kind]any
	last   profile.Kind
}

// Backend is an in-memory EventHandler and UserPropertiesHandler.
type Backend struct {
	mu         sync.RWMutex
	events     []Event
	attrs      map[string]*attribute
	configured int

	logger *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for warnings such as non-numeric Add deltas.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		attrs: make(map[string]*attribute),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend name.
func (b *Backend) Name() string { return BackendName }

// Configure implements prodact.EventHandler and prodact.UserPropertiesHandler.
// It only counts calls.
func (b *Backend) Configure(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configured++
}

// LogEvent implements prodact.EventHandler.
func (b *Backend) LogEvent(_ context.Context, name string) {
	b.record(Event{Name: name})
}

// LogEventWithProperties implements prodact.EventHandler.
func (b *Backend) LogEventWithProperties(_ context.Context, name string, props prodact.Properties, outOfSession bool) {
	if props == nil {
		props = prodact.Properties{}
	}
	b.record(Event{Name: name, Properties: props.Clone(), OutOfSession: outOfSession})
}

func (b *Backend) record(e Event) {
	e.Timestamp = time.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// SetUserProperties implements prodact.UserPropertiesHandler.
// Strings are stored as strings even when they look numeric.
func (b *Backend) SetUserProperties(_ context.Context, props prodact.Properties) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, v := range props {
		kind, value := profile.ClassifyStrict(v)
		b.attr(name).put(kind, value)
	}
}

// ClearUserProperties implements prodact.UserPropertiesHandler.
func (b *Backend) ClearUserProperties(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attrs = make(map[string]*attribute)
}

// Set implements prodact.UserPropertiesHandler.
// Numeric strings are stored as numbers. A WriteOnce key is only written
// when the representation it maps to is undefined.
func (b *Backend) Set(_ context.Context, key prodact.PropertyKey, value any) {
	kind, stored := profile.Classify(value)

	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.attr(key.Name)
	if key.Mutability == prodact.WriteOnce {
		if _, defined := a.values[kind]; defined {
			return
		}
	}
	a.put(kind, stored)
}

// Add implements prodact.UserPropertiesHandler.
// Non-numeric values apply a zero delta and log a warning.
func (b *Backend) Add(_ context.Context, key prodact.PropertyKey, value any) {
	delta, ok := profile.Delta(value)
	if !ok && b.logger != nil {
		b.logger.Warn("add only supports numeric values",
			slog.String("backend", BackendName),
			slog.String("key", key.Name),
			slog.Any("value", value),
		)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.attr(key.Name)
	current, _ := a.values[profile.KindNumber].(float64)
	a.put(profile.KindNumber, current+delta)
}

// Unset implements prodact.UserPropertiesHandler.
func (b *Backend) Unset(_ context.Context, key prodact.PropertyKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attrs, key.Name)
}

// attr returns the attribute for name, creating it. Callers hold mu.
func (b *Backend) attr(name string) *attribute {
	a, ok := b.attrs[name]
	if !ok {
		a = &attribute{values: make(map[profile.Kind]any, len(profile.Kinds))}
		b.attrs[name] = a
	}
	return a
}

func (a *attribute) put(kind profile.Kind, value any) {
	a.values[kind] = value
	a.last = kind
}

// Events returns a copy of every recorded event in logging order.
func (b *Backend) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.events)
}

// Property returns the most recently written representation of name.
func (b *Backend) Property(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.attrs[name]
	if !ok {
		return nil, false
	}
	v, ok := a.values[a.last]
	return v, ok
}

// Attribute returns the value stored for name under one representation.
func (b *Backend) Attribute(name string, kind profile.Kind) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.attrs[name]
	if !ok {
		return nil, false
	}
	v, ok := a.values[kind]
	return v, ok
}

// Properties returns the most recent representation of every property.
func (b *Backend) Properties() prodact.Properties {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(prodact.Properties, len(b.attrs))
	for name, a := range b.attrs {
		if v, ok := a.values[a.last]; ok {
			out[name] = v
		}
	}
	return out
}

// Configured returns how many times Configure was called.
func (b *Backend) Configured() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.configured
}

// Reset drops all events and properties.
// Useful for testing.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
	b.attrs = make(map[string]*attribute)
}

var (
	_ prodact.EventHandler          = (*Backend)(nil)
	_ prodact.UserPropertiesHandler = (*Backend)(nil)
)
