package prodact

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/prodact/pkg/prodact/encoding"
	"github.com/randalmurphal/prodact/pkg/prodact/observability"
)

// Dispatcher operation names used in logs, metrics and spans.
const (
	OpConfigure           = "configure"
	OpLogEvent            = "log_event"
	OpSetUserProperties   = "set_user_properties"
	OpClearUserProperties = "clear_user_properties"
	OpSet                 = "set"
	OpAdd                 = "add"
	OpUnset               = "unset"
)

// State is the dispatcher lifecycle state.
type State int

const (
	// Unconfigured accepts handler registrations. ConfigureAll has not run.
	Unconfigured State = iota
	// Configured means ConfigureAll has run at least once.
	Configured
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	default:
		return "unknown"
	}
}

// Analytics fans out events and user property changes to every registered
// handler of the relevant capability, in registration order.
//
// Create one instance per process and pass it to the code that logs:
//
//	a := prodact.New(prodact.WithLogger(logger))
//	a.AddHandler(memory.New())
//	a.AddHandler(sqliteBackend)
//	a.ConfigureAll(ctx)
//
// Register handlers before ConfigureAll. Handlers added afterwards are
// accepted but never configured by Analytics; configuring them is the
// caller's job.
//
// All methods run synchronously on the calling goroutine and are safe for
// concurrent use. A handler that panics is recovered and logged, and the
// remaining handlers still receive the call.
type Analytics struct {
	mu               sync.RWMutex
	eventHandlers    []EventHandler
	propertyHandlers []UserPropertiesHandler
	configureRounds  int

	cfg config
}

// New creates an Analytics with no handlers.
func New(opts ...Option) *Analytics {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Analytics{cfg: cfg}
}

// AddEventHandler appends an event handler. Nil handlers are ignored.
func (a *Analytics) AddEventHandler(h EventHandler) {
	if h == nil {
		return
	}
	a.mu.Lock()
	a.eventHandlers = append(a.eventHandlers, h)
	late := a.configureRounds > 0
	a.mu.Unlock()

	if late {
		observability.LogLateRegistration(a.cfg.logger, "event", handlerName(h))
	}
}

// AddUserPropertiesHandler appends a user properties handler. Nil handlers are ignored.
func (a *Analytics) AddUserPropertiesHandler(h UserPropertiesHandler) {
	if h == nil {
		return
	}
	a.mu.Lock()
	a.propertyHandlers = append(a.propertyHandlers, h)
	late := a.configureRounds > 0
	a.mu.Unlock()

	if late {
		observability.LogLateRegistration(a.cfg.logger, "user_properties", handlerName(h))
	}
}

// AddHandler registers h under every capability it implements and reports
// whether it implemented any.
func (a *Analytics) AddHandler(h any) bool {
	registered := false
	if eh, ok := h.(EventHandler); ok {
		a.AddEventHandler(eh)
		registered = true
	}
	if ph, ok := h.(UserPropertiesHandler); ok {
		a.AddUserPropertiesHandler(ph)
		registered = true
	}
	return registered
}

// ConfigureAll calls Configure on every event handler, then on every user
// properties handler. Each call re-configures every handler; handlers own
// their idempotence.
func (a *Analytics) ConfigureAll(ctx context.Context) {
	events, props := a.snapshot()

	fanOut(ctx, a, OpConfigure, "", events, func(ctx context.Context, h EventHandler) {
		h.Configure(ctx)
	})
	fanOut(ctx, a, OpConfigure, "", props, func(ctx context.Context, h UserPropertiesHandler) {
		h.Configure(ctx)
	})

	a.mu.Lock()
	a.configureRounds++
	round := a.configureRounds
	a.mu.Unlock()

	observability.LogConfigured(a.cfg.logger, len(events), len(props), round)
}

// State returns Configured once ConfigureAll has run.
func (a *Analytics) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.configureRounds > 0 {
		return Configured
	}
	return Unconfigured
}

// HandlerCount returns the number of registered event and user properties handlers.
func (a *Analytics) HandlerCount() (events, properties int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.eventHandlers), len(a.propertyHandlers)
}

// LogEvent tracks a parameterless event on every event handler.
func (a *Analytics) LogEvent(ctx context.Context, key EventKey[Empty]) {
	events, _ := a.snapshot()
	name := key.Name()
	fanOut(ctx, a, OpLogEvent, name, events, func(ctx context.Context, h EventHandler) {
		h.LogEvent(ctx, name)
	})
}

// LogEventWith tracks an event with a typed payload. The payload is encoded
// once and every event handler receives identical properties. When encoding
// fails no handler is called and an error matching ErrEncoding is returned.
//
//	err := prodact.LogEventWith(ctx, a, SearchTap, SearchParams{Query: "go"})
//	err = prodact.LogEventWith(ctx, a, PushOpened, prodact.Value[string]{Value: id},
//	    prodact.OutOfSession())
func LogEventWith[P any](ctx context.Context, a *Analytics, key EventKey[P], payload P, opts ...LogOption) error {
	var lc logConfig
	for _, opt := range opts {
		opt(&lc)
	}

	name := key.Name()
	encoded, err := encoding.Encode(payload)
	if err != nil {
		return a.encodingFailed(ctx, OpLogEvent, name, err)
	}
	props := Properties(encoded)

	events, _ := a.snapshot()
	fanOut(ctx, a, OpLogEvent, name, events, func(ctx context.Context, h EventHandler) {
		h.LogEventWithProperties(ctx, name, props.Clone(), lc.outOfSession)
	})
	return nil
}

// SetUserProperties encodes model and sets the resulting properties on every
// user properties handler. Use a flat model whose fields are primitives.
func SetUserProperties[M any](ctx context.Context, a *Analytics, model M) error {
	encoded, err := encoding.Encode(model)
	if err != nil {
		return a.encodingFailed(ctx, OpSetUserProperties, "", err)
	}
	a.setUserProperties(ctx, Properties(encoded))
	return nil
}

// SetUserPropertiesMap sets the given properties on every user properties
// handler. Values must be primitives; Go numeric kinds are normalized to
// int64 or float64 and nil values are dropped.
func (a *Analytics) SetUserPropertiesMap(ctx context.Context, props map[string]any) error {
	normalized, err := encoding.Normalize(props)
	if err != nil {
		return a.encodingFailed(ctx, OpSetUserProperties, "", err)
	}
	a.setUserProperties(ctx, Properties(normalized))
	return nil
}

func (a *Analytics) setUserProperties(ctx context.Context, props Properties) {
	_, handlers := a.snapshot()
	fanOut(ctx, a, OpSetUserProperties, "", handlers, func(ctx context.Context, h UserPropertiesHandler) {
		h.SetUserProperties(ctx, props.Clone())
	})
}

// ClearUserProperties removes all user properties on every backend that
// supports it. The result is irreversible.
func (a *Analytics) ClearUserProperties(ctx context.Context) {
	_, handlers := a.snapshot()
	fanOut(ctx, a, OpClearUserProperties, "", handlers, func(ctx context.Context, h UserPropertiesHandler) {
		h.ClearUserProperties(ctx)
	})
}

// Set writes value under key on every user properties handler. WriteOnce
// keys keep their first value on backends that support it.
func Set[V Primitive](ctx context.Context, a *Analytics, key UserPropertyKey[V], value V) {
	desc := key.Descriptor()
	v := primitive(value)
	_, handlers := a.snapshot()
	fanOut(ctx, a, OpSet, desc.Name, handlers, func(ctx context.Context, h UserPropertiesHandler) {
		h.Set(ctx, desc, v)
	})
}

// Add increments the property under key by value on every user properties
// handler. Negative values decrement.
func Add[V Primitive](ctx context.Context, a *Analytics, key UserPropertyKey[V], value V) {
	desc := key.Descriptor()
	v := primitive(value)
	_, handlers := a.snapshot()
	fanOut(ctx, a, OpAdd, desc.Name, handlers, func(ctx context.Context, h UserPropertiesHandler) {
		h.Add(ctx, desc, v)
	})
}

// Unset removes the property under key on every user properties handler.
func Unset[V Primitive](ctx context.Context, a *Analytics, key UserPropertyKey[V]) {
	desc := key.Descriptor()
	_, handlers := a.snapshot()
	fanOut(ctx, a, OpUnset, desc.Name, handlers, func(ctx context.Context, h UserPropertiesHandler) {
		h.Unset(ctx, desc)
	})
}

// snapshot copies the handler lists so fan-out never holds the lock while
// calling into handlers.
func (a *Analytics) snapshot() ([]EventHandler, []UserPropertiesHandler) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.eventHandlers), slices.Clone(a.propertyHandlers)
}

func (a *Analytics) encodingFailed(ctx context.Context, op, name string, err error) error {
	observability.LogEncodingError(a.cfg.logger, op, name, err)
	a.cfg.metrics.RecordEncodingFailure(ctx, op)
	return &EncodingError{Op: op, Name: name, Err: err}
}

// fanOut calls fn for every handler in order inside one dispatch span.
func fanOut[H any](ctx context.Context, a *Analytics, op, name string, handlers []H, fn func(context.Context, H)) {
	start := time.Now()
	ctx, span := a.cfg.spans.StartDispatchSpan(ctx, op, name)

	var panics []error
	for _, h := range handlers {
		if err := a.invoke(ctx, op, h, func() { fn(ctx, h) }); err != nil {
			panics = append(panics, err)
		}
	}

	a.cfg.spans.EndSpanWithError(span, errors.Join(panics...))
	elapsed := time.Since(start)
	a.cfg.metrics.RecordDispatch(ctx, op, len(handlers), elapsed)
	observability.LogDispatch(a.cfg.logger, op, name, len(handlers), elapsed)
}

// invoke runs fn and converts a panic into a HandlerPanicError.
func (a *Analytics) invoke(ctx context.Context, op string, h any, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			name := handlerName(h)
			observability.LogHandlerPanic(a.cfg.logger, op, name, r)
			a.cfg.metrics.RecordHandlerPanic(ctx, op, name)
			a.cfg.spans.AddSpanEvent(ctx, "handler.panic",
				attribute.String("handler", name),
				attribute.String("panic", fmt.Sprint(r)),
			)
			err = &HandlerPanicError{Op: op, Handler: name, Value: r}
		}
	}()
	fn()
	return nil
}

// handlerName extracts a name for a handler (for logging/metrics).
func handlerName(h any) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// primitive normalizes a typed property value. NaN and infinities have no
// primitive representation and are passed as their string form.
func primitive[V Primitive](v V) any {
	pv, err := encoding.PrimitiveValue(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return pv
}
