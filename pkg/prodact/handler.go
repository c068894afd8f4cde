package prodact

import "context"

// Properties is a flat map of property names to primitive values.
// Values handed to handlers are always string, bool, int64 or float64.
type Properties map[string]any

// Clone returns a shallow copy. Nil stays nil.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// EventHandler forwards events to one analytics backend.
//
// Calls are fire-and-forget: implementations must not block on backend I/O
// and report backend failures through their own logging.
type EventHandler interface {
	// Configure activates the backend. Analytics.ConfigureAll calls it once
	// per ConfigureAll call; implementations own their idempotence.
	Configure(ctx context.Context)

	// LogEvent tracks an event without properties.
	LogEvent(ctx context.Context, name string)

	// LogEventWithProperties tracks an event with properties. outOfSession
	// marks events that must not count toward session metrics; backends
	// without sessions ignore it.
	LogEventWithProperties(ctx context.Context, name string, props Properties, outOfSession bool)
}

// UserPropertiesHandler forwards user-profile mutations to one analytics backend.
//
// value arguments are always string, bool, int64 or float64.
type UserPropertiesHandler interface {
	// Configure activates the backend. A type implementing both capabilities
	// is configured once per role.
	Configure(ctx context.Context)

	// SetUserProperties overwrites every property in props.
	SetUserProperties(ctx context.Context, props Properties)

	// ClearUserProperties irreversibly removes all user properties.
	// Backends without bulk clear embed ClearUnsupported.
	ClearUserProperties(ctx context.Context)

	// Set writes value under key. When key.Mutability is WriteOnce the
	// write only happens if the property is currently undefined.
	Set(ctx context.Context, key PropertyKey, value any)

	// Add increments the property by value (negative values decrement).
	// Behavior for non-numeric values is backend specific.
	Add(ctx context.Context, key PropertyKey, value any)

	// Unset removes the property under every representation the backend
	// may have stored it as.
	Unset(ctx context.Context, key PropertyKey)
}

// ClearUnsupported is embedded by property handlers whose backend has no
// bulk clear. Its ClearUserProperties is a no-op.
type ClearUnsupported struct{}

// ClearUserProperties does nothing.
func (ClearUnsupported) ClearUserProperties(context.Context) {}
