package prodact

// Empty is the payload of events that carry no properties.
type Empty struct{}

// Value wraps a single primitive as an event payload.
// It encodes as {"value": v}.
type Value[T Primitive] struct {
	Value T `json:"value"`
}

// Primitive is the set of value types a user property may hold.
// Signed integers, small unsigned integers, floats, strings and bools
// all have a lossless string form that every backend accepts.
type Primitive interface {
	~string | ~bool |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 |
		~float32 | ~float64
}

// EventKey identifies a named event. The type parameter P pins the payload
// type the event accepts, so a mismatched payload fails to compile.
//
// Declare keys once and reuse them:
//
//	var (
//	    AppOpen     = prodact.NewEventKey[prodact.Empty]("app_open")
//	    SearchTap   = prodact.NewEventKey[SearchParams]("search_tap")
//	    DarkModeSet = prodact.NewEventKey[prodact.Value[bool]]("dark_mode_set")
//	)
type EventKey[P any] struct {
	name string
}

// NewEventKey creates an event key. The name is not validated; empty or
// duplicate names are accepted and passed to backends as-is.
func NewEventKey[P any](name string) EventKey[P] {
	return EventKey[P]{name: name}
}

// Name returns the event name sent to backends.
func (k EventKey[P]) Name() string {
	return k.name
}

// String implements fmt.Stringer.
func (k EventKey[P]) String() string {
	return k.name
}

// Mutability controls whether a user property may be overwritten.
type Mutability int

const (
	// Overwritable properties take the most recent value. This is the default.
	Overwritable Mutability = iota

	// WriteOnce properties keep their first value. Backends without
	// set-once support treat WriteOnce as Overwritable and document it.
	WriteOnce
)

// String returns the mutability name.
func (m Mutability) String() string {
	switch m {
	case Overwritable:
		return "overwritable"
	case WriteOnce:
		return "write_once"
	default:
		return "unknown"
	}
}

// PropertyKey is the untyped descriptor of a user property handed to
// handlers. Obtain one from UserPropertyKey.Descriptor.
type PropertyKey struct {
	Name       string
	Mutability Mutability
}

// UserPropertyKey identifies a named user attribute holding values of type V.
//
//	var (
//	    FirstLaunchWeek = prodact.NewUserPropertyKey[string]("first_launch_week",
//	        prodact.WithMutability(prodact.WriteOnce))
//	    Purchases = prodact.NewUserPropertyKey[int]("purchases")
//	)
type UserPropertyKey[V Primitive] struct {
	name       string
	mutability Mutability
}

// KeyOption configures a UserPropertyKey.
type KeyOption func(*PropertyKey)

// WithMutability sets the key's mutability. Default: Overwritable.
func WithMutability(m Mutability) KeyOption {
	return func(k *PropertyKey) {
		k.Mutability = m
	}
}

// NewUserPropertyKey creates a user property key. The name is not validated.
func NewUserPropertyKey[V Primitive](name string, opts ...KeyOption) UserPropertyKey[V] {
	desc := PropertyKey{Name: name, Mutability: Overwritable}
	for _, opt := range opts {
		opt(&desc)
	}
	return UserPropertyKey[V]{name: desc.Name, mutability: desc.Mutability}
}

// Name returns the property name.
func (k UserPropertyKey[V]) Name() string {
	return k.name
}

// Mutability returns the key's mutability policy.
func (k UserPropertyKey[V]) Mutability() Mutability {
	return k.mutability
}

// Descriptor returns the untyped form handed to handlers.
func (k UserPropertyKey[V]) Descriptor() PropertyKey {
	return PropertyKey{Name: k.name, Mutability: k.mutability}
}

// String implements fmt.Stringer.
func (k UserPropertyKey[V]) String() string {
	return k.name
}
