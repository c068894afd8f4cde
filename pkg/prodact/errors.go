package prodact

import (
	"errors"
	"fmt"
)

// ErrEncoding indicates a payload could not be flattened to primitives.
// No handler is invoked when it is returned.
var ErrEncoding = errors.New("payload encoding failed")

// EncodingError wraps an encoder failure with the dispatch that caused it.
type EncodingError struct {
	// Op is the dispatcher operation ("log_event", "set_user_properties").
	Op string
	// Name is the event name, empty for user property models.
	Name string
	// Err is the underlying encoder error.
	Err error
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Is reports ErrEncoding so callers can match without knowing the encoder's errors.
func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// HandlerPanicError records a handler that panicked during fan-out.
// It is attached to the dispatch span; callers never receive it.
type HandlerPanicError struct {
	Op      string
	Handler string
	Value   any
}

// Error implements the error interface.
func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler %s panicked during %s: %v", e.Handler, e.Op, e.Value)
}
