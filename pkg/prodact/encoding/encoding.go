// Package encoding flattens typed analytics payloads into string-keyed maps
// of primitive values.
//
// Handlers that only accept untyped dictionaries receive the output of Encode.
// Every value in the result is exactly one of string, bool, int64 or float64.
// Nested objects and arrays are rejected; callers flatten richer structures
// before logging them.
package encoding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Sentinel errors for encoding failures.
var (
	// ErrNotObject indicates the model did not encode to a JSON object.
	ErrNotObject = errors.New("payload must encode to an object")

	// ErrNotFlat indicates a field holds a nested object or array.
	ErrNotFlat = errors.New("payload field is not a primitive")

	// ErrUnsupportedValue indicates a value has no primitive representation.
	ErrUnsupportedValue = errors.New("unsupported property value")
)

// Error wraps an encoding failure with the offending field, if known.
type Error struct {
	// Field is the property name that failed, empty for whole-payload failures.
	Field string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("encode properties: %v", e.Err)
	}
	return fmt.Sprintf("encode property %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Encode converts model into a flat map of primitive values.
//
// Struct models are serialized through encoding/json, so json struct tags
// control property names and omitempty. Maps with string keys are normalized
// without a round trip. A nil model encodes to an empty map. JSON null values
// are dropped from the result.
func Encode(model any) (map[string]any, error) {
	if model == nil {
		return map[string]any{}, nil
	}
	if m, ok := model.(map[string]any); ok {
		return Normalize(m)
	}

	raw, err := json.Marshal(model)
	if err != nil {
		return nil, &Error{Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, &Error{Err: err}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &Error{Err: ErrNotObject}
	}

	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if v == nil {
			continue
		}
		pv, err := fromJSON(v)
		if err != nil {
			return nil, &Error{Field: k, Err: err}
		}
		out[k] = pv
	}
	return out, nil
}

// Normalize validates a dictionary and coerces its values to the primitive
// set. The input map is not modified. Nil values are dropped.
func Normalize(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		pv, err := PrimitiveValue(v)
		if err != nil {
			return nil, &Error{Field: k, Err: err}
		}
		out[k] = pv
	}
	return out, nil
}

// PrimitiveValue coerces a single Go value to string, bool, int64 or float64.
func PrimitiveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return fromUnsigned(uint64(val)), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return fromUnsigned(val), nil
	case float32:
		return finite(float64(val))
	case float64:
		return finite(val)
	case json.Number:
		return fromNumber(val)
	}

	// Named types such as `type Plan string` only match by kind.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fromUnsigned(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	}

	if s, ok := v.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// Float returns the numeric value of a primitive. Numeric strings are parsed,
// which mirrors how string-typed counters are treated by typed backends.
func Float(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func fromJSON(v any) (any, error) {
	switch val := v.(type) {
	case string, bool:
		return val, nil
	case json.Number:
		return fromNumber(val)
	case map[string]any, []any:
		return nil, ErrNotFlat
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func fromNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, n.String())
	}
	return f, nil
}

// finite rejects NaN and infinities, which have no JSON representation.
func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}
	return f, nil
}

func fromUnsigned(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}
