// Package profile classifies user property values into the typed attribute
// kinds that profile-oriented backends store them as.
package profile

import (
	"fmt"

	"github.com/randalmurphal/prodact/pkg/prodact/encoding"
)

// Kind is the representation a property value is stored under.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Kinds lists every representation, in the order Unset clears them.
var Kinds = []Kind{KindString, KindNumber, KindBool}

// Classify maps a normalized property value to its kind and stored value.
// Numbers and numeric strings become float64 numbers; bools stay bools;
// everything else is stored as its string form.
func Classify(v any) (Kind, any) {
	switch val := v.(type) {
	case bool:
		return KindBool, val
	case string:
		if f, ok := encoding.Float(val); ok {
			return KindNumber, f
		}
		return KindString, val
	case nil:
		return KindString, ""
	}
	if f, ok := encoding.Float(v); ok {
		return KindNumber, f
	}
	return KindString, fmt.Sprint(v)
}

// ClassifyStrict is Classify without numeric string detection. Bulk profile
// updates keep strings as strings.
func ClassifyStrict(v any) (Kind, any) {
	if s, ok := v.(string); ok {
		return KindString, s
	}
	return Classify(v)
}

// Delta returns the counter increment for v. ok is false when v is not
// numeric; callers apply a zero delta in that case.
func Delta(v any) (delta float64, ok bool) {
	return encoding.Float(v)
}
