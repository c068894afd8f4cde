package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/randalmurphal/prodact/pkg/prodact"
)

// parseValue interprets a command-line value as bool, integer, float or string.
// NaN and infinities stay strings.
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// parseProperties turns key=value pairs into a property map.
func parseProperties(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("property %q must be key=value", pair)
		}
		props[key] = parseValue(value)
	}
	return props, nil
}

// setValue sets key with a property key typed after value.
func setValue(ctx context.Context, a *prodact.Analytics, key string, m prodact.Mutability, value any) {
	switch v := value.(type) {
	case bool:
		prodact.Set(ctx, a, prodact.NewUserPropertyKey[bool](key, prodact.WithMutability(m)), v)
	case int64:
		prodact.Set(ctx, a, prodact.NewUserPropertyKey[int64](key, prodact.WithMutability(m)), v)
	case float64:
		prodact.Set(ctx, a, prodact.NewUserPropertyKey[float64](key, prodact.WithMutability(m)), v)
	default:
		prodact.Set(ctx, a, prodact.NewUserPropertyKey[string](key, prodact.WithMutability(m)), fmt.Sprint(v))
	}
}
