package config

import (
	"encoding/json"
	"math"
)

// Lookups over decoded documents such as twin patches. None of them panic
// on unexpected shapes.

// parent walks every key but the last and returns the map holding it
func parent(doc map[string]any, keys []string) (map[string]any, string, bool) {
	if len(keys) == 0 {
		return nil, "", false
	}
	current := doc
	for _, key := range keys[:len(keys)-1] {
		nested, ok := current[key].(map[string]any)
		if !ok {
			return nil, "", false
		}
		current = nested
	}
	return current, keys[len(keys)-1], true
}

// HasNestedKey reports whether the key path is present, whatever its value
func HasNestedKey(doc map[string]any, keys []string) bool {
	m, last, ok := parent(doc, keys)
	if !ok {
		return false
	}
	_, ok = m[last]
	return ok
}

// LookupNestedFloat64 reports the numeric value at a nested key path
func LookupNestedFloat64(doc map[string]any, keys []string) (float64, bool) {
	m, last, ok := parent(doc, keys)
	if !ok {
		return 0, false
	}
	return LookupFloat64(m, last)
}

// LookupFloat64 reports the numeric value at key. Strings, booleans, null
// and non-finite numbers are not numeric.
func LookupFloat64(doc map[string]any, key string) (float64, bool) {
	var f float64
	switch v := doc[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
