package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/c360/edgefilter/errors"
)

// ParseDocument decodes a JSON object. Numbers are kept as json.Number so
// large integers survive without loss. A root that is not an object fails.
func ParseDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not an object", errors.ErrParsingFailed)
	}
	if len(bytes.TrimSpace(data[dec.InputOffset():])) > 0 {
		return nil, fmt.Errorf("%w: trailing data after document", errors.ErrParsingFailed)
	}
	return doc, nil
}

// Lookup walks a dot-separated path through nested objects
func Lookup(doc map[string]any, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}

	current := doc
	parts := strings.Split(path, ".")
	for i, part := range parts {
		value, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// Float converts a looked-up JSON value to float64. Only JSON numbers are
// accepted; strings, booleans, objects and null are ErrNotANumber.
func Float(value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errors.ErrNotANumber, err)
		}
		f = parsed
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, fmt.Errorf("%w: got %T", errors.ErrNotANumber, value)
	}
	if math.IsNaN(f) {
		return 0, errors.ErrNotANumber
	}
	return f, nil
}

// LookupFloat combines Lookup and Float. A missing path is ErrFieldAbsent.
func LookupFloat(doc map[string]any, path string) (float64, error) {
	value, ok := Lookup(doc, path)
	if !ok {
		return 0, fmt.Errorf("%w: %s", errors.ErrFieldAbsent, path)
	}
	return Float(value)
}
