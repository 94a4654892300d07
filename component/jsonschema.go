package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/edgefilter/errors"
)

// JSONSchema renders the schema as a JSON Schema object. Dotted property
// names become nested objects; duration properties accept either a Go
// duration string or integer nanoseconds.
func (s ConfigSchema) JSONSchema() map[string]any {
	root := newObjectSchema()

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		parent, leaf := descend(root, name)
		parent["properties"].(map[string]any)[leaf] = propertyJSONSchema(s.Properties[name])
	}

	for _, name := range s.Required {
		parent, leaf := descend(root, name)
		parent["required"] = append(parent["required"].([]string), leaf)
	}

	pruneEmptyRequired(root)
	root["$schema"] = "http://json-schema.org/draft-07/schema#"
	return root
}

// ValidateDocument checks a JSON document against the schema
func (s ConfigSchema) ValidateDocument(doc []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(s.JSONSchema()),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return errors.WrapInvalid(err, "ConfigSchema", "ValidateDocument", "evaluate schema")
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
		"ConfigSchema", "ValidateDocument", "validate document")
}

// ValidateValue marshals v and validates the result
func (s ConfigSchema) ValidateValue(v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "ConfigSchema", "ValidateValue", "marshal value")
	}
	return s.ValidateDocument(doc)
}

func newObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

// descend walks a dotted name, creating intermediate objects, and returns
// the object holding the last segment
func descend(root map[string]any, name string) (map[string]any, string) {
	parts := strings.Split(name, ".")
	current := root
	for _, part := range parts[:len(parts)-1] {
		props := current["properties"].(map[string]any)
		child, ok := props[part].(map[string]any)
		if !ok || child["properties"] == nil {
			child = newObjectSchema()
			props[part] = child
		}
		current = child
	}
	return current, parts[len(parts)-1]
}

func pruneEmptyRequired(node map[string]any) {
	if req, ok := node["required"].([]string); ok && len(req) == 0 {
		delete(node, "required")
	}
	props, ok := node["properties"].(map[string]any)
	if !ok {
		return
	}
	for _, child := range props {
		if m, ok := child.(map[string]any); ok {
			pruneEmptyRequired(m)
		}
	}
}

func propertyJSONSchema(p PropertySchema) map[string]any {
	out := map[string]any{}
	switch p.Type {
	case "int":
		out["type"] = "integer"
	case "float":
		out["type"] = "number"
	case "bool":
		out["type"] = "boolean"
	case "duration":
		out["type"] = []string{"string", "integer"}
	default:
		out["type"] = "string"
	}

	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Default != nil {
		out["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	return out
}
