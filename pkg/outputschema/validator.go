// Package outputschema validates a call's final answer text against an
// optional JSON Schema supplied by the caller (spec.md §4.5, §6
// outputJsonSchema). Only the subset of JSON Schema the spec's examples
// exercise is supported: type, properties/required for objects, items for
// arrays, and enum — enough to catch a malformed final answer without
// pulling in a full draft-2020-12 validator.
//
// Grounded on spec.md directly; no pack example validates JSON Schema. The
// hand-rolled subset validator is a deliberate stdlib-only choice —
// justified in DESIGN.md: no pack repo imports a schema validation library,
// and the spec's own Non-goals exclude "full JSON Schema compliance",
// leaving no component for a heavier third-party validator to serve.
package outputschema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

// Schema is the parsed subset of JSON Schema this package understands.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties"`
	Required   []string           `json:"required"`
	Items      *Schema            `json:"items"`
	Enum       []any              `json:"enum"`
}

// ParseSchema unmarshals a raw JSON Schema document.
func ParseSchema(raw string) (*Schema, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("outputschema: parse schema: %w", err)
	}
	return &s, nil
}

// ParseAndValidate unmarshals raw as JSON and validates it against schema.
// Returns the decoded value on success. If schema is nil, any valid JSON
// passes (spec.md §4.5: a call with no outputJsonSchema accepts any
// well-formed answer text as its final value).
func ParseAndValidate(raw string, schema *Schema) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, &rlmerr.OutputValidationError{Message: "not valid JSON: " + err.Error(), Raw: raw}
	}
	if schema == nil {
		return value, nil
	}
	if err := validate(value, schema, "$"); err != nil {
		return nil, &rlmerr.OutputValidationError{Message: err.Error(), Raw: raw}
	}
	return value, nil
}

func validate(value any, schema *Schema, path string) error {
	if len(schema.Enum) > 0 {
		if !containsAny(schema.Enum, value) {
			return fmt.Errorf("%s: value not among allowed enum values", path)
		}
	}

	switch schema.Type {
	case "", "any":
		return nil
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object", path)
		}
		for _, req := range schema.Required {
			if _, ok := obj[req]; !ok {
				return fmt.Errorf("%s: missing required property %q", path, req)
			}
		}
		for name, propSchema := range schema.Properties {
			propValue, ok := obj[name]
			if !ok {
				continue
			}
			if err := validate(propValue, propSchema, path+"."+name); err != nil {
				return err
			}
		}
		return nil
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array", path)
		}
		if schema.Items != nil {
			for i, item := range arr {
				if err := validate(item, schema.Items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string", path)
		}
		return nil
	case "number", "integer":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%s: expected number", path)
		}
		return nil
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean", path)
		}
		return nil
	default:
		return fmt.Errorf("%s: unsupported schema type %q", path, schema.Type)
	}
}

func containsAny(haystack []any, needle any) bool {
	needleJSON, _ := json.Marshal(needle)
	for _, v := range haystack {
		vJSON, _ := json.Marshal(v)
		if string(vJSON) == string(needleJSON) {
			return true
		}
	}
	return false
}
