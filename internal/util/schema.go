package util

import (
	"encoding/json"
	"fmt"

	"github.com/swaggest/jsonschema-go"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ReflectSchema derives a JSON schema map from a Go struct value. Field
// names follow json tags; `required:"true"` and `description:"..."` tags are
// honored by the reflector.
func ReflectSchema(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(v, jsonschema.InlineRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out, nil
}

// ValidateParameters validates parameters against a JSON schema.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, fieldName := range requiredFields(schema["required"]) {
		if _, exists := params[fieldName]; !exists {
			return &ValidationError{
				Field:   fieldName,
				Message: "required field is missing",
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for fieldName, value := range params {
		propSchema, exists := properties[fieldName]
		if !exists {
			continue // Allow extra fields
		}

		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}

		if !isValidType(value, propMap["type"]) {
			return &ValidationError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("expected type %v, got %T", propMap["type"], value),
			}
		}
	}

	return nil
}

// requiredFields accepts both hand written ([]string) and decoded ([]any) lists.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// isValidType checks a value against a schema "type", which may be a single
// name or a list of alternatives (e.g. ["string","null"]).
func isValidType(value any, expected any) bool {
	switch t := expected.(type) {
	case string:
		return matchesType(value, t)
	case []any:
		for _, alt := range t {
			if s, ok := alt.(string); ok && matchesType(value, s) {
				return true
			}
		}
		return len(t) == 0
	default:
		return true
	}
}

func matchesType(value any, expectedType string) bool {
	if value == nil {
		return true // nil is valid for any type
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON unmarshaling produces float64 for numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true // Unknown types are assumed valid
	}
}
