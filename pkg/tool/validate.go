package tool

import (
	"github.com/arbor-ai/arbor/pkg/schema"
)

// ValidateInputs checks inputs against a declared Schema: every required
// parameter must be present and every supplied value must match its declared
// primitive type. Unknown parameters are rejected: a decision supplying
// arguments a tool never declared is a contract violation upstream.
func ValidateInputs(s Schema, inputs map[string]any) error {
	for name, field := range s {
		v, ok := inputs[name]
		if !ok {
			if field.Required {
				return schema.NewErrorf(schema.ErrCodeInputValidation, "missing required input %q", name)
			}
			continue
		}
		if !matchesType(field.Type, v) {
			return schema.NewErrorf(schema.ErrCodeInputValidation,
				"input %q: expected %s, got %T", name, field.Type, v)
		}
	}
	for name := range inputs {
		if _, ok := s[name]; !ok {
			return schema.NewErrorf(schema.ErrCodeInputValidation, "unknown input %q", name)
		}
	}
	return nil
}

func matchesType(declared string, v any) bool {
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			// JSON numbers decode as float64; accept integral values.
			return n == float64(int64(n))
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return false
}
