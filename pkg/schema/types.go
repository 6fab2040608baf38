package schema

import (
	"fmt"
	"reflect"
	"time"
)

// Type defines the contract for parameter validation.
type Type interface {
	// Name returns the human-readable name of the type (e.g., "string", "pipeline").
	Name() string
	// Validate checks if a raw JSON value conforms to this type.
	Validate(value any) error
}

type basicType struct {
	name     string
	validate func(any) error
}

func (t *basicType) Name() string             { return t.name }
func (t *basicType) Validate(value any) error { return t.validate(value) }

func isWhole(f float64) bool { return f == float64(int64(f)) }

// String creates a string type validator.
func String() Type {
	return &basicType{name: "string", validate: func(v any) error {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		return nil
	}}
}

// Int accepts integers, including whole floats produced by JSON decoding.
func Int() Type {
	return &basicType{name: "int", validate: func(v any) error {
		switch n := v.(type) {
		case int, int8, int16, int32, int64:
			return nil
		case float64:
			if isWhole(n) {
				return nil
			}
			return fmt.Errorf("expected int, got float (not a whole number)")
		default:
			return fmt.Errorf("expected int, got %T", v)
		}
	}}
}

// Number accepts any numeric value.
func Number() Type {
	return &basicType{name: "number", validate: func(v any) error {
		switch v.(type) {
		case float32, float64, int, int8, int16, int32, int64:
			return nil
		default:
			return fmt.Errorf("expected number, got %T", v)
		}
	}}
}

// Bool creates a boolean type validator.
func Bool() Type {
	return &basicType{name: "bool", validate: func(v any) error {
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		return nil
	}}
}

// Duration accepts a Go duration string ("1.5s") or a number of milliseconds.
func Duration() Type {
	return &basicType{name: "duration", validate: func(v any) error {
		_, err := ParseDuration(v)
		return err
	}}
}

// Any accepts every value, including nil.
func Any() Type {
	return &basicType{name: "any", validate: func(any) error { return nil }}
}

// Object accepts JSON objects.
func Object() Type {
	return &basicType{name: "object", validate: func(v any) error {
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		return nil
	}}
}

// PipelineType marks parameters holding nested Pipelines.
// The script codec decodes these into Pipeline values instead of raw params.
type PipelineType struct{}

func (PipelineType) Name() string { return "pipeline" }

func (PipelineType) Validate(value any) error {
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("expected pipeline (list of pipes), got %T", value)
	}
	for i, item := range items {
		pipe, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("pipe %d: expected object, got %T", i, item)
		}
		if _, ok := pipe["type"].(string); !ok {
			return fmt.Errorf("pipe %d: missing type", i)
		}
	}
	return nil
}

// Pipeline creates a pipeline type.
func Pipeline() Type { return PipelineType{} }

// IsPipeline reports whether t describes a nested Pipeline.
func IsPipeline(t Type) bool {
	_, ok := t.(PipelineType)
	return ok
}

// SliceType validates lists of a specific element type.
type SliceType struct {
	elemType Type
}

func (t *SliceType) Name() string {
	return fmt.Sprintf("[%s]", t.elemType.Name())
}

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected list, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elemType.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Slice creates a list type validator for elements of the given type.
func Slice(elemType Type) Type {
	return &SliceType{elemType: elemType}
}

// EnumType restricts a string parameter to a fixed set of values.
type EnumType struct {
	Values []string
}

func (t *EnumType) Name() string { return "enum" }

func (t *EnumType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	for _, v := range t.Values {
		if v == s {
			return nil
		}
	}
	return fmt.Errorf("expected one of %v, got %q", t.Values, s)
}

// Enum creates an enum type.
func Enum(values ...string) Type {
	return &EnumType{Values: values}
}

// Custom creates a type validator with a user-defined function.
func Custom(name string, validate func(any) error) Type {
	return &basicType{name: name, validate: validate}
}

// ParseDuration converts a raw duration parameter into a time.Duration.
// Strings use Go duration syntax; numbers are milliseconds.
func ParseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", d, err)
		}
		return parsed, nil
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("expected duration, got %T", v)
	}
}

// ParseType converts a type name to a Type.
// Supports "string", "int", "number", "bool", "duration", "any", "object",
// "pipeline" and list forms such as "[string]".
func ParseType(typeStr string) (Type, error) {
	if len(typeStr) > 2 && typeStr[0] == '[' && typeStr[len(typeStr)-1] == ']' {
		elemType, err := ParseType(typeStr[1 : len(typeStr)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elemType), nil
	}

	switch typeStr {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "number", "float":
		return Number(), nil
	case "bool":
		return Bool(), nil
	case "duration":
		return Duration(), nil
	case "any":
		return Any(), nil
	case "object":
		return Object(), nil
	case "pipeline":
		return Pipeline(), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", typeStr)
	}
}
