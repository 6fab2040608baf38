package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Param describes one parameter of an Action or Pipe type.
type Param struct {
	Name        string
	Type        Type
	Required    bool
	Default     any
	Description string
}

// Params is the ordered parameter list of a type.
type Params []Param

// Lookup returns the descriptor for name.
func (p Params) Lookup(name string) (Param, bool) {
	for _, param := range p {
		if param.Name == name {
			return param, true
		}
	}
	return Param{}, false
}

// Pipelines returns the names of pipeline-kind parameters, in declaration order.
func (p Params) Pipelines() []string {
	var names []string
	for _, param := range p {
		if IsPipeline(param.Type) {
			names = append(names, param.Name)
		}
	}
	return names
}

// WithDefaults returns a copy of data with defaults filled in for absent parameters.
func (p Params) WithDefaults(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+len(p))
	for k, v := range data {
		out[k] = v
	}
	for _, param := range p {
		if _, ok := out[param.Name]; !ok && param.Default != nil {
			out[param.Name] = param.Default
		}
	}
	return out
}

// Validate checks data against the descriptors.
// Missing required parameters, type mismatches and unknown keys are all reported.
// Keys starting with '$' are runtime-only and ignored.
func (p Params) Validate(data map[string]any) error {
	var errs []*ValidationError

	for _, param := range p {
		value, exists := data[param.Name]
		if !exists || value == nil {
			if param.Required {
				errs = append(errs, &ValidationError{Param: param.Name, Reason: "required"})
			}
			continue
		}
		if param.Type == nil {
			continue
		}
		if err := param.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Param: param.Name, Reason: err.Error(), Value: value})
		}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if _, ok := p.Lookup(k); !ok {
			errs = append(errs, &ValidationError{Param: k, Reason: "unknown parameter"})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// JSONSchema renders the descriptors as a JSON Schema object.
func (p Params) JSONSchema() map[string]any {
	props := make(map[string]any, len(p))
	var required []string
	for _, param := range p {
		prop := jsonSchemaOf(param.Type)
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		props[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}
	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func jsonSchemaOf(t Type) map[string]any {
	if t == nil {
		return map[string]any{}
	}
	switch tt := t.(type) {
	case PipelineType:
		return map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object", "required": []string{"type"}},
		}
	case *SliceType:
		return map[string]any{"type": "array", "items": jsonSchemaOf(tt.elemType)}
	case *EnumType:
		return map[string]any{"type": "string", "enum": tt.Values}
	}
	switch t.Name() {
	case "string":
		return map[string]any{"type": "string"}
	case "int":
		return map[string]any{"type": "integer"}
	case "number":
		return map[string]any{"type": "number"}
	case "bool":
		return map[string]any{"type": "boolean"}
	case "object":
		return map[string]any{"type": "object"}
	case "duration":
		return map[string]any{"type": []string{"string", "number"}}
	default:
		return map[string]any{}
	}
}

type paramJSON struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// MarshalJSON serializes the descriptor with its type name.
func (p Param) MarshalJSON() ([]byte, error) {
	if p.Type == nil {
		return nil, fmt.Errorf("param %s: type is nil", p.Name)
	}
	raw := paramJSON{
		Name:        p.Name,
		Type:        p.Type.Name(),
		Required:    p.Required,
		Default:     p.Default,
		Description: p.Description,
	}
	if enum, ok := p.Type.(*EnumType); ok {
		raw.Enum = enum.Values
	}
	return json.Marshal(raw)
}

// UnmarshalJSON deserializes a descriptor written by MarshalJSON.
func (p *Param) UnmarshalJSON(data []byte) error {
	var raw paramJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var typ Type
	if raw.Type == "enum" {
		typ = Enum(raw.Enum...)
	} else {
		parsed, err := ParseType(raw.Type)
		if err != nil {
			return fmt.Errorf("param %s: %w", raw.Name, err)
		}
		typ = parsed
	}
	*p = Param{
		Name:        raw.Name,
		Type:        typ,
		Required:    raw.Required,
		Default:     raw.Default,
		Description: raw.Description,
	}
	return nil
}

// Decode applies defaults and decodes raw parameters into out (a pointer to a struct
// with mapstructure tags). Duration fields accept the forms ParseDuration accepts.
func (p Params) Decode(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       durationHook,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(p.WithDefaults(raw))
}

func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	return ParseDuration(data)
}
