package pipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/schema"
	"github.com/itchyny/gojq"
)

type constantParams struct {
	Value any `mapstructure:"value"`
}

type jqParams struct {
	Query string `mapstructure:"query"`
}

func valuePipes() []*runtime.PipeDef {
	return []*runtime.PipeDef{
		{
			Type:        "Value.getConstant",
			Description: "Replaces each value with a constant.",
			Params:      schema.Params{{Name: "value", Type: schema.Any()}},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[constantParams](call)
				if err != nil {
					return nil, err
				}
				out := make([]domain.Element, len(in))
				for i, el := range in {
					out[i] = el.Clone(p.Value)
				}
				return out, nil
			},
		},
		{
			Type:        "Value.parseJson",
			Description: "Parses each string value as JSON.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				out := make([]domain.Element, len(in))
				for i, el := range in {
					s, ok := el.Value.(string)
					if !ok {
						return nil, domain.Fatal(domain.CodeInvalidParameter, "expected string value, got %T", el.Value)
					}
					var v any
					if err := json.Unmarshal([]byte(s), &v); err != nil {
						return nil, domain.Wrap(err, domain.CodeInvalidParameter, false, "value is not valid JSON")
					}
					out[i] = el.Clone(v)
				}
				return out, nil
			},
		},
		{
			Type:        "Value.jq",
			Description: "Runs a jq query over each value; every query result becomes an element.",
			Params:      schema.Params{{Name: "query", Type: schema.String(), Required: true}},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[jqParams](call)
				if err != nil {
					return nil, err
				}
				query, err := gojq.Parse(p.Query)
				if err != nil {
					return nil, domain.Wrap(err, domain.CodeInvalidParameter, false, "invalid jq query %q", p.Query)
				}
				code, err := gojq.Compile(query)
				if err != nil {
					return nil, domain.Wrap(err, domain.CodeInvalidParameter, false, "compile jq query %q", p.Query)
				}
				var out []domain.Element
				for _, el := range in {
					iter := code.RunWithContext(ctx, el.Value)
					for {
						v, ok := iter.Next()
						if !ok {
							break
						}
						if err, isErr := v.(error); isErr {
							var halt *gojq.HaltError
							if errors.As(err, &halt) && halt.Value() == nil {
								break
							}
							return nil, domain.Wrap(err, domain.CodeInvalidParameter, false, "jq %q", p.Query)
						}
						out = append(out, el.Clone(v))
					}
				}
				if out == nil {
					out = []domain.Element{}
				}
				return out, nil
			},
		},
		{
			Type:        "Object.getPath",
			Description: "Replaces each value with the value found at a dot-separated path; missing paths yield null.",
			Params:      schema.Params{{Name: "path", Type: schema.String(), Required: true}},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				var p struct {
					Path string `mapstructure:"path"`
				}
				if err := call.Decode(&p); err != nil {
					return nil, err
				}
				out := make([]domain.Element, len(in))
				for i, el := range in {
					out[i] = el.Clone(getPath(el.Value, p.Path))
				}
				return out, nil
			},
		},
	}
}

func getPath(v any, path string) any {
	if path == "" {
		return v
	}
	cur := v
	for _, key := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			cur = t[key]
		case []any:
			var idx int
			if _, err := fmt.Sscanf(key, "%d", &idx); err != nil || idx < 0 || idx >= len(t) {
				return nil
			}
			cur = t[idx]
		default:
			return nil
		}
	}
	return cur
}
