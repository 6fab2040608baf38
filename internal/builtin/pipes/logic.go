package pipes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/schema"
)

type containsParams struct {
	Substring     string `mapstructure:"substring"`
	CaseSensitive bool   `mapstructure:"caseSensitive"`
}

type replaceParams struct {
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
}

type regexpParams struct {
	Pattern string `mapstructure:"pattern"`
	Group   int    `mapstructure:"group"`
}

type compareParams struct {
	Operator string  `mapstructure:"operator"`
	Value    float64 `mapstructure:"value"`
}

func mapValues(in []domain.Element, fn func(any) (any, error)) ([]domain.Element, error) {
	out := make([]domain.Element, len(in))
	for i, el := range in {
		v, err := fn(el.Value)
		if err != nil {
			return nil, err
		}
		out[i] = el.Clone(v)
	}
	return out, nil
}

func stringValue(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	case float64, int, bool:
		return fmt.Sprint(s), nil
	}
	return "", domain.Fatal(domain.CodeInvalidParameter, "expected string value, got %T", v)
}

func numberValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, domain.Fatal(domain.CodeInvalidParameter, "expected number value, got %T", v)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, domain.Wrap(err, domain.CodeInvalidParameter, false, "invalid pattern %q", pattern)
	}
	return re, nil
}

func logicPipes() []*runtime.PipeDef {
	return []*runtime.PipeDef{
		{
			Type:        "String.contains",
			Description: "Tests whether each string value contains a substring.",
			Params: schema.Params{
				{Name: "substring", Type: schema.String(), Required: true},
				{Name: "caseSensitive", Type: schema.Bool(), Default: false},
			},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[containsParams](call)
				if err != nil {
					return nil, err
				}
				return mapValues(in, func(v any) (any, error) {
					s, err := stringValue(v)
					if err != nil {
						return nil, err
					}
					if p.CaseSensitive {
						return strings.Contains(s, p.Substring), nil
					}
					return strings.Contains(strings.ToLower(s), strings.ToLower(p.Substring)), nil
				})
			},
		},
		{
			Type:        "String.trim",
			Description: "Trims and collapses whitespace in each string value.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				return mapValues(in, func(v any) (any, error) {
					s, err := stringValue(v)
					if err != nil {
						return nil, err
					}
					return strings.Join(strings.Fields(s), " "), nil
				})
			},
		},
		{
			Type:        "String.replace",
			Description: "Replaces every match of a regular expression.",
			Params: schema.Params{
				{Name: "pattern", Type: schema.String(), Required: true},
				{Name: "replacement", Type: schema.String(), Default: ""},
			},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[replaceParams](call)
				if err != nil {
					return nil, err
				}
				re, err := compilePattern(p.Pattern)
				if err != nil {
					return nil, err
				}
				return mapValues(in, func(v any) (any, error) {
					s, err := stringValue(v)
					if err != nil {
						return nil, err
					}
					return re.ReplaceAllString(s, p.Replacement), nil
				})
			},
		},
		{
			Type:        "String.extractRegexp",
			Description: "Extracts a capture group from each string value; non-matching elements are dropped.",
			Params: schema.Params{
				{Name: "pattern", Type: schema.String(), Required: true},
				{Name: "group", Type: schema.Int(), Default: 0},
			},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[regexpParams](call)
				if err != nil {
					return nil, err
				}
				re, err := compilePattern(p.Pattern)
				if err != nil {
					return nil, err
				}
				if p.Group < 0 || p.Group > re.NumSubexp() {
					return nil, domain.Fatal(domain.CodeInvalidParameter, "group %d out of range for %q", p.Group, p.Pattern)
				}
				out := []domain.Element{}
				for _, el := range in {
					s, err := stringValue(el.Value)
					if err != nil {
						return nil, err
					}
					m := re.FindStringSubmatch(s)
					if m == nil {
						continue
					}
					out = append(out, el.Clone(m[p.Group]))
				}
				return out, nil
			},
		},
		{
			Type:        "Number.compare",
			Description: "Compares each numeric value with a constant.",
			Params: schema.Params{
				{Name: "operator", Type: schema.Enum("eq", "neq", "gt", "gte", "lt", "lte"), Required: true},
				{Name: "value", Type: schema.Number(), Required: true},
			},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[compareParams](call)
				if err != nil {
					return nil, err
				}
				return mapValues(in, func(v any) (any, error) {
					n, err := numberValue(v)
					if err != nil {
						return nil, err
					}
					switch p.Operator {
					case "eq":
						return n == p.Value, nil
					case "neq":
						return n != p.Value, nil
					case "gt":
						return n > p.Value, nil
					case "gte":
						return n >= p.Value, nil
					case "lt":
						return n < p.Value, nil
					case "lte":
						return n <= p.Value, nil
					}
					return nil, domain.Fatal(domain.CodeInvalidParameter, "unknown operator %q", p.Operator)
				})
			},
		},
		booleanPipe("Boolean.and", func(a, b bool) bool { return a && b }),
		booleanPipe("Boolean.or", func(a, b bool) bool { return a || b }),
		{
			Type:        "Boolean.not",
			Description: "Negates the truthiness of each value.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				return mapValues(in, func(v any) (any, error) { return !domain.Truthy(v), nil })
			},
		},
	}
}

// booleanPipe always evaluates both operands, even when the first decides the result.
func booleanPipe(typ string, combine func(a, b bool) bool) *runtime.PipeDef {
	return &runtime.PipeDef{
		Type:        typ,
		Description: "Combines the truthiness of two operand pipelines evaluated per element.",
		Params: schema.Params{
			{Name: "pipelineA", Type: schema.Pipeline()},
			{Name: "pipelineB", Type: schema.Pipeline()},
		},
		Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
			out := make([]domain.Element, len(in))
			for i, el := range in {
				a, err := call.SubOne(ctx, "pipelineA", []domain.Element{el})
				if err != nil {
					return nil, err
				}
				b, err := call.SubOne(ctx, "pipelineB", []domain.Element{el})
				if err != nil {
					return nil, err
				}
				out[i] = el.Clone(combine(domain.Truthy(a.Value), domain.Truthy(b.Value)))
			}
			return out, nil
		},
	}
}
