package pipes

import (
	"context"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/schema"
)

func listPipes() []*runtime.PipeDef {
	return []*runtime.PipeDef{
		{
			Type:        "List.filter",
			Description: "Keeps elements for which the nested pipeline yields one truthy value.",
			Params:      schema.Params{{Name: "pipeline", Type: schema.Pipeline()}},
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				out := []domain.Element{}
				for _, el := range in {
					res, err := call.SubOne(ctx, "pipeline", []domain.Element{el})
					if err != nil {
						return nil, err
					}
					if domain.Truthy(res.Value) {
						out = append(out, el)
					}
				}
				return out, nil
			},
		},
		{
			Type:        "List.count",
			Description: "Returns a single element holding the number of inputs.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				return []domain.Element{domain.ValueElement(len(in))}, nil
			},
		},
		{
			Type:        "List.first",
			Description: "Keeps the first element, if any.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				if len(in) == 0 {
					return []domain.Element{}, nil
				}
				return in[:1], nil
			},
		},
		{
			Type:        "List.last",
			Description: "Keeps the last element, if any.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				if len(in) == 0 {
					return []domain.Element{}, nil
				}
				return in[len(in)-1:], nil
			},
		},
		{
			Type:        "List.reverse",
			Description: "Reverses element order.",
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				out := make([]domain.Element, len(in))
				for i, el := range in {
					out[len(in)-1-i] = el
				}
				return out, nil
			},
		},
	}
}
