package pipes

import (
	"context"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/schema"
)

type keyParams struct {
	Key string `mapstructure:"key"`
}

var keyParam = schema.Params{{Name: "key", Type: schema.String(), Required: true}}

func requireFlow(call *runtime.PipeCall) error {
	if call.Env().Flow == nil {
		return domain.Fatal(domain.CodeInputRequired, "no job flow attached")
	}
	return nil
}

func cloneAll(in []domain.Element, v any) []domain.Element {
	out := make([]domain.Element, len(in))
	for i, el := range in {
		out[i] = el.Clone(domain.CloneValue(v))
	}
	return out
}

func dataPipes() []*runtime.PipeDef {
	return []*runtime.PipeDef{
		{
			Type:        "Data.getInput",
			Description: "Replaces each value with a job input, requesting it from the client if needed.",
			Params:      keyParam,
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[keyParams](call)
				if err != nil {
					return nil, err
				}
				if err := requireFlow(call); err != nil {
					return nil, err
				}
				v, err := call.Env().Flow.RequestInput(ctx, p.Key)
				if err != nil {
					return nil, err
				}
				return cloneAll(in, v), nil
			},
		},
		{
			Type:        "Data.peekInput",
			Description: "Replaces each value with a job input if already supplied, null otherwise.",
			Params:      keyParam,
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[keyParams](call)
				if err != nil {
					return nil, err
				}
				if err := requireFlow(call); err != nil {
					return nil, err
				}
				v, err := call.Env().Flow.PeekInput(ctx, p.Key)
				if err != nil {
					return nil, err
				}
				return cloneAll(in, v), nil
			},
		},
		{
			Type:        "Data.getGlobal",
			Description: "Replaces each value with a script global; unset globals yield null.",
			Params:      keyParam,
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[keyParams](call)
				if err != nil {
					return nil, err
				}
				return cloneAll(in, call.Env().Globals()[p.Key]), nil
			},
		},
		{
			Type:        "Data.saveLocal",
			Description: "Stores the current elements under a local key and passes them through.",
			Params:      keyParam,
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[keyParams](call)
				if err != nil {
					return nil, err
				}
				call.Locals()[p.Key] = append([]domain.Element(nil), in...)
				return in, nil
			},
		},
		{
			Type:        "Data.restoreLocal",
			Description: "Replaces the elements with those saved under a local key.",
			Params:      keyParam,
			Apply: func(ctx context.Context, call *runtime.PipeCall, in []domain.Element) ([]domain.Element, error) {
				p, err := decode[keyParams](call)
				if err != nil {
					return nil, err
				}
				saved, ok := call.Locals()[p.Key].([]domain.Element)
				if !ok {
					return []domain.Element{}, nil
				}
				return append([]domain.Element(nil), saved...), nil
			},
		},
	}
}
