package actions

import (
	"context"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/schema"
)

type outputParams struct {
	Key     string `mapstructure:"key"`
	Collect bool   `mapstructure:"collect"`
}

type keyParams struct {
	Key string `mapstructure:"key"`
}

func dataActions() []*runtime.ActionDef {
	return []*runtime.ActionDef{
		{
			Type:        "Data.sendOutput",
			Description: "Emits the single value of the pipeline, or all values when collect is set, as a job output.",
			Params: schema.Params{
				mainPipeline,
				{Name: "key", Type: schema.String(), Required: true},
				{Name: "collect", Type: schema.Bool(), Default: false},
			},
			Retriable: true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[outputParams](call)
				if err != nil {
					return err
				}
				flow := call.Env().Flow
				if flow == nil {
					return domain.Fatal(domain.CodeInputRequired, "no job flow attached")
				}
				var data any
				if p.Collect {
					els, err := call.SelectAll(ctx, "pipeline")
					if err != nil {
						return err
					}
					data = domain.Values(els)
				} else {
					el, err := call.SelectOne(ctx, "pipeline")
					if err != nil {
						return err
					}
					data = el.Value
				}
				return flow.SendOutput(ctx, p.Key, data)
			},
		},
		{
			Type:        "Data.setGlobal",
			Description: "Stores the single value of the pipeline as a script global.",
			Params: schema.Params{
				mainPipeline,
				{Name: "key", Type: schema.String(), Required: true},
			},
			Retriable: true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[keyParams](call)
				if err != nil {
					return err
				}
				el, err := call.SelectOne(ctx, "pipeline")
				if err != nil {
					return err
				}
				call.Env().Globals()[p.Key] = domain.CloneValue(el.Value)
				return nil
			},
		},
		{
			Type:        "Data.resetInput",
			Description: "Forgets a job input so that it is requested again.",
			Params:      schema.Params{{Name: "key", Type: schema.String(), Required: true}},
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[keyParams](call)
				if err != nil {
					return err
				}
				flow := call.Env().Flow
				if flow == nil {
					return domain.Fatal(domain.CodeInputRequired, "no job flow attached")
				}
				return flow.ResetInput(ctx, p.Key)
			},
		},
		{
			Type:        "Data.checkpoint",
			Description: "Captures and persists a resumable checkpoint labelled with the action label, or its id when unlabelled.",
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				send := call.Env().SendCheckpoint
				if send == nil {
					call.Env().Logger.Warn("checkpoint requested without a store", "action", call.Action.ID)
					return nil
				}
				label := call.Action.Label
				if label == "" {
					label = call.Action.ID
				}
				cp, err := send(ctx, label)
				if err != nil {
					return err
				}
				call.Env().Logger.Info("checkpoint saved", "id", cp.ID, "label", cp.Label)
				return nil
			},
		},
	}
}
