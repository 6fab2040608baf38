package actions

import (
	"context"
	"time"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/retry"
	"github.com/aretw0/marionette/pkg/schema"
)

// DefaultLoopLimit caps Flow.while iterations when no limit is declared.
const DefaultLoopLimit = 10

type whileParams struct {
	Limit int `mapstructure:"limit"`
}

type findParams struct {
	Optional bool `mapstructure:"optional"`
}

type messageParams struct {
	Message string `mapstructure:"message"`
}

type expectParams struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Message string        `mapstructure:"message"`
}

type waitParams struct {
	Duration time.Duration `mapstructure:"duration"`
}

var mainPipeline = schema.Param{Name: "pipeline", Type: schema.Pipeline()}

func condition(ctx context.Context, call *runtime.ActionCall) (bool, error) {
	el, err := call.SelectOne(ctx, "pipeline")
	if err != nil {
		return false, err
	}
	return domain.Truthy(el.Value), nil
}

func flowActions() []*runtime.ActionDef {
	return []*runtime.ActionDef{
		{
			Type:        "Flow.group",
			Description: "Groups children; always enters.",
			Container:   true,
			Exec:        func(context.Context, *runtime.ActionCall) error { return nil },
		},
		{
			Type:        "Flow.if",
			Description: "Enters children when the pipeline yields one truthy value.",
			Params:      schema.Params{mainPipeline},
			Container:   true,
			Retriable:   true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				ok, err := condition(ctx, call)
				if err != nil {
					return err
				}
				if !ok {
					call.Bypass()
				}
				return nil
			},
		},
		{
			Type:        "Flow.while",
			Description: "Repeats children while the pipeline yields one truthy value, up to limit times.",
			Params: schema.Params{
				mainPipeline,
				{Name: "limit", Type: schema.Int(), Default: DefaultLoopLimit},
			},
			Container: true,
			Retriable: true,
			Loop:      true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[whileParams](call)
				if err != nil {
					return err
				}
				ok, err := condition(ctx, call)
				if err != nil {
					return err
				}
				if !ok {
					call.Bypass()
					return nil
				}
				call.State.Attempts++
				if call.State.Attempts > p.Limit {
					return domain.Fatal(domain.CodeLoopLimitExceeded,
						"loop %s exceeded %d iterations", call.Action.ID, p.Limit)
				}
				return nil
			},
		},
		{
			Type:        "Flow.each",
			Description: "Enters children once per element of the pipeline, scoped to that element.",
			Params:      schema.Params{mainPipeline},
			Container:   true,
			Retriable:   true,
			Loop:        true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				items, err := call.SelectAll(ctx, "pipeline")
				if err != nil {
					return err
				}
				call.State.Index = call.State.Attempts
				call.State.Attempts++
				if call.State.Index >= len(items) {
					call.Bypass()
				}
				return nil
			},
			ResolveChildrenScope: func(ctx context.Context, call *runtime.ActionCall) ([]domain.Element, error) {
				items, err := call.SelectAll(ctx, "pipeline")
				if err != nil {
					return nil, err
				}
				if call.State.Index >= len(items) {
					return nil, domain.Retriable(domain.CodeElementNotFound,
						"each %s: element %d of %d disappeared", call.Action.ID, call.State.Index, len(items))
				}
				return []domain.Element{items[call.State.Index]}, nil
			},
		},
		{
			Type:        "Flow.find",
			Description: "Narrows the children scope to a single element; optional bypasses when none is found.",
			Params: schema.Params{
				mainPipeline,
				{Name: "optional", Type: schema.Bool(), Default: false},
			},
			Container: true,
			Retriable: true,
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[findParams](call)
				if err != nil {
					return err
				}
				el, err := call.SelectSingle(ctx, "pipeline", p.Optional)
				if err != nil {
					return err
				}
				if el == nil {
					call.Bypass()
				}
				return nil
			},
			ResolveChildrenScope: func(ctx context.Context, call *runtime.ActionCall) ([]domain.Element, error) {
				el, err := call.SelectSingle(ctx, "pipeline", true)
				if err != nil {
					return nil, err
				}
				if el == nil {
					return []domain.Element{}, nil
				}
				return []domain.Element{*el}, nil
			},
		},
		{
			Type:        "Flow.leaveContext",
			Description: "Ends the active context; playback returns to context matching.",
			Exec: func(_ context.Context, call *runtime.ActionCall) error {
				call.LeaveContext()
				return nil
			},
		},
		{
			Type:        "Flow.success",
			Description: "Ends the script successfully.",
			Exec: func(_ context.Context, call *runtime.ActionCall) error {
				call.Succeed()
				return nil
			},
		},
		{
			Type:        "Flow.fail",
			Description: "Ends the script with a script error.",
			Params:      schema.Params{{Name: "message", Type: schema.String(), Default: "script failed"}},
			Exec: func(_ context.Context, call *runtime.ActionCall) error {
				p, err := decode[messageParams](call)
				if err != nil {
					return err
				}
				return domain.ScriptError(domain.CodeScriptFailed, "%s", p.Message)
			},
		},
		{
			Type:        "Flow.expect",
			Description: "Waits until the pipeline yields one truthy value or fails with a script error after timeout.",
			Params: schema.Params{
				mainPipeline,
				{Name: "timeout", Type: schema.Duration(), Default: "5s"},
				{Name: "message", Type: schema.String(), Default: "expectation not met"},
			},
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[expectParams](call)
				if err != nil {
					return err
				}
				_, err = retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
					ok, err := condition(ctx, call)
					if err != nil {
						return struct{}{}, err
					}
					if !ok {
						return struct{}{}, domain.Retriable(domain.CodeExpectFailed, "%s", p.Message)
					}
					return struct{}{}, nil
				}, call.Env().RetryOptions(retry.WithTimeout(p.Timeout))...)
				if err != nil && domain.IsRetriable(err) {
					return domain.ScriptError(domain.CodeExpectFailed, "%s", p.Message).
						WithDetails(map[string]any{"cause": err.Error()})
				}
				return err
			},
		},
		{
			Type:        "Flow.wait",
			Description: "Waits for a fixed duration, ticking the job flow.",
			Params:      schema.Params{{Name: "duration", Type: schema.Duration(), Required: true}},
			Exec: func(ctx context.Context, call *runtime.ActionCall) error {
				p, err := decode[waitParams](call)
				if err != nil {
					return err
				}
				env := call.Env()
				deadline := env.Clock.Now().Add(p.Duration)
				for {
					if err := env.Tick(ctx); err != nil {
						return domain.Wrap(err, domain.CodeInterrupted, false, "wait interrupted")
					}
					remaining := deadline.Sub(env.Clock.Now())
					if remaining <= 0 {
						return nil
					}
					step := env.Retry.Interval
					if step <= 0 || step > remaining {
						step = remaining
					}
					if err := env.Clock.Sleep(ctx, step); err != nil {
						return domain.Wrap(err, domain.CodeInterrupted, false, "wait interrupted")
					}
				}
			},
		},
	}
}
