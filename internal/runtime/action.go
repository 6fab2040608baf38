package runtime

import (
	"context"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/script"
)

type control int

const (
	controlNone control = iota
	controlLeaveContext
	controlSuccess
)

// ActionCall is the execution of one Action turn.
type ActionCall struct {
	env     *Env
	Action  *script.Action
	State   *domain.ActionState
	Params  map[string]any
	def     *ActionDef
	scope   func(ctx context.Context) ([]domain.Element, error)
	control control
}

// Env returns the session environment.
func (c *ActionCall) Env() *Env { return c.env }

// Scope returns the action's input scope, resolved on demand from its ancestors.
func (c *ActionCall) Scope(ctx context.Context) ([]domain.Element, error) {
	return c.scope(ctx)
}

// Decode decodes the action parameters into out.
func (c *ActionCall) Decode(out any) error {
	if err := c.def.Params.Decode(c.Params, out); err != nil {
		return domain.Wrap(err, domain.CodeInvalidParameter, false, "decode %s params", c.Action.Type)
	}
	return nil
}

// SelectAll evaluates the named pipeline over the action scope with fresh locals.
func (c *ActionCall) SelectAll(ctx context.Context, name string) ([]domain.Element, error) {
	scope, err := c.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return c.env.NewEvaluation().SelectAll(ctx, c.Action.Pipeline(name), scope)
}

// SelectOne evaluates the named pipeline and requires exactly one output.
func (c *ActionCall) SelectOne(ctx context.Context, name string) (domain.Element, error) {
	scope, err := c.Scope(ctx)
	if err != nil {
		return domain.Element{}, err
	}
	return c.env.NewEvaluation().SelectOne(ctx, c.Action.Pipeline(name), scope)
}

// SelectSingle evaluates the named pipeline and requires at most one output.
func (c *ActionCall) SelectSingle(ctx context.Context, name string, optional bool) (*domain.Element, error) {
	scope, err := c.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return c.env.NewEvaluation().SelectSingle(ctx, c.Action.Pipeline(name), scope, optional)
}

// Bypass marks the action so that its children are skipped this turn.
func (c *ActionCall) Bypass() { c.State.Bypassed = true }

// LeaveContext ends the active Context after this turn; playback returns to matching.
func (c *ActionCall) LeaveContext() { c.control = controlLeaveContext }

// Succeed ends the Script run successfully after this turn.
func (c *ActionCall) Succeed() { c.control = controlSuccess }
