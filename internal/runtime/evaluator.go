package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/retry"
	"github.com/aretw0/marionette/pkg/script"
	"golang.org/x/sync/errgroup"
)

// DefaultMapConcurrency bounds per-element calls made by Map.
const DefaultMapConcurrency = 4

// Env is the shared evaluation environment of one Script session.
type Env struct {
	Script  *script.Script
	Catalog *Catalog
	Page    ports.Page
	Flow    ports.Flow
	Logger  *slog.Logger
	Retry   retry.Config
	Hooks   domain.LifecycleHooks
	Clock   retry.Clock
	// MapConcurrency bounds Map; values < 1 mean sequential.
	MapConcurrency int
	// SendCheckpoint persists checkpoints created by scripts. May be nil.
	SendCheckpoint func(ctx context.Context, label string) (*domain.Checkpoint, error)
}

// Globals returns the Script-scoped globals map.
func (e *Env) Globals() map[string]any {
	return e.Script.Runtime.Globals
}

// RequirePage returns the page or a fatal PageUnavailable error.
func (e *Env) RequirePage() (ports.Page, error) {
	if e.Page == nil {
		return nil, domain.Wrap(domain.ErrNoPage, domain.CodePageUnavailable, false, "page required")
	}
	return e.Page, nil
}

// Tick forwards to the Flow tick, if any.
func (e *Env) Tick(ctx context.Context) error {
	if e.Flow == nil {
		return ctx.Err()
	}
	return e.Flow.Tick(ctx)
}

// RetryOptions returns the options every retry in this session uses.
func (e *Env) RetryOptions(extra ...retry.Option) []retry.Option {
	opts := []retry.Option{retry.WithConfig(e.Retry), retry.WithTick(e.Tick)}
	if e.Page != nil {
		opts = append(opts, retry.WithNetwork(e.Page.Network()))
	}
	if e.Clock != nil {
		opts = append(opts, retry.WithClock(e.Clock))
	}
	if e.Hooks.OnRetry != nil {
		opts = append(opts, retry.WithObserver(e.Hooks.OnRetry))
	}
	return append(opts, extra...)
}

// Evaluation is one top-level Pipeline evaluation. Nested pipelines evaluated
// through it share the same locals.
type Evaluation struct {
	env    *Env
	locals map[string]any
}

// NewEvaluation starts a top-level evaluation with fresh locals.
func (e *Env) NewEvaluation() *Evaluation {
	return &Evaluation{env: e, locals: make(map[string]any)}
}

// Env returns the session environment.
func (ev *Evaluation) Env() *Env { return ev.env }

// Locals returns the locals map of this evaluation.
func (ev *Evaluation) Locals() map[string]any { return ev.locals }

// SelectAll threads inputs through every pipe of p. An empty pipeline is identity.
func (ev *Evaluation) SelectAll(ctx context.Context, p *script.Pipeline, in []domain.Element) ([]domain.Element, error) {
	out := in
	if p == nil {
		return out, nil
	}
	for _, pipe := range p.Pipes {
		def, ok := ev.env.Catalog.Pipe(pipe.Type)
		if !ok {
			return nil, domain.InvalidScript("%s: unknown pipe type %q", pipe.Path, pipe.Type)
		}
		call := &PipeCall{Evaluation: ev, Pipe: pipe, Params: def.Params.WithDefaults(pipe.Params), def: def}
		next, err := def.Apply(ctx, call, out)
		if err != nil {
			return nil, fmt.Errorf("%s (%s): %w", pipe.Path, pipe.Type, err)
		}
		out = next
	}
	return out, nil
}

// SelectOne evaluates p and requires exactly one output element.
func (ev *Evaluation) SelectOne(ctx context.Context, p *script.Pipeline, in []domain.Element) (domain.Element, error) {
	out, err := ev.SelectAll(ctx, p, in)
	if err != nil {
		return domain.Element{}, err
	}
	if len(out) != 1 {
		return domain.Element{}, mismatch(p, "exactly one", len(out))
	}
	return out[0], nil
}

// SelectSingle evaluates p and requires at most one output element.
// Zero outputs are only accepted when optional, in which case nil is returned.
func (ev *Evaluation) SelectSingle(ctx context.Context, p *script.Pipeline, in []domain.Element, optional bool) (*domain.Element, error) {
	out, err := ev.SelectAll(ctx, p, in)
	if err != nil {
		return nil, err
	}
	switch {
	case len(out) > 1:
		return nil, mismatch(p, "at most one", len(out))
	case len(out) == 0 && optional:
		return nil, nil
	case len(out) == 0:
		return nil, mismatch(p, "exactly one", 0)
	}
	return &out[0], nil
}

func mismatch(p *script.Pipeline, want string, got int) error {
	path := ""
	if p != nil {
		path = p.Path
	}
	return domain.Retriable(domain.CodePipelineOutputMismatch,
		"pipeline %s: expected %s element, got %d", path, want, got).
		WithDetails(map[string]any{"path": path, "count": got})
}

// Map applies fn to every element and concatenates the results in input order.
// Calls may run concurrently, bounded by the environment's MapConcurrency.
func (ev *Evaluation) Map(ctx context.Context, in []domain.Element, fn func(context.Context, domain.Element) ([]domain.Element, error)) ([]domain.Element, error) {
	return Map(ctx, ev.env.MapConcurrency, in, fn)
}

// Map applies fn to every element with at most limit concurrent calls.
// Results keep input order regardless of completion order; empty results are dropped.
func Map(ctx context.Context, limit int, in []domain.Element, fn func(context.Context, domain.Element) ([]domain.Element, error)) ([]domain.Element, error) {
	if limit < 1 {
		limit = 1
	}
	results := make([][]domain.Element, len(in))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, el := range in {
		g.Go(func() error {
			out, err := fn(gctx, el)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []domain.Element
	for _, r := range results {
		flat = append(flat, r...)
	}
	if flat == nil {
		flat = []domain.Element{}
	}
	return flat, nil
}

// PipeCall is the invocation of one Pipe inside an Evaluation.
type PipeCall struct {
	*Evaluation
	Pipe   *script.Pipe
	Params map[string]any
	def    *PipeDef
}

// Decode decodes the pipe parameters into out.
func (c *PipeCall) Decode(out any) error {
	if err := c.def.Params.Decode(c.Params, out); err != nil {
		return domain.Wrap(err, domain.CodeInvalidParameter, false, "decode %s params", c.Pipe.Type)
	}
	return nil
}

// Sub evaluates a nested pipeline parameter with the shared locals.
func (c *PipeCall) Sub(ctx context.Context, name string, in []domain.Element) ([]domain.Element, error) {
	return c.SelectAll(ctx, c.Pipe.Pipeline(name), in)
}

// SubOne evaluates a nested pipeline parameter and requires exactly one output.
func (c *PipeCall) SubOne(ctx context.Context, name string, in []domain.Element) (domain.Element, error) {
	return c.SelectOne(ctx, c.Pipe.Pipeline(name), in)
}

// One wraps a single element, for Map callbacks.
func One(el domain.Element) []domain.Element { return []domain.Element{el} }
