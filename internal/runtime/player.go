package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/lifecycle"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/retry"
	"github.com/aretw0/marionette/pkg/script"
)

// Player drives the playback state machine of one Script against one Page.
// It is single-threaded: callers must not invoke Step concurrently.
type Player struct {
	env       *Env
	lifecycle *lifecycle.Registry
	match     MatchConfig
	timer     *MatchTimer
	started   bool
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) { p.env.Logger = logger }
}

// WithLifecycleHooks installs observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(p *Player) { p.env.Hooks = p.env.Hooks.Merge(hooks) }
}

// WithLifecycle sets the session participant registry. Defaults to lifecycle.Default.
func WithLifecycle(reg *lifecycle.Registry) Option {
	return func(p *Player) { p.lifecycle = reg }
}

// WithRetryConfig overrides the retry tunables.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Player) { p.env.Retry = cfg }
}

// WithMatchConfig overrides the context-match timer tunables.
func WithMatchConfig(cfg MatchConfig) Option {
	return func(p *Player) { p.match = cfg }
}

// WithMapConcurrency bounds concurrent per-element calls in Map.
func WithMapConcurrency(n int) Option {
	return func(p *Player) { p.env.MapConcurrency = n }
}

// WithClock replaces the wall clock used for retries, match rounds and the match timer.
func WithClock(c retry.Clock) Option {
	return func(p *Player) { p.env.Clock = c }
}

// WithCheckpointSink sets the function Data.checkpoint uses to persist checkpoints.
func WithCheckpointSink(fn func(ctx context.Context, label string) (*domain.Checkpoint, error)) Option {
	return func(p *Player) { p.env.SendCheckpoint = fn }
}

// NewPlayer creates a player. page and flow may be nil for page-less scripts.
func NewPlayer(s *script.Script, catalog *Catalog, page ports.Page, flow ports.Flow, opts ...Option) *Player {
	if s.Runtime == nil {
		s.Runtime = script.NewRuntime()
	}
	p := &Player{
		env: &Env{
			Script:         s,
			Catalog:        catalog,
			Page:           page,
			Flow:           flow,
			Logger:         logging.NewNop(),
			Retry:          retry.DefaultConfig(),
			Clock:          retry.SystemClock,
			MapConcurrency: DefaultMapConcurrency,
		},
		lifecycle: lifecycle.Default,
		match:     DefaultMatchConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Env exposes the evaluation environment, e.g. for ad-hoc pipeline evaluation.
func (p *Player) Env() *Env { return p.env }

// Script returns the script being played.
func (p *Player) Script() *script.Script { return p.env.Script }

func (p *Player) session() *lifecycle.Session {
	return &lifecycle.Session{Script: p.env.Script, Page: p.env.Page, Flow: p.env.Flow}
}

// Start resets the runtime and notifies session participants.
func (p *Player) Start(ctx context.Context) error {
	p.env.Script.Runtime.Reset()
	p.env.Script.Runtime.Status = domain.StatusRunning
	p.timer = nil
	p.started = true
	if err := p.lifecycle.SessionStart(ctx, p.session()); err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	if err := p.lifecycle.ScriptRun(ctx, p.session()); err != nil {
		return fmt.Errorf("script run: %w", err)
	}
	return nil
}

// Resume continues a restored runtime without resetting it. Participants see
// a new session, since the previous one ended in another player.
func (p *Player) Resume(ctx context.Context) error {
	p.env.Script.Runtime.Status = domain.StatusRunning
	p.timer = nil
	p.started = true
	if err := p.lifecycle.SessionStart(ctx, p.session()); err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	if err := p.lifecycle.ScriptRun(ctx, p.session()); err != nil {
		return fmt.Errorf("script run: %w", err)
	}
	return nil
}

// Finish notifies participants and clears the runtime. It returns the final status.
func (p *Player) Finish(ctx context.Context, runErr error) (domain.Status, error) {
	rt := p.env.Script.Runtime
	status := rt.Status
	if runErr != nil {
		status = domain.StatusFailed
	}
	err := p.lifecycle.SessionFinish(ctx, p.session(), runErr)
	rt.Reset()
	rt.Status = status
	p.started = false
	return status, err
}

// Run plays the script from the start until it finishes.
func (p *Player) Run(ctx context.Context) (domain.Status, error) {
	if err := p.Start(ctx); err != nil {
		return p.Finish(ctx, err)
	}
	return p.play(ctx)
}

// Continue plays a restored script until it finishes.
func (p *Player) Continue(ctx context.Context) (domain.Status, error) {
	if err := p.Resume(ctx); err != nil {
		return p.Finish(ctx, err)
	}
	return p.play(ctx)
}

func (p *Player) play(ctx context.Context) (domain.Status, error) {
	for {
		done, err := p.Step(ctx)
		if err != nil {
			p.env.Script.Runtime.Status = domain.StatusFailed
			status, ferr := p.Finish(ctx, err)
			return status, errors.Join(err, ferr)
		}
		if done {
			return p.Finish(ctx, nil)
		}
	}
}

// Step performs one turn: a context matching round when the playhead is
// empty, otherwise the execution of the action under the playhead.
// It returns done once the script reached a final status.
func (p *Player) Step(ctx context.Context) (bool, error) {
	rt := p.env.Script.Runtime
	switch rt.Status {
	case domain.StatusSuccess, domain.StatusFailed:
		return true, nil
	}
	if err := p.tick(ctx); err != nil {
		return false, err
	}
	if rt.Playhead == nil {
		return p.matchRound(ctx)
	}
	return p.turn(ctx)
}

func (p *Player) tick(ctx context.Context) error {
	if err := p.env.Tick(ctx); err != nil {
		if domain.CodeOf(err) == domain.CodeInterrupted {
			return err
		}
		return domain.Wrap(err, domain.CodeInterrupted, false, "tick")
	}
	return nil
}

// candidates returns contexts that may still be entered, in declared order.
func (p *Player) candidates() []*script.Context {
	rt := p.env.Script.Runtime
	var out []*script.Context
	for _, c := range p.env.Script.Contexts {
		if c.Limit < 0 || rt.ContextRuns[c.ID] < c.Limit {
			out = append(out, c)
		}
	}
	return out
}

func (p *Player) matchRound(ctx context.Context) (bool, error) {
	rt := p.env.Script.Runtime
	candidates := p.candidates()
	if len(candidates) == 0 {
		rt.Status = domain.StatusSuccess
		return true, nil
	}
	if p.timer == nil {
		p.timer = NewMatchTimer(p.pageState(), p.match, p.env.Clock.Now)
	}

	for _, c := range candidates {
		ok, err := p.matches(ctx, c)
		if err != nil {
			return false, err
		}
		if ok {
			return false, p.enterContext(ctx, c)
		}
	}

	if p.timer.CheckExpired() {
		return false, domain.Fatal(domain.CodeContextMatchTimeout,
			"no context matched before %s", p.timer.Deadline().Format(time.RFC3339))
	}
	if err := p.env.Clock.Sleep(ctx, p.env.Retry.Interval); err != nil {
		return false, domain.Wrap(err, domain.CodeInterrupted, false, "match round interrupted")
	}
	return false, nil
}

func (p *Player) pageState() pageState {
	if p.env.Page == nil {
		return nil
	}
	return p.env.Page
}

// matches evaluates every matcher of c; all of them must yield one truthy value.
// Retriable failures count as no match; anything else aborts the run.
func (p *Player) matches(ctx context.Context, c *script.Context) (bool, error) {
	root := rootScope()
	for _, m := range c.Matchers {
		el, err := p.env.NewEvaluation().SelectOne(ctx, m.Pipeline, root)
		if err != nil {
			if domain.IsRetriable(err) {
				p.env.Logger.Debug("matcher not satisfied", "context", c.ID, "err", err)
				return false, nil
			}
			return false, fmt.Errorf("context %s matcher: %w", c.ID, err)
		}
		if !domain.Truthy(el.Value) {
			return false, nil
		}
	}
	return true, nil
}

func (p *Player) enterContext(ctx context.Context, c *script.Context) error {
	rt := p.env.Script.Runtime
	rt.ContextRuns[c.ID]++
	rt.ContextID = c.ID
	p.timer = nil

	p.env.Logger.Info("context entered", "context", c.ID, "name", c.Name, "run", rt.ContextRuns[c.ID])
	if p.env.Hooks.OnContextEnter != nil {
		p.env.Hooks.OnContextEnter(ctx, &domain.ContextEvent{
			EventBase: domain.EventBase{Timestamp: p.env.Clock.Now(), Type: domain.EventContextEnter},
			ContextID: c.ID,
			Run:       rt.ContextRuns[c.ID],
		})
	}
	if err := p.lifecycle.ContextEnter(ctx, p.session(), c.ID); err != nil {
		return fmt.Errorf("context enter: %w", err)
	}

	if len(c.Actions) == 0 {
		p.finishContext()
		return nil
	}
	p.moveTo(c.Actions[0], true)
	return nil
}

func (p *Player) finishContext() {
	rt := p.env.Script.Runtime
	rt.Playhead = nil
	rt.ContextID = ""
}

// moveTo places the playhead on id. Fresh arrivals reset the action's counters;
// loop re-targets keep them.
func (p *Player) moveTo(id string, fresh bool) {
	rt := p.env.Script.Runtime
	if fresh {
		rt.ResetAction(id)
	}
	rt.Playhead = &domain.Cursor{ActionID: id}
}

func (p *Player) turn(ctx context.Context) (bool, error) {
	rt := p.env.Script.Runtime
	a, ok := p.env.Script.Action(rt.Playhead.ActionID)
	if !ok {
		return false, domain.InvalidScript("playhead points to unknown action %q", rt.Playhead.ActionID)
	}
	call, err := p.newCall(a)
	if err != nil {
		return false, err
	}

	started := p.env.Clock.Now()
	p.emit(ctx, p.env.Hooks.OnActionExec, domain.EventActionExec, a, "", 0, nil)

	call.State.Bypassed = false
	if call.def.Retriable {
		_, err = retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, call.def.Exec(ctx, call)
		}, p.env.RetryOptions()...)
	} else {
		err = call.def.Exec(ctx, call)
	}
	elapsed := p.env.Clock.Now().Sub(started)

	if err != nil {
		p.emit(ctx, p.env.Hooks.OnActionResult, domain.EventActionResult, a, domain.OutcomeError, elapsed, err)
		p.env.Logger.Warn("action failed", "action", a.ID, "type", a.Type, "err", err)
		return false, fmt.Errorf("action %s (%s): %w", a.ID, a.Type, err)
	}

	switch call.control {
	case controlSuccess:
		p.emit(ctx, p.env.Hooks.OnActionResult, domain.EventActionResult, a, domain.OutcomeLeave, elapsed, nil)
		rt.Status = domain.StatusSuccess
		p.finishContext()
		return true, nil
	case controlLeaveContext:
		p.emit(ctx, p.env.Hooks.OnActionResult, domain.EventActionResult, a, domain.OutcomeLeave, elapsed, nil)
		p.finishContext()
		return false, nil
	}

	outcome := p.afterRun(a, call.State)
	p.emit(ctx, p.env.Hooks.OnActionResult, domain.EventActionResult, a, outcome, elapsed, nil)
	return false, nil
}

func (p *Player) newCall(a *script.Action) (*ActionCall, error) {
	def, ok := p.env.Catalog.Action(a.Type)
	if !ok {
		return nil, domain.InvalidScript("actions/%s: unknown action type %q", a.ID, a.Type)
	}
	call := &ActionCall{
		env:    p.env,
		Action: a,
		State:  p.env.Script.Runtime.State(a.ID),
		Params: def.Params.WithDefaults(a.Params),
		def:    def,
	}
	call.scope = func(ctx context.Context) ([]domain.Element, error) {
		return p.scopeOf(ctx, a)
	}
	return call, nil
}

// scopeOf recomputes the input scope of a from its ancestors.
func (p *Player) scopeOf(ctx context.Context, a *script.Action) ([]domain.Element, error) {
	parent, ok := p.env.Script.Parent(a)
	if !ok {
		return rootScope(), nil
	}
	pcall, err := p.newCall(parent)
	if err != nil {
		return nil, err
	}
	if pcall.def.ResolveChildrenScope == nil {
		return pcall.Scope(ctx)
	}
	return pcall.def.ResolveChildrenScope(ctx, pcall)
}

func rootScope() []domain.Element {
	return []domain.Element{domain.ValueElement(nil)}
}

// afterRun moves the playhead after a successful exec.
func (p *Player) afterRun(a *script.Action, st *domain.ActionState) domain.Outcome {
	switch {
	case st.Bypassed:
		p.skip(a)
		return domain.OutcomeSkip
	case a.HasChildren():
		p.moveTo(a.Children[0], true)
		return domain.OutcomeEnter
	default:
		p.leave(a)
		return domain.OutcomeLeave
	}
}

// skip moves past a without re-targeting it, even when it loops.
func (p *Player) skip(a *script.Action) {
	p.next(a)
}

// leave re-targets looping actions; others move on.
func (p *Player) leave(a *script.Action) {
	if def, ok := p.env.Catalog.Action(a.Type); ok && def.Loop {
		p.moveTo(a.ID, false)
		return
	}
	p.next(a)
}

// next moves to the following sibling, bubbling to the parent's leave when a is last.
func (p *Player) next(a *script.Action) {
	if sib, ok := p.env.Script.NextSibling(a); ok {
		p.moveTo(sib.ID, true)
		return
	}
	if parent, ok := p.env.Script.Parent(a); ok {
		p.leave(parent)
		return
	}
	p.finishContext()
}

func (p *Player) emit(ctx context.Context, hook func(context.Context, *domain.ActionEvent), typ domain.EventType, a *script.Action, outcome domain.Outcome, d time.Duration, err error) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.ActionEvent{
		EventBase:  domain.EventBase{Timestamp: p.env.Clock.Now(), Type: typ},
		ActionID:   a.ID,
		ActionType: a.Type,
		Outcome:    outcome,
		Duration:   d,
		Err:        err,
	})
}
