package marionette

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aretw0/marionette/internal/builtin/actions"
	"github.com/aretw0/marionette/internal/builtin/pipes"
	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/inspect"
	"github.com/aretw0/marionette/pkg/lifecycle"
	"github.com/aretw0/marionette/pkg/metrics"
	"github.com/aretw0/marionette/pkg/persistence/middleware"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/retry"
	"github.com/aretw0/marionette/pkg/script"
	"github.com/aretw0/marionette/pkg/session"
)

// ErrNoStore is returned by SendCheckpoint and ResumeFrom when no checkpoint store is configured.
var ErrNoStore = errors.New("no checkpoint store configured")

// Catalog is the registry of Action and Pipe types an Engine can play.
type Catalog = runtime.Catalog

// TypeInfo describes a registered Action or Pipe type.
type TypeInfo = runtime.TypeInfo

// MatchConfig tunes the context-match timer.
type MatchConfig = runtime.MatchConfig

// NewCatalog returns a catalog with every built-in Action and Pipe registered.
func NewCatalog() *Catalog {
	c := runtime.NewCatalog()
	pipes.Register(c)
	actions.Register(c)
	return c
}

// Decode parses a script in JSON or YAML form.
func Decode(data []byte, catalog *Catalog) (*script.Script, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return script.Decode(data, catalog)
	}
	return script.DecodeYAML(data, catalog)
}

// LoadFile reads and decodes a script file. The extension selects the format;
// unknown extensions are sniffed. A script without id is named after the file.
func LoadFile(path string, catalog *Catalog) (*script.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s *script.Script
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		s, err = script.Decode(data, catalog)
	case ".yaml", ".yml":
		s, err = script.DecodeYAML(data, catalog)
	default:
		s, err = Decode(data, catalog)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.ID == "" {
		s.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Engine plays one Script against one Page and manages its checkpoints.
// It is not safe for concurrent use.
type Engine struct {
	script       *script.Script
	catalog      *Catalog
	page         ports.Page
	flow         ports.Flow
	sessions     *session.Manager
	resolver     ports.ExtensionResolver
	metrics      *metrics.Collector
	lifecycle    *lifecycle.Registry
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	clock        retry.Clock
	checkpointID string
	runtimeOpts  []runtime.Option

	store       ports.CheckpointStore
	middlewares []middleware.Middleware

	player *runtime.Player
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithCatalog sets the type catalog. Defaults to NewCatalog().
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithPage attaches the page the script drives.
func WithPage(p ports.Page) Option {
	return func(e *Engine) { e.page = p }
}

// WithFlow attaches the job I/O.
func WithFlow(f ports.Flow) Option {
	return func(e *Engine) { e.flow = f }
}

// WithCheckpointStore persists checkpoints in store, wrapped by mws (first is outermost).
func WithCheckpointStore(store ports.CheckpointStore, mws ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.store = store
		e.middlewares = mws
	}
}

// WithSessionManager shares a checkpoint manager between engines. It takes
// precedence over WithCheckpointStore.
func WithSessionManager(m *session.Manager) Option {
	return func(e *Engine) { e.sessions = m }
}

// WithCheckpointID makes every checkpoint of the engine reuse id, so that the
// latest one replaces the previous. By default each checkpoint gets a new id.
func WithCheckpointID(id string) Option {
	return func(e *Engine) { e.checkpointID = id }
}

// WithResolver checks script dependencies before playback.
func WithResolver(r ports.ExtensionResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithMetrics feeds the collector with playback and session events.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithLifecycle sets the participant registry. Defaults to a registry private to the engine.
func WithLifecycle(reg *lifecycle.Registry) Option {
	return func(e *Engine) { e.lifecycle = reg }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = e.hooks.Merge(hooks) }
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c retry.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRetryConfig overrides the retry tunables.
func WithRetryConfig(cfg retry.Config) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithRetryConfig(cfg)) }
}

// WithMatchConfig overrides the context-match timer tunables.
func WithMatchConfig(cfg MatchConfig) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithMatchConfig(cfg)) }
}

// WithMapConcurrency bounds concurrent per-element page calls.
func WithMapConcurrency(n int) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithMapConcurrency(n)) }
}

// New prepares an engine for s.
func New(s *script.Script, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("script is required")
	}
	e := &Engine{script: s}
	for _, opt := range opts {
		opt(e)
	}

	if e.catalog == nil {
		e.catalog = NewCatalog()
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if s.ID != "" {
		e.logger = e.logger.With("script", s.ID)
	}
	if e.clock == nil {
		e.clock = retry.SystemClock
	}
	if e.lifecycle == nil {
		e.lifecycle = lifecycle.NewRegistry()
	}
	if e.sessions == nil && e.store != nil {
		e.sessions = session.NewManager(
			middleware.Chain(e.store, e.middlewares...),
			session.WithLogger(e.logger),
		)
	}

	if err := e.registerParticipants(); err != nil {
		return nil, err
	}

	hooks := e.hooks
	if e.metrics != nil {
		hooks = hooks.Merge(e.metrics.Hooks())
	}
	runtimeOpts := []runtime.Option{
		runtime.WithLogger(e.logger),
		runtime.WithLifecycle(e.lifecycle),
		runtime.WithLifecycleHooks(hooks),
		runtime.WithClock(e.clock),
	}
	if e.sessions != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithCheckpointSink(e.SendCheckpoint))
	}
	runtimeOpts = append(runtimeOpts, e.runtimeOpts...)

	e.player = runtime.NewPlayer(s, e.catalog, e.page, e.flow, runtimeOpts...)
	return e, nil
}

func (e *Engine) registerParticipants() error {
	var candidates []any
	if e.metrics != nil {
		candidates = append(candidates, e.metrics)
	}
	if e.flow != nil {
		candidates = append(candidates, e.flow)
	}
	for _, p := range candidates {
		switch p.(type) {
		case lifecycle.SessionStarter, lifecycle.SessionFinisher, lifecycle.ScriptRunner, lifecycle.ContextEnterer:
		default:
			continue
		}
		if err := e.lifecycle.Register(p); err != nil {
			return fmt.Errorf("register %T: %w", p, err)
		}
	}
	return nil
}

// Script returns the script being played.
func (e *Engine) Script() *script.Script { return e.script }

// Catalog returns the type catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Page returns the attached page, or nil.
func (e *Engine) Page() ports.Page { return e.page }

// Flow returns the attached flow, or nil.
func (e *Engine) Flow() ports.Flow { return e.flow }

// Sessions returns the checkpoint manager, or nil when no store is configured.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// CheckpointID returns the fixed checkpoint id, empty when every checkpoint gets a new one.
func (e *Engine) CheckpointID() string { return e.checkpointID }

// Lifecycle returns the participant registry.
func (e *Engine) Lifecycle() *lifecycle.Registry { return e.lifecycle }

// Inspect analyses the script, including dependency resolution when a resolver is configured.
func (e *Engine) Inspect(ctx context.Context) (*inspect.Report, error) {
	r := inspect.Inspect(e.script, e.catalog)
	if err := r.CheckDependencies(ctx, e.resolver, e.script.Dependencies); err != nil {
		return r, err
	}
	return r, nil
}

// CheckDependencies fails with InvalidScript when a declared extension is missing
// or outside its version range.
func (e *Engine) CheckDependencies(ctx context.Context) error {
	if e.resolver == nil || len(e.script.Dependencies) == 0 {
		return nil
	}
	unmet, err := e.resolver.Unmet(ctx, e.script.Dependencies)
	if err != nil {
		return err
	}
	if len(unmet) == 0 {
		return nil
	}
	names := make([]string, len(unmet))
	for i, u := range unmet {
		names[i] = u.Name + " " + u.Version
	}
	return domain.InvalidScript("unmet dependencies: %s", strings.Join(names, ", ")).
		WithDetails(map[string]any{"unmet": unmet})
}

// Run plays the script from the start until it reaches a final status.
func (e *Engine) Run(ctx context.Context) (domain.Status, error) {
	if err := e.CheckDependencies(ctx); err != nil {
		return domain.StatusFailed, err
	}
	e.logger.Info("script started")
	status, err := e.player.Run(ctx)
	e.logFinish(status, err)
	return status, err
}

// Continue plays a restored script until it reaches a final status.
func (e *Engine) Continue(ctx context.Context) (domain.Status, error) {
	if err := e.CheckDependencies(ctx); err != nil {
		return domain.StatusFailed, err
	}
	e.logger.Info("script resumed", "playhead", e.playhead())
	status, err := e.player.Continue(ctx)
	e.logFinish(status, err)
	return status, err
}

func (e *Engine) logFinish(status domain.Status, err error) {
	if err != nil {
		e.logger.Error("script finished", "status", status, "err", err)
		return
	}
	e.logger.Info("script finished", "status", status)
}

func (e *Engine) playhead() string {
	if p := e.script.Runtime.Playhead; p != nil {
		return p.ActionID
	}
	return ""
}

// Start resets the runtime for step-wise playback.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.CheckDependencies(ctx); err != nil {
		return err
	}
	return e.player.Start(ctx)
}

// Resume prepares a restored runtime for step-wise playback.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.CheckDependencies(ctx); err != nil {
		return err
	}
	return e.player.Resume(ctx)
}

// Step performs one playback turn after Start or Resume. It reports done once
// the script reached a final status.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	return e.player.Step(ctx)
}

// Finish ends step-wise playback and returns the final status.
func (e *Engine) Finish(ctx context.Context, runErr error) (domain.Status, error) {
	if runErr != nil {
		e.script.Runtime.Status = domain.StatusFailed
	}
	return e.player.Finish(ctx, runErr)
}

// Evaluate runs p over the document root, outside of playback.
func (e *Engine) Evaluate(ctx context.Context, p *script.Pipeline) ([]domain.Element, error) {
	return e.player.Env().NewEvaluation().SelectAll(ctx, p, []domain.Element{domain.ValueElement(nil)})
}

// CreateCheckpoint captures the page location, cookies and runtime.
func (e *Engine) CreateCheckpoint(ctx context.Context, label string) (*domain.Checkpoint, error) {
	id := e.checkpointID
	if id == "" {
		id = uuid.NewString()
	}
	cp := &domain.Checkpoint{
		ID:        id,
		Label:     label,
		CreatedAt: e.clock.Now().UTC(),
	}
	if e.page != nil {
		url, err := e.page.URL(ctx)
		if err != nil {
			return nil, fmt.Errorf("checkpoint url: %w", err)
		}
		cookies, err := e.page.Cookies(ctx)
		if err != nil {
			return nil, fmt.Errorf("checkpoint cookies: %w", err)
		}
		cp.URL = url
		cp.Cookies = cookies
	}
	e.script.Runtime.Capture(cp)
	return cp, nil
}

// SendCheckpoint creates a checkpoint and persists it.
func (e *Engine) SendCheckpoint(ctx context.Context, label string) (*domain.Checkpoint, error) {
	if e.sessions == nil {
		return nil, ErrNoStore
	}
	cp, err := e.CreateCheckpoint(ctx, label)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}
	e.logger.Debug("checkpoint sent", "id", cp.ID, "label", label, "playhead", e.playhead())
	return cp, nil
}

// Restore sets the checkpoint cookies, navigates back to its URL and loads
// its runtime. Playback continues with Continue or Resume.
func (e *Engine) Restore(ctx context.Context, cp *domain.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is required")
	}
	for id := range cp.Actions {
		if _, ok := e.script.Action(id); !ok {
			return domain.InvalidScript("checkpoint %s references unknown action %q", cp.ID, id)
		}
	}
	if cp.Playhead != nil {
		if _, ok := e.script.Action(cp.Playhead.ActionID); !ok {
			return domain.InvalidScript("checkpoint %s playhead %q is not in the script", cp.ID, cp.Playhead.ActionID)
		}
	}
	if e.page != nil {
		if len(cp.Cookies) > 0 {
			if err := e.page.SetCookies(ctx, cp.Cookies); err != nil {
				return fmt.Errorf("restore cookies: %w", err)
			}
		}
		if cp.URL != "" {
			if err := e.page.Navigate(ctx, cp.URL); err != nil {
				return domain.Wrap(err, domain.CodeNavigationFailed, false, "restore %s", cp.URL)
			}
		}
	}
	e.script.Runtime.Restore(cp)
	e.logger.Info("checkpoint restored", "id", cp.ID, "label", cp.Label, "playhead", e.playhead())
	return nil
}

// ResumeFrom loads checkpoint id, restores it and plays until the end.
func (e *Engine) ResumeFrom(ctx context.Context, id string) (domain.Status, error) {
	if e.sessions == nil {
		return domain.StatusFailed, ErrNoStore
	}
	cp, err := e.sessions.Load(ctx, id)
	if err != nil {
		return domain.StatusFailed, err
	}
	if err := e.Restore(ctx, cp); err != nil {
		return domain.StatusFailed, err
	}
	return e.Continue(ctx)
}
