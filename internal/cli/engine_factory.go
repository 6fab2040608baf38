package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/internal/config"
	"github.com/aretw0/marionette/pkg/adapters/file"
	pwadapter "github.com/aretw0/marionette/pkg/adapters/playwright"
	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/adapters/redis"
	rodadapter "github.com/aretw0/marionette/pkg/adapters/rod"
	"github.com/aretw0/marionette/pkg/adapters/sqlite"
	"github.com/aretw0/marionette/pkg/adapters/static"
	"github.com/aretw0/marionette/pkg/extensions"
	"github.com/aretw0/marionette/pkg/metrics"
	"github.com/aretw0/marionette/pkg/persistence/middleware"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/script"
	"github.com/aretw0/marionette/pkg/session"
)

// Factory builds engines and their collaborators from a Config. Stores, pages
// and the metrics registry are created once and shared; Close releases them.
type Factory struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *marionette.Catalog

	resolver *extensions.Resolver
	store    ports.CheckpointStore
	sqlite   *sqlite.Store
	sessions *session.Manager
	registry *prometheus.Registry
	metrics  *metrics.Collector

	closers []func() error
}

// NewFactory creates a factory. A nil logger uses cfg.Logger().
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = cfg.Logger()
	}
	return &Factory{cfg: cfg, logger: logger, catalog: marionette.NewCatalog()}
}

func (f *Factory) Config() *config.Config       { return f.cfg }
func (f *Factory) Logger() *slog.Logger         { return f.logger }
func (f *Factory) Catalog() *marionette.Catalog { return f.catalog }

// Resolver returns the installed extensions declared in the config.
func (f *Factory) Resolver() (*extensions.Resolver, error) {
	if f.resolver != nil {
		return f.resolver, nil
	}
	names := make([]string, 0, len(f.cfg.Extensions))
	for name := range f.cfg.Extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	exts := make([]extensions.Extension, 0, len(names))
	for _, name := range names {
		exts = append(exts, extensions.Extension{Name: name, Version: f.cfg.Extensions[name]})
	}
	r, err := extensions.NewResolver(exts...)
	if err != nil {
		return nil, fmt.Errorf("extensions: %w", err)
	}
	f.resolver = r
	return r, nil
}

// Store returns the configured checkpoint store wrapped by the PII and
// encryption middleware, or nil for the "none" store.
func (f *Factory) Store() (ports.CheckpointStore, error) {
	if f.store != nil || f.cfg.Checkpoint.Store == config.StoreNone {
		return f.store, nil
	}
	cc := f.cfg.Checkpoint

	var base ports.CheckpointStore
	var locker ports.Locker
	switch cc.Store {
	case config.StoreMemory:
		base = memory.NewStore()
	case config.StoreFile:
		base = file.New(cc.Dir)
	case config.StoreRedis:
		var opts []redis.Option
		if cc.TTL > 0 {
			opts = append(opts, redis.WithTTL(cc.TTL))
		}
		rs, err := redis.NewFromURL(cc.RedisURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		f.closers = append(f.closers, rs.Close)
		base = rs
		locker = redis.NewLocker(rs.Client(), "")
	case config.StoreSQLite:
		ss, err := sqlite.Open(cc.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		f.closers = append(f.closers, ss.Close)
		f.sqlite = ss
		base = ss
	default:
		return nil, fmt.Errorf("unknown checkpoint store %q", cc.Store)
	}

	mws, err := f.middlewares()
	if err != nil {
		return nil, err
	}
	f.store = middleware.Chain(base, mws...)

	sessionOpts := []session.Option{session.WithLogger(f.logger)}
	if cc.LockTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithLockTTL(cc.LockTTL))
	}
	if locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(locker))
	}
	f.sessions = session.NewManager(f.store, sessionOpts...)
	return f.store, nil
}

// Sessions returns the manager shared by every engine of the factory.
func (f *Factory) Sessions() (*session.Manager, error) {
	if _, err := f.Store(); err != nil {
		return nil, err
	}
	return f.sessions, nil
}

// Summaries lists stored checkpoints with their labels when the store keeps them.
func (f *Factory) Summaries(ctx context.Context, limit int) ([]sqlite.Summary, error) {
	store, err := f.Store()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, marionette.ErrNoStore
	}
	// Encrypted rows still carry id and label in clear.
	if f.sqlite != nil {
		return f.sqlite.Summaries(ctx, limit)
	}
	ids, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]sqlite.Summary, 0, len(ids))
	for _, id := range ids {
		cp, err := store.Load(ctx, id)
		if err != nil {
			f.logger.Warn("unreadable checkpoint", "id", id, "err", err)
			out = append(out, sqlite.Summary{ID: id})
			continue
		}
		out = append(out, sqlite.Summary{ID: cp.ID, Label: cp.Label, URL: cp.URL, CreatedAt: cp.CreatedAt})
	}
	return out, nil
}

func (f *Factory) middlewares() ([]middleware.Middleware, error) {
	cc := f.cfg.Checkpoint
	var mws []middleware.Middleware
	if len(cc.PII) > 0 {
		pii, err := middleware.NewPIIMiddleware(cc.PII)
		if err != nil {
			return nil, fmt.Errorf("checkpoint.pii: %w", err)
		}
		mws = append(mws, pii)
	}
	if cc.EncryptionKey != "" {
		active, err := middleware.DecodeKey(cc.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("checkpoint.encryption_key: %w", err)
		}
		ec := middleware.EncryptionConfig{ActiveKey: active}
		for i, k := range cc.FallbackKeys {
			key, err := middleware.DecodeKey(k)
			if err != nil {
				return nil, fmt.Errorf("checkpoint.fallback_keys[%d]: %w", i, err)
			}
			ec.FallbackKeys = append(ec.FallbackKeys, key)
		}
		enc, err := middleware.NewEncryptionMiddleware(ec)
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}
	return mws, nil
}

// Metrics returns the collector and its registry, or nils when metrics are disabled.
func (f *Factory) Metrics() (*metrics.Collector, *prometheus.Registry, error) {
	if !f.cfg.Metrics.Enabled {
		return nil, nil, nil
	}
	if f.metrics != nil {
		return f.metrics, f.registry, nil
	}
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	f.registry, f.metrics = reg, c
	return c, reg, nil
}

// Page opens the configured browser driver. The page is closed with the factory.
func (f *Factory) Page(ctx context.Context) (ports.Page, error) {
	bc := f.cfg.Browser
	switch bc.Driver {
	case config.DriverStatic:
		return static.New("")
	case config.DriverRod:
		p, err := rodadapter.Launch(ctx, rodadapter.Config{
			ControlURL: bc.ControlURL,
			Bin:        bc.Bin,
			Headless:   bc.Headless,
			Timeout:    bc.Timeout,
		}, rodadapter.WithLogger(f.logger))
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, p.Close)
		return p, nil
	case config.DriverPlaywright:
		p, err := pwadapter.Launch(pwadapter.Config{
			Headless: bc.Headless,
			Timeout:  bc.Timeout,
		}, pwadapter.WithLogger(f.logger))
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, p.Close)
		return p, nil
	}
	return nil, fmt.Errorf("unknown browser driver %q", bc.Driver)
}

// LoadScript decodes a script file with the factory catalog.
func (f *Factory) LoadScript(path string) (*script.Script, error) {
	if path == "-" {
		data, err := readAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return marionette.Decode(data, f.catalog)
	}
	return marionette.LoadFile(path, f.catalog)
}

// Engine assembles an engine for s playing on page with flow.
func (f *Factory) Engine(s *script.Script, page ports.Page, flow ports.Flow, checkpointID string) (*marionette.Engine, error) {
	resolver, err := f.Resolver()
	if err != nil {
		return nil, err
	}
	opts := []marionette.Option{
		marionette.WithCatalog(f.catalog),
		marionette.WithPage(page),
		marionette.WithFlow(flow),
		marionette.WithResolver(resolver),
		marionette.WithLogger(f.logger),
		marionette.WithRetryConfig(f.cfg.Retry),
		marionette.WithMatchConfig(f.cfg.Match),
		marionette.WithMapConcurrency(f.cfg.MapConcurrency),
	}
	sessions, err := f.Sessions()
	if err != nil {
		return nil, err
	}
	if sessions != nil {
		opts = append(opts, marionette.WithSessionManager(sessions))
	}
	if checkpointID != "" {
		opts = append(opts, marionette.WithCheckpointID(checkpointID))
	}
	collector, _, err := f.Metrics()
	if err != nil {
		return nil, err
	}
	if collector != nil {
		opts = append(opts, marionette.WithMetrics(collector))
	}
	return marionette.New(s, opts...)
}

// Close releases pages and store connections in reverse order.
func (f *Factory) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i]())
	}
	f.closers = nil
	return errors.Join(errs...)
}
