// Package retry repeats page operations that fail with retriable errors.
//
// Retrying stops when the hard timeout is reached or, earlier, when the page
// has been network-silent for the configured margin and the minimum timeout
// has elapsed: once the page has gone quiet more attempts rarely help.
package retry

import (
	"context"
	"time"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
)

// Defaults applied by Do when no option overrides them.
const (
	DefaultInterval      = 100 * time.Millisecond
	DefaultTimeoutMin    = 3 * time.Second
	DefaultTimeoutMax    = 30 * time.Second
	DefaultSilenceMargin = time.Second
)

// Config holds the tunables of the retry engine.
type Config struct {
	Interval      time.Duration `mapstructure:"interval"`
	TimeoutMin    time.Duration `mapstructure:"timeout_min"`
	TimeoutMax    time.Duration `mapstructure:"timeout_max"`
	SilenceMargin time.Duration `mapstructure:"silence_margin"`
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		TimeoutMin:    DefaultTimeoutMin,
		TimeoutMax:    DefaultTimeoutMax,
		SilenceMargin: DefaultSilenceMargin,
	}
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type options struct {
	cfg      Config
	network  ports.NetworkMonitor
	tick     func(context.Context) error
	observer func(context.Context, *domain.RetryEvent)
	clock    Clock
}

// Option configures a single Do call.
type Option func(*options)

// WithConfig replaces the tunables. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.Interval > 0 {
			o.cfg.Interval = cfg.Interval
		}
		if cfg.TimeoutMin > 0 {
			o.cfg.TimeoutMin = cfg.TimeoutMin
		}
		if cfg.TimeoutMax > 0 {
			o.cfg.TimeoutMax = cfg.TimeoutMax
		}
		if cfg.SilenceMargin > 0 {
			o.cfg.SilenceMargin = cfg.SilenceMargin
		}
	}
}

// WithTimeout sets both the minimum and maximum timeout to d, which disables fail-fast.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.TimeoutMin = d
		o.cfg.TimeoutMax = d
	}
}

// WithInterval sets the sleep between attempts.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.Interval = d }
}

// WithNetwork enables network-silence fail-fast.
func WithNetwork(n ports.NetworkMonitor) Option {
	return func(o *options) { o.network = n }
}

// WithTick installs the cooperative pause/cancel hook, called every iteration.
func WithTick(fn func(context.Context) error) Option {
	return func(o *options) { o.tick = fn }
}

// WithObserver is notified after every failed retriable attempt.
func WithObserver(fn func(context.Context, *domain.RetryEvent)) Option {
	return func(o *options) { o.observer = fn }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// Do runs fn until it succeeds, fails with a non-retriable error or the retry
// budget is exhausted, in which case the last error is returned.
// Tick failures and context cancellation surface as non-retriable Interrupted errors.
func Do[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := &options{cfg: DefaultConfig(), clock: realClock{}}
	for _, opt := range opts {
		opt(o)
	}

	var zero T
	start := o.clock.Now()
	for attempt := 1; ; attempt++ {
		if err := interrupted(ctx, o.tick); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !domain.IsRetriable(err) {
			return zero, err
		}

		elapsed := o.clock.Now().Sub(start)
		failFast := o.network != nil &&
			elapsed >= o.cfg.TimeoutMin &&
			o.network.IsSilentFor(o.cfg.SilenceMargin)
		gaveUp := failFast || elapsed >= o.cfg.TimeoutMax

		if o.observer != nil {
			o.observer(ctx, &domain.RetryEvent{
				EventBase: domain.EventBase{Timestamp: o.clock.Now(), Type: domain.EventRetry},
				Attempt:   attempt,
				Elapsed:   elapsed,
				Err:       err,
				GaveUp:    gaveUp,
				FailFast:  failFast,
			})
		}
		if gaveUp {
			return zero, err
		}

		if serr := o.clock.Sleep(ctx, o.cfg.Interval); serr != nil {
			return zero, domain.Wrap(serr, domain.CodeInterrupted, false, "retry sleep interrupted")
		}
	}
}

func interrupted(ctx context.Context, tick func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(err, domain.CodeInterrupted, false, "context done")
	}
	if tick == nil {
		return nil
	}
	if err := tick(ctx); err != nil {
		if domain.CodeOf(err) == domain.CodeInterrupted && !domain.IsRetriable(err) {
			return err
		}
		return domain.Wrap(err, domain.CodeInterrupted, false, "tick")
	}
	return nil
}
