package runner

import (
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/marionette/pkg/retry"
)

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithClock replaces the wall clock used by the checkpoint interval.
func WithClock(c retry.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithAutoCheckpoint toggles checkpoints between turns. Enabled by default
// whenever the engine has a checkpoint store.
func WithAutoCheckpoint(enabled bool) Option {
	return func(r *Runner) {
		r.autoCheckpoint = enabled
	}
}

// WithCheckpointInterval sets the minimum time between automatic checkpoints.
// Zero saves after every turn that changed state.
func WithCheckpointInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.interval = d
	}
}

// WithResume resumes from checkpoint id when it exists in the store.
func WithResume(id string) Option {
	return func(r *Runner) {
		r.resumeID = id
	}
}

// WithKeepOnSuccess keeps checkpoints after a successful run instead of deleting them.
func WithKeepOnSuccess(keep bool) Option {
	return func(r *Runner) {
		r.keepOnSuccess = keep
	}
}

// WithSignals replaces the OS signals that interrupt the run.
func WithSignals(sigs ...os.Signal) Option {
	return func(r *Runner) {
		r.signals = sigs
	}
}

// WithInterruptSource sets a channel that interrupts the run like a signal.
func WithInterruptSource(ch <-chan struct{}) Option {
	return func(r *Runner) {
		r.interrupt = ch
	}
}
