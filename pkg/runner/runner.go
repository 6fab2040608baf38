package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/retry"
)

// DefaultCheckpointInterval is the minimum time between two automatic checkpoints.
const DefaultCheckpointInterval = 5 * time.Second

// Runner drives an Engine turn by turn. Between turns it saves automatic
// checkpoints; on SIGINT/SIGTERM it saves an "interrupted" checkpoint so the
// job can be resumed by another process.
type Runner struct {
	engine *marionette.Engine
	logger *slog.Logger
	clock  retry.Clock

	autoCheckpoint bool
	interval       time.Duration
	resumeID       string
	keepOnSuccess  bool
	signals        []os.Signal
	interrupt      <-chan struct{}
}

// Result summarises a run.
type Result struct {
	Status domain.Status
	// Resumed is set when playback continued from a stored checkpoint.
	Resumed bool
	// Checkpoint is the id of the checkpoint left in the store, if any.
	Checkpoint string
}

// New creates a Runner for engine.
func New(engine *marionette.Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:         engine,
		logger:         logging.NewNop(),
		clock:          retry.SystemClock,
		autoCheckpoint: true,
		interval:       DefaultCheckpointInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run plays the script until it reaches a final status, the parent context is
// done or the process is interrupted.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	sessions := r.engine.Sessions()
	var cpr *checkpointer
	if sessions != nil {
		cpr = &checkpointer{engine: r.engine, clock: r.clock, every: r.interval, logger: r.logger}
		if r.autoCheckpoint {
			if err := r.engine.Lifecycle().Register(cpr); err != nil {
				return nil, fmt.Errorf("register checkpointer: %w", err)
			}
		}
	}

	signals := NewSignalManager(ctx, r.interrupt, r.signals...)
	defer signals.Stop()
	runCtx := signals.Context()

	resumed, err := r.begin(runCtx)
	if err != nil {
		return &Result{Status: domain.StatusFailed}, err
	}
	res := &Result{Resumed: resumed}

	var runErr error
	for {
		done, err := r.engine.Step(runCtx)
		if err != nil {
			runErr = err
			break
		}
		if done {
			break
		}
		if cpr != nil && r.autoCheckpoint {
			if _, err := cpr.flush(runCtx, LabelAuto, false); err != nil {
				r.logger.Warn("automatic checkpoint failed", "err", err)
			}
		}
	}

	// Save before Finish, which clears the runtime.
	bg := context.WithoutCancel(ctx)
	if runErr != nil && cpr != nil && signals.Interrupted() {
		cp, err := cpr.flush(bg, LabelInterrupted, true)
		if err != nil {
			r.logger.Error("interrupted checkpoint failed", "err", err)
		} else {
			r.logger.Info("interrupted, checkpoint saved", "id", cp.ID)
		}
	}

	status, ferr := r.engine.Finish(bg, runErr)
	res.Status = status

	if cpr != nil {
		if status == domain.StatusSuccess && !r.keepOnSuccess {
			r.cleanup(bg, cpr.saved)
		} else if n := len(cpr.saved); n > 0 {
			res.Checkpoint = cpr.saved[n-1]
		}
	}
	if res.Checkpoint == "" && status != domain.StatusSuccess && sessions != nil {
		res.Checkpoint = r.stored(bg)
	}
	return res, errors.Join(runErr, ferr)
}

// begin restores the resume checkpoint when one exists, otherwise starts afresh.
func (r *Runner) begin(ctx context.Context) (bool, error) {
	if r.resumeID == "" {
		return false, r.engine.Start(ctx)
	}
	sessions := r.engine.Sessions()
	if sessions == nil {
		return false, marionette.ErrNoStore
	}
	cp, err := sessions.Load(ctx, r.resumeID)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		r.logger.Info("no checkpoint to resume, starting", "id", r.resumeID)
		return false, r.engine.Start(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("load checkpoint %s: %w", r.resumeID, err)
	}
	if err := r.engine.Restore(ctx, cp); err != nil {
		return false, err
	}
	return true, r.engine.Resume(ctx)
}

// stored returns the resume or fixed checkpoint id when it is present in the store.
func (r *Runner) stored(ctx context.Context) string {
	for _, id := range []string{r.engine.CheckpointID(), r.resumeID} {
		if id == "" {
			continue
		}
		if _, err := r.engine.Sessions().Load(ctx, id); err == nil {
			return id
		}
	}
	return ""
}

func (r *Runner) cleanup(ctx context.Context, ids []string) {
	ids = append(ids, r.resumeID, r.engine.CheckpointID())
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := r.engine.Sessions().Delete(ctx, id); err != nil {
			r.logger.Warn("failed to delete checkpoint", "id", id, "err", err)
		}
	}
}
