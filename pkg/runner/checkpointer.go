package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/lifecycle"
	"github.com/aretw0/marionette/pkg/retry"
)

// Checkpoint labels written by the runner.
const (
	LabelAuto        = "auto"
	LabelInterrupted = "interrupted"
)

// checkpointer saves a checkpoint between turns once a context was entered or
// globals changed, at most once per interval.
type checkpointer struct {
	engine *marionette.Engine
	clock  retry.Clock
	every  time.Duration
	logger *slog.Logger

	dirty  bool
	last   map[string]any
	lastAt time.Time
	saved  []string
}

func (c *checkpointer) OnSessionStart(ctx context.Context, s *lifecycle.Session) error {
	c.dirty = false
	c.last = domain.CloneMap(s.Script.Runtime.Globals)
	c.lastAt = c.clock.Now()
	return nil
}

func (c *checkpointer) OnContextEnter(ctx context.Context, s *lifecycle.Session, contextID string) error {
	c.dirty = true
	return nil
}

// flush saves when state changed and the interval elapsed. force skips both gates.
func (c *checkpointer) flush(ctx context.Context, label string, force bool) (*domain.Checkpoint, error) {
	globals := c.engine.Script().Runtime.Globals
	if !force {
		changed := c.dirty || domain.DiffGlobals(c.last, globals) != nil
		if !changed || c.clock.Now().Sub(c.lastAt) < c.every {
			return nil, nil
		}
	}
	cp, err := c.engine.SendCheckpoint(ctx, label)
	if err != nil {
		return nil, err
	}
	c.dirty = false
	c.last = domain.CloneMap(globals)
	c.lastAt = c.clock.Now()
	c.remember(cp.ID)
	c.logger.Debug("checkpoint saved", "id", cp.ID, "label", label)
	return cp, nil
}

func (c *checkpointer) remember(id string) {
	for _, s := range c.saved {
		if s == id {
			return
		}
	}
	c.saved = append(c.saved, id)
}

var (
	_ lifecycle.SessionStarter = (*checkpointer)(nil)
	_ lifecycle.ContextEnterer = (*checkpointer)(nil)
)
