package script

import (
	"github.com/aretw0/marionette/pkg/domain"
)

// Runtime is the mutable execution state of a Script. It is never encoded with
// the script itself; checkpoints capture it instead.
type Runtime struct {
	Status      domain.Status
	Playhead    *domain.Cursor
	ContextID   string
	ContextRuns map[string]int
	Globals     map[string]any
	Actions     map[string]*domain.ActionState
}

// NewRuntime creates an idle runtime.
func NewRuntime() *Runtime {
	r := &Runtime{}
	r.Reset()
	return r
}

// Reset clears playhead, counters and globals.
func (r *Runtime) Reset() {
	r.Status = domain.StatusIdle
	r.Playhead = nil
	r.ContextID = ""
	r.ContextRuns = make(map[string]int)
	r.Globals = make(map[string]any)
	r.Actions = make(map[string]*domain.ActionState)
}

// State returns the runtime fields of an action, creating them on first use.
func (r *Runtime) State(actionID string) *domain.ActionState {
	st, ok := r.Actions[actionID]
	if !ok {
		st = &domain.ActionState{}
		r.Actions[actionID] = st
	}
	return st
}

// ResetAction zeroes the counters of an action, e.g. before a loop is re-entered.
func (r *Runtime) ResetAction(actionID string) {
	delete(r.Actions, actionID)
}

// Capture copies the runtime into a checkpoint.
func (r *Runtime) Capture(cp *domain.Checkpoint) {
	cp.Status = r.Status
	cp.ContextID = r.ContextID
	cp.Globals = domain.CloneMap(r.Globals)
	if r.Playhead != nil {
		p := *r.Playhead
		cp.Playhead = &p
	} else {
		cp.Playhead = nil
	}
	cp.ContextRuns = make(map[string]int, len(r.ContextRuns))
	for k, v := range r.ContextRuns {
		cp.ContextRuns[k] = v
	}
	cp.Actions = make(map[string]domain.ActionState, len(r.Actions))
	for k, v := range r.Actions {
		if v != nil && *v != (domain.ActionState{}) {
			cp.Actions[k] = *v
		}
	}
}

// Restore loads the runtime from a checkpoint.
func (r *Runtime) Restore(cp *domain.Checkpoint) {
	r.Reset()
	r.ContextID = cp.ContextID
	if cp.Status != "" {
		r.Status = cp.Status
	}
	if cp.Playhead != nil {
		p := *cp.Playhead
		r.Playhead = &p
	}
	for k, v := range cp.ContextRuns {
		r.ContextRuns[k] = v
	}
	if g := domain.CloneMap(cp.Globals); g != nil {
		r.Globals = g
	}
	for k, v := range cp.Actions {
		st := v
		r.Actions[k] = &st
	}
}
