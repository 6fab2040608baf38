// Package lifecycle dispatches session events to registered participants.
//
// Participants implement any subset of the SessionStarter, SessionFinisher,
// ScriptRunner and ContextEnterer interfaces. Registration is only allowed
// until the first dispatch; afterwards the registry is read-only.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/script"
)

// ErrFrozen is returned by Register once events have been dispatched.
var ErrFrozen = errors.New("lifecycle registry is frozen")

// Session is the subject of every lifecycle event.
type Session struct {
	Script *script.Script
	Page   ports.Page
	Flow   ports.Flow
}

// SessionStarter is notified before the first playback turn of a session.
type SessionStarter interface {
	OnSessionStart(ctx context.Context, s *Session) error
}

// SessionFinisher is notified after a session ended; runErr is the run outcome.
type SessionFinisher interface {
	OnSessionFinish(ctx context.Context, s *Session, runErr error) error
}

// ScriptRunner is notified when playback of a script starts or resumes.
type ScriptRunner interface {
	OnScriptRun(ctx context.Context, s *Session) error
}

// ContextEnterer is notified when a Context match is committed.
type ContextEnterer interface {
	OnContextEnter(ctx context.Context, s *Session, contextID string) error
}

// Registry holds participants in registration order.
type Registry struct {
	mu           sync.RWMutex
	participants []any
	frozen       bool
}

// Default is the process-wide registry.
var Default = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a participant. It must implement at least one participant interface.
func (r *Registry) Register(p any) error {
	switch p.(type) {
	case SessionStarter, SessionFinisher, ScriptRunner, ContextEnterer:
	default:
		return fmt.Errorf("lifecycle: %T implements no participant interface", p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.participants = append(r.participants, p)
	return nil
}

// MustRegister is Register panicking on error, for package init blocks.
func (r *Registry) MustRegister(p any) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Frozen reports whether events were already dispatched.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Len returns the number of participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Registry) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	return r.participants
}

// SessionStart dispatches OnSessionStart in registration order.
func (r *Registry) SessionStart(ctx context.Context, s *Session) error {
	var errs []error
	for _, p := range r.snapshot() {
		if h, ok := p.(SessionStarter); ok {
			if err := h.OnSessionStart(ctx, s); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SessionFinish dispatches OnSessionFinish in registration order.
func (r *Registry) SessionFinish(ctx context.Context, s *Session, runErr error) error {
	var errs []error
	for _, p := range r.snapshot() {
		if h, ok := p.(SessionFinisher); ok {
			if err := h.OnSessionFinish(ctx, s, runErr); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ScriptRun dispatches OnScriptRun in registration order.
func (r *Registry) ScriptRun(ctx context.Context, s *Session) error {
	var errs []error
	for _, p := range r.snapshot() {
		if h, ok := p.(ScriptRunner); ok {
			if err := h.OnScriptRun(ctx, s); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ContextEnter dispatches OnContextEnter in registration order.
func (r *Registry) ContextEnter(ctx context.Context, s *Session, contextID string) error {
	var errs []error
	for _, p := range r.snapshot() {
		if h, ok := p.(ContextEnterer); ok {
			if err := h.OnContextEnter(ctx, s, contextID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
