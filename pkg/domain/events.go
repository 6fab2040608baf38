package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventActionExec   EventType = "action_exec"
	EventActionResult EventType = "action_result"
	EventContextEnter EventType = "context_enter"
	EventRetry        EventType = "retry"
)

// Outcome is the playback decision taken after an Action ran.
type Outcome string

const (
	OutcomeEnter Outcome = "enter"
	OutcomeSkip  Outcome = "skip"
	OutcomeLeave Outcome = "leave"
	OutcomeError Outcome = "error"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// ActionEvent describes one playback turn.
type ActionEvent struct {
	EventBase
	ActionID   string        `json:"action_id"`
	ActionType string        `json:"action_type"`
	Outcome    Outcome       `json:"outcome,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Err        error         `json:"-"`
}

// ContextEvent describes a committed Context match.
type ContextEvent struct {
	EventBase
	ContextID string `json:"context_id"`
	Run       int    `json:"run"`
}

// RetryEvent describes a failed attempt inside the retry engine.
type RetryEvent struct {
	EventBase
	Attempt  int           `json:"attempt"`
	Elapsed  time.Duration `json:"elapsed"`
	Err      error         `json:"-"`
	GaveUp   bool          `json:"gave_up"`
	FailFast bool          `json:"fail_fast"`
}

// LifecycleHooks defines callbacks for playback observability.
// Every field is optional.
type LifecycleHooks struct {
	OnActionExec   func(context.Context, *ActionEvent)
	OnActionResult func(context.Context, *ActionEvent)
	OnContextEnter func(context.Context, *ContextEvent)
	OnRetry        func(context.Context, *RetryEvent)
}

// Merge combines two hook sets; both callbacks run, a first.
func (h LifecycleHooks) Merge(o LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnActionExec:   chain(h.OnActionExec, o.OnActionExec),
		OnActionResult: chain(h.OnActionResult, o.OnActionResult),
		OnContextEnter: chain(h.OnContextEnter, o.OnContextEnter),
		OnRetry:        chain(h.OnRetry, o.OnRetry),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
