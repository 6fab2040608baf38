// Package network tracks in-flight requests and load state of a live page.
//
// Browser adapters feed a Tracker from their event goroutines; the engine reads
// it through ports.NetworkMonitor to decide when a page has gone quiet.
package network

import (
	"sync"
	"time"
)

// Tracker records request activity. It is safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	inflight     map[string]struct{}
	lastActivity time.Time
	loaded       bool
	now          func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker with no activity recorded.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastActivity = t.now()
	return t
}

// RequestStarted records a new in-flight request.
func (t *Tracker) RequestStarted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastActivity = t.now()
}

// RequestFinished records the completion (or failure) of a request.
// Unknown ids still count as activity.
func (t *Tracker) RequestFinished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.lastActivity = t.now()
}

// Navigated forgets in-flight requests of the previous document and marks the page unloaded.
func (t *Tracker) Navigated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[string]struct{})
	t.loaded = false
	t.lastActivity = t.now()
}

// SetLoaded records the main frame load state.
func (t *Tracker) SetLoaded(loaded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = loaded
}

// Loaded reports whether the main frame finished loading.
func (t *Tracker) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// InFlight returns the number of pending requests.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// IsSilent reports whether no request is in flight.
func (t *Tracker) IsSilent() bool {
	return t.InFlight() == 0
}

// IsSilentFor reports whether no request has been in flight for at least d.
func (t *Tracker) IsSilentFor(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && t.now().Sub(t.lastActivity) >= d
}
