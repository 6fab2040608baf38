package runner

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalManager derives a context from the parent that is cancelled on OS
// signals (SIGINT and SIGTERM by default) or when the interrupt source fires.
type SignalManager struct {
	parent context.Context
	notify context.Context
	ctx    context.Context
	cancel context.CancelFunc
	stop   context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	fired       bool
	stopped     bool
	interrupted bool
}

// NewSignalManager starts listening immediately. A nil source is ignored.
func NewSignalManager(parent context.Context, source <-chan struct{}, sigs ...os.Signal) *SignalManager {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sm := &SignalManager{parent: parent, done: make(chan struct{})}
	sm.notify, sm.stop = signal.NotifyContext(parent, sigs...)
	sm.ctx, sm.cancel = context.WithCancel(sm.notify)

	go func() {
		defer close(sm.done)
		select {
		case <-source:
			sm.mu.Lock()
			sm.fired = true
			sm.mu.Unlock()
			sm.cancel()
		case <-sm.ctx.Done():
		}
	}()
	return sm
}

// Context is cancelled once a signal arrives, the source fires, the parent
// is done or Stop is called.
func (sm *SignalManager) Context() context.Context {
	return sm.ctx
}

// Interrupted reports whether a signal or the interrupt source cancelled the
// context. Cancellation of the parent does not count.
func (sm *SignalManager) Interrupted() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.stopped {
		return sm.interrupted
	}
	return sm.check()
}

func (sm *SignalManager) check() bool {
	return sm.fired || (sm.notify.Err() != nil && sm.parent.Err() == nil)
}

// Stop releases the signal handlers and cancels the context. Interrupted
// keeps reporting the state observed at Stop.
func (sm *SignalManager) Stop() {
	sm.mu.Lock()
	if !sm.stopped {
		sm.interrupted = sm.check()
		sm.stopped = true
	}
	sm.mu.Unlock()
	sm.cancel()
	sm.stop()
	<-sm.done
}
