package memory

import (
	"context"
	"sync"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/lifecycle"
)

// Output is a value emitted by a script.
type Output struct {
	Key  string
	Data any
}

// Flow implements ports.Flow in memory. Inputs are supplied up front or
// through an InputProvider; outputs are recorded in order.
// Safe for concurrent use.
type Flow struct {
	mu       sync.Mutex
	inputs   map[string]any
	outputs  []Output
	metadata map[string]any
	provider func(ctx context.Context, key string) (any, error)
	resume   chan struct{}
	cancel   error
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithInputs pre-supplies inputs.
func WithInputs(inputs map[string]any) FlowOption {
	return func(f *Flow) {
		for k, v := range inputs {
			f.inputs[k] = v
		}
	}
}

// WithInputProvider is consulted when a requested input is missing.
func WithInputProvider(fn func(ctx context.Context, key string) (any, error)) FlowOption {
	return func(f *Flow) { f.provider = fn }
}

// WithMetadata sets the job metadata.
func WithMetadata(md map[string]any) FlowOption {
	return func(f *Flow) { f.metadata = md }
}

// NewFlow creates an in-memory flow.
func NewFlow(opts ...FlowOption) *Flow {
	f := &Flow{
		inputs:   make(map[string]any),
		metadata: map[string]any{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetInput supplies or replaces an input.
func (f *Flow) SetInput(key string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[key] = v
}

func (f *Flow) RequestInput(ctx context.Context, key string) (any, error) {
	f.mu.Lock()
	v, ok := f.inputs[key]
	provider := f.provider
	f.mu.Unlock()
	if ok {
		return v, nil
	}
	if provider == nil {
		return nil, domain.Fatal(domain.CodeInputRequired, "input %q was not supplied", key)
	}
	v, err := provider(ctx, key)
	if err != nil {
		return nil, err
	}
	f.SetInput(key, v)
	return v, nil
}

func (f *Flow) PeekInput(ctx context.Context, key string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[key], nil
}

func (f *Flow) ResetInput(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inputs, key)
	return nil
}

func (f *Flow) SendOutput(ctx context.Context, key string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, Output{Key: key, Data: data})
	return nil
}

// Outputs returns the outputs emitted so far, in order.
func (f *Flow) Outputs() []Output {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Output(nil), f.outputs...)
}

// Output returns the last value emitted under key.
func (f *Flow) Output(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.outputs) - 1; i >= 0; i-- {
		if f.outputs[i].Key == key {
			return f.outputs[i].Data, true
		}
	}
	return nil, false
}

// Pause makes Tick block until Resume or Cancel.
func (f *Flow) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resume == nil {
		f.resume = make(chan struct{})
	}
}

// Resume releases a paused Tick.
func (f *Flow) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resume != nil {
		close(f.resume)
		f.resume = nil
	}
}

// Cancel makes every subsequent Tick fail.
func (f *Flow) Cancel(reason string) {
	f.mu.Lock()
	f.cancel = domain.Fatal(domain.CodeInterrupted, "job cancelled: %s", reason)
	f.mu.Unlock()
	f.Resume()
}

func (f *Flow) Tick(ctx context.Context) error {
	f.mu.Lock()
	cancelled, resume := f.cancel, f.resume
	f.mu.Unlock()
	if cancelled != nil {
		return cancelled
	}
	if resume != nil {
		select {
		case <-resume:
		case <-ctx.Done():
			return domain.Wrap(ctx.Err(), domain.CodeInterrupted, false, "paused job cancelled")
		}
		f.mu.Lock()
		cancelled = f.cancel
		f.mu.Unlock()
		if cancelled != nil {
			return cancelled
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.Wrap(err, domain.CodeInterrupted, false, "context done")
	}
	return nil
}

func (f *Flow) Metadata() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.metadata))
	for k, v := range f.metadata {
		out[k] = v
	}
	return out
}

// OnSessionStart clears outputs so a Flow can be reused across runs.
func (f *Flow) OnSessionStart(ctx context.Context, s *lifecycle.Session) error {
	if s.Flow != f {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = nil
	return nil
}

var _ lifecycle.SessionStarter = (*Flow)(nil)
