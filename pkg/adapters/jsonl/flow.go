// Package jsonl implements ports.Flow over newline-delimited JSON.
//
// The engine writes one message per line:
//
//	{"type":"output","key":"price","data":12.5}
//	{"type":"input_request","key":"otp"}
//
// and the host answers with:
//
//	{"type":"input","key":"otp","value":"123456"}
//	{"type":"metadata","data":{"job":"42"}}
//	{"type":"pause"}
//	{"type":"resume"}
//	{"type":"cancel","reason":"user abort"}
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
)

// Message types.
const (
	TypeOutput       = "output"
	TypeInputRequest = "input_request"
	TypeInput        = "input"
	TypeMetadata     = "metadata"
	TypePause        = "pause"
	TypeResume       = "resume"
	TypeCancel       = "cancel"
)

// Message is one line of the protocol.
type Message struct {
	Type   string         `json:"type"`
	Key    string         `json:"key,omitempty"`
	Data   any            `json:"data,omitempty"`
	Value  any            `json:"value,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Meta   map[string]any `json:"-"`
}

// Flow reads host messages in a background goroutine started by NewFlow; it
// stops at EOF or on Close. Safe for concurrent use.
type Flow struct {
	enc    *json.Encoder
	wmu    sync.Mutex
	logger *slog.Logger
	closer io.Closer

	mu       sync.Mutex
	inputs   map[string]any
	metadata map[string]any
	paused   bool
	cancel   error
	eof      error
	changed  chan struct{}
	done     chan struct{}
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger sets the logger used for malformed host lines.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// WithInputs pre-supplies inputs.
func WithInputs(inputs map[string]any) Option {
	return func(f *Flow) {
		for k, v := range inputs {
			f.inputs[k] = v
		}
	}
}

// NewFlow starts reading host messages from r. Nil r and w default to stdin and stdout.
func NewFlow(r io.Reader, w io.Writer, opts ...Option) *Flow {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	f := &Flow{
		enc:      json.NewEncoder(w),
		logger:   logging.NewNop(),
		inputs:   make(map[string]any),
		metadata: make(map[string]any),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		f.closer = c
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.pump(r)
	return f
}

func (f *Flow) pump(r io.Reader) {
	defer close(f.done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw struct {
			Type   string         `json:"type"`
			Key    string         `json:"key"`
			Value  any            `json:"value"`
			Data   map[string]any `json:"data"`
			Reason string         `json:"reason"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			f.logger.Warn("ignoring malformed host message", "err", err)
			continue
		}
		f.apply(Message{Type: raw.Type, Key: raw.Key, Value: raw.Value, Reason: raw.Reason, Meta: raw.Data})
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	f.update(func() { f.eof = err })
}

func (f *Flow) apply(m Message) {
	switch m.Type {
	case TypeInput:
		f.update(func() { f.inputs[m.Key] = m.Value })
	case TypeMetadata:
		f.update(func() {
			for k, v := range m.Meta {
				f.metadata[k] = v
			}
		})
	case TypePause:
		f.update(func() { f.paused = true })
	case TypeResume:
		f.update(func() { f.paused = false })
	case TypeCancel:
		reason := m.Reason
		if reason == "" {
			reason = "cancelled by host"
		}
		f.update(func() { f.cancel = domain.Fatal(domain.CodeInterrupted, "job cancelled: %s", reason) })
	default:
		f.logger.Warn("ignoring unknown host message", "type", m.Type)
	}
}

// update mutates state under the lock and wakes every waiter.
func (f *Flow) update(fn func()) {
	f.mu.Lock()
	fn()
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

func (f *Flow) send(m Message) error {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if err := f.enc.Encode(m); err != nil {
		return fmt.Errorf("write %s message: %w", m.Type, err)
	}
	return nil
}

// RequestInput asks the host for key and waits for the answer.
func (f *Flow) RequestInput(ctx context.Context, key string) (any, error) {
	if v, ok := f.lookup(key); ok {
		return v, nil
	}
	if err := f.send(Message{Type: TypeInputRequest, Key: key}); err != nil {
		return nil, err
	}
	for {
		f.mu.Lock()
		v, ok := f.inputs[key]
		cancelled, eof, changed := f.cancel, f.eof, f.changed
		f.mu.Unlock()
		switch {
		case ok:
			return v, nil
		case cancelled != nil:
			return nil, cancelled
		case eof != nil:
			return nil, domain.Wrap(eof, domain.CodeInputRequired, false, "input %q was not supplied", key)
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, domain.Wrap(ctx.Err(), domain.CodeInterrupted, false, "waiting for input %q", key)
		}
	}
}

func (f *Flow) lookup(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.inputs[key]
	return v, ok
}

func (f *Flow) PeekInput(ctx context.Context, key string) (any, error) {
	v, _ := f.lookup(key)
	return v, nil
}

func (f *Flow) ResetInput(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inputs, key)
	return nil
}

func (f *Flow) SendOutput(ctx context.Context, key string, data any) error {
	return f.send(Message{Type: TypeOutput, Key: key, Data: data})
}

// Tick blocks while the host paused the job and fails once it cancelled it.
func (f *Flow) Tick(ctx context.Context) error {
	for {
		f.mu.Lock()
		paused, cancelled, eof, changed := f.paused, f.cancel, f.eof, f.changed
		f.mu.Unlock()
		if cancelled != nil {
			return cancelled
		}
		if !paused || eof != nil {
			break
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return domain.Wrap(ctx.Err(), domain.CodeInterrupted, false, "paused job cancelled")
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

// Close stops reading when the reader can be closed and waits for the reader goroutine.
func (f *Flow) Close() error {
	var err error
	if f.closer != nil {
		err = f.closer.Close()
	}
	<-f.done
	return err
}

// Done is closed once the host stream ended.
func (f *Flow) Done() <-chan struct{} { return f.done }

var _ ports.Flow = (*Flow)(nil)
