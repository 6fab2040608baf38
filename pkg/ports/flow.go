package ports

import "context"

// Flow is the job I/O capability: inputs supplied by the client, outputs
// emitted by the script and the cooperative tick used for pause and cancel.
type Flow interface {
	// RequestInput returns the input for key, waiting for the client when necessary.
	RequestInput(ctx context.Context, key string) (any, error)
	// PeekInput returns the input for key if already available, nil otherwise.
	PeekInput(ctx context.Context, key string) (any, error)
	// ResetInput forgets the input for key so that it is requested again.
	ResetInput(ctx context.Context, key string) error
	SendOutput(ctx context.Context, key string, data any) error
	// Tick blocks while the job is paused and returns an error once it is cancelled.
	Tick(ctx context.Context) error
	Metadata() map[string]any
}
