package ports

import (
	"context"
	"time"

	"github.com/aretw0/marionette/pkg/domain"
)

// CheckpointStore defines the interface for persisting checkpoints.
// This enables "Stop & Resume" of long scripts.
type CheckpointStore interface {
	// Save persists the checkpoint under its ID, replacing any previous version.
	Save(ctx context.Context, cp *domain.Checkpoint) error

	// Load retrieves a checkpoint.
	// Returns domain.ErrCheckpointNotFound if it does not exist.
	Load(ctx context.Context, id string) (*domain.Checkpoint, error)

	// Delete removes a checkpoint. Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of all stored checkpoints.
	List(ctx context.Context) ([]string, error)
}

// ExtensionResolver checks Script dependencies against installed extensions.
type ExtensionResolver interface {
	Unmet(ctx context.Context, deps []domain.Dependency) ([]domain.UnmetDependency, error)
}

// UnlockFunc releases a lock acquired by a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker provides locking across processes, so that two workers never resume
// the same checkpoint at once.
type Locker interface {
	// Lock blocks until the lock is held, ctx is done, or the backend fails.
	// The lock expires after ttl if it is never released.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
