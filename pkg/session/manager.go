package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed holder keeps a distributed lock.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates checkpoint access. Unused locks are garbage collected
// through reference counting.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.Locker) Option {
	return func(m *Manager) { m.locker = locker }
}

// WithLockTTL sets the distributed lock lease.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.lockTTL = ttl }
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager over store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must lock entry.mu, and call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[id]
	if !ok {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// Load retrieves a checkpoint.
func (m *Manager) Load(ctx context.Context, id string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		cp, err = m.store.Load(ctx, id)
		return err
	})
	return cp, err
}

// Save persists a checkpoint.
func (m *Manager) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.ID == "" {
		return errors.New("checkpoint id cannot be empty")
	}
	return m.WithLock(ctx, cp.ID, func(ctx context.Context) error {
		return m.store.Save(ctx, cp)
	})
}

// Update loads a checkpoint, applies fn and saves the result atomically with
// respect to other Manager calls on the same id.
func (m *Manager) Update(ctx context.Context, id string, fn func(*domain.Checkpoint) error) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		cp, err := m.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(cp); err != nil {
			return err
		}
		cp.ID = id
		return m.store.Save(ctx, cp)
	})
}

// Claim loads a checkpoint and deletes it, so that only one caller resumes it.
func (m *Manager) Claim(ctx context.Context, id string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		cp, err = m.store.Load(ctx, id)
		if err != nil {
			return err
		}
		return m.store.Delete(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Delete removes a checkpoint.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		return m.store.Delete(ctx, id)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying store.
func (m *Manager) Store() ports.CheckpointStore {
	return m.store
}

// WithLock runs fn while holding the lock for id.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"checkpoint", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
