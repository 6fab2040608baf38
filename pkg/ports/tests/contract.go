// Package tests holds contract suites shared by port implementations.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckpoint(id string) *domain.Checkpoint {
	return &domain.Checkpoint{
		ID:          id,
		Label:       "contract",
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		URL:         "https://example.test/cart",
		Cookies:     []domain.Cookie{{Name: "sid", Value: "abc", Domain: "example.test", Path: "/"}},
		Globals:     map[string]any{"foo": "bar", "count": 42},
		Playhead:    &domain.Cursor{ActionID: "a2"},
		ContextID:   "checkout",
		ContextRuns: map[string]int{"checkout": 1},
		Actions:     map[string]domain.ActionState{"loop": {Attempts: 3}},
	}
}

// RunCheckpointStoreContract verifies that a CheckpointStore implementation
// adheres to the interface contract.
func RunCheckpointStoreContract(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	base := "contract-" + time.Now().Format("20060102150405.000000")

	t.Run("Save and Load", func(t *testing.T) {
		cp := newCheckpoint(base)
		require.NoError(t, store.Save(ctx, cp))

		loaded, err := store.Load(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, cp.ID, loaded.ID)
		assert.Equal(t, cp.URL, loaded.URL)
		assert.Equal(t, "a2", loaded.Playhead.ActionID)
		assert.Equal(t, "bar", loaded.Globals["foo"])
		// JSON persistence converts numbers to float64.
		assert.EqualValues(t, 42, loaded.Globals["count"])
		assert.Equal(t, 3, loaded.Actions["loop"].Attempts)
		assert.Equal(t, 1, loaded.ContextRuns["checkout"])
		require.Len(t, loaded.Cookies, 1)
		assert.Equal(t, "sid", loaded.Cookies[0].Name)
		assert.True(t, cp.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		cp := newCheckpoint(base)
		cp.Label = "second"
		require.NoError(t, store.Save(ctx, cp))

		loaded, err := store.Load(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, "second", loaded.Label)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+base)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newCheckpoint(base)))
		require.NoError(t, store.Delete(ctx, base))

		_, err := store.Load(ctx, base)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
		assert.NoError(t, store.Delete(ctx, base), "deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1, id2 := base+"-1", base+"-2"
		require.NoError(t, store.Save(ctx, newCheckpoint(id1)))
		require.NoError(t, store.Save(ctx, newCheckpoint(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
