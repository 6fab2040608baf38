package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalManager_Lifecycle(t *testing.T) {
	sm := NewSignalManager(context.Background(), nil)

	ctx := sm.Context()
	assert.NoError(t, ctx.Err())
	assert.False(t, sm.Interrupted())

	sm.Stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, sm.Interrupted(), "Stop is not an interruption")
}

func TestSignalManager_Source(t *testing.T) {
	source := make(chan struct{})
	sm := NewSignalManager(context.Background(), source)
	defer sm.Stop()

	close(source)
	<-sm.Context().Done()
	assert.True(t, sm.Interrupted())
}

func TestSignalManager_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	sm := NewSignalManager(parent, nil)
	defer sm.Stop()

	cancel()
	<-sm.Context().Done()
	assert.False(t, sm.Interrupted(), "parent cancellation is not an interruption")
}
