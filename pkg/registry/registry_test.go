package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := New[int]()
	r.Register("b", 2)
	r.Register("a", 1)
	r.Register("a", 10)

	v, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Len())

	_, err := r.MustLookup("missing")
	assert.EqualError(t, err, "not registered: missing")
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[string]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("k", "v")
			_, _ = r.Lookup("k")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
}
