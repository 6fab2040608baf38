package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/marionette/pkg/adapters/redis"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports/tests"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	tests.RunCheckpointStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_TTLExpiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(time.Second))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.Checkpoint{ID: "short", Label: "x"}))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, ids)

	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("app:"))
	require.NoError(t, store.Save(context.Background(), &domain.Checkpoint{ID: "one"}))

	assert.True(t, mr.Exists("app:one"))
	members, err := mr.ZMembers("app:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, members)
}

func TestNewFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := redis.NewFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	tests.RunCheckpointStoreContract(t, store)

	_, err = redis.NewFromURL("://bad")
	assert.Error(t, err)
}
