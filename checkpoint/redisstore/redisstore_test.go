package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/checkpoint/redisstore"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...redisstore.Option) (*redisstore.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redisstore.NewFromClient(client, opts...)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, mr
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	t.Run("lifecycle", func(t *testing.T) {
		store, mr := newStore(t, redisstore.WithPrefix("test:"))
		var checkpointer foreach.Checkpointer = store
		_, ok, err := checkpointer.LoadCheckpoint(ctx, "run1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, checkpointer.SaveCheckpoint(ctx, "run1", "token-1"))
		assert.True(t, mr.Exists("test:runs:run1"))
		token, ok, err := checkpointer.LoadCheckpoint(ctx, "run1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "token-1", token)

		runs, err := store.Runs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"run1"}, runs)

		require.NoError(t, checkpointer.ClearCheckpoint(ctx, "run1"))
		_, ok, err = checkpointer.LoadCheckpoint(ctx, "run1")
		require.NoError(t, err)
		assert.False(t, ok)
		runs, err = store.Runs(ctx)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
	t.Run("ttl", func(t *testing.T) {
		store, mr := newStore(t, redisstore.WithTTL(time.Minute))
		require.NoError(t, store.SaveCheckpoint(ctx, "run1", "token-1"))
		assert.Equal(t, time.Minute, mr.TTL(redisstore.DefaultPrefix+"runs:run1"))
		mr.FastForward(2 * time.Minute)
		_, ok, err := store.LoadCheckpoint(ctx, "run1")
		require.NoError(t, err)
		assert.False(t, ok)
		runs, err := store.Runs(ctx)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
	t.Run("a run named index", func(t *testing.T) {
		store, _ := newStore(t)
		require.NoError(t, store.SaveCheckpoint(ctx, "index", "token-1"))
		require.NoError(t, store.SaveCheckpoint(ctx, "run2", "token-2"))
		token, ok, err := store.LoadCheckpoint(ctx, "index")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "token-1", token)
		runs, err := store.Runs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"index", "run2"}, runs)
	})
	t.Run("unavailable", func(t *testing.T) {
		store, mr := newStore(t)
		mr.Close()
		_, _, err := store.LoadCheckpoint(ctx, "run1")
		assert.Error(t, err)
	})
	t.Run("bad url", func(t *testing.T) {
		_, err := redisstore.New("not a url")
		assert.Error(t, err)
	})
}
