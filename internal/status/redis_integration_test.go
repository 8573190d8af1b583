//go:build integration

package status

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStoreLifecycle(t *testing.T) {
	client := newRedisClient(t)
	store := NewRedisStore(client, time.Hour, nil)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "c1-client")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.MarkQueued(ctx, "c1-client"))
	snap, found, err := store.Get(ctx, "c1-client")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateQueued, snap.State)

	require.NoError(t, store.RecordDispatched(ctx, "c1-client", 3))
	snap, _, err = store.Get(ctx, "c1-client")
	require.NoError(t, err)
	assert.Equal(t, StateDispatched, snap.State)
	assert.Equal(t, 3, snap.ExpectedImages)

	require.NoError(t, store.RecordFailed(ctx, "c1-client", "ANNOTATE_DOWNLOAD_FAILED", "boom"))
	require.NoError(t, store.RecordStored(ctx, "c1-client"))
	snap, _, err = store.Get(ctx, "c1-client")
	require.NoError(t, err)
	assert.Equal(t, StateStoring, snap.State)
	assert.Empty(t, snap.ErrorCode)

	require.NoError(t, store.RecordStored(ctx, "c1-client"))
	require.NoError(t, store.RecordStored(ctx, "c1-client"))
	snap, _, err = store.Get(ctx, "c1-client")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 100, snap.ProgressPercent())

	ttl, err := client.TTL(ctx, Key("c1-client")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestRedisStoreStoreBeforeDispatch(t *testing.T) {
	client := newRedisClient(t)
	store := NewRedisStore(client, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, store.RecordStored(ctx, "c2-client"))
	require.NoError(t, store.RecordDispatched(ctx, "c2-client", 1))

	snap, _, err := store.Get(ctx, "c2-client")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
}

func TestRedisStoreStaleStateWriteReadsFromCounters(t *testing.T) {
	client := newRedisClient(t)
	store := NewRedisStore(client, time.Hour, nil)
	ctx := context.Background()

	// A store that computed completed against the first fan-out lands after a
	// second fan-out has already raised the expected count.
	require.NoError(t, store.RecordDispatched(ctx, "c3-client", 3))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordStored(ctx, "c3-client"))
	}
	require.NoError(t, client.HIncrBy(ctx, Key("c3-client"), "expected_images", 3).Err())

	snap, _, err := store.Get(ctx, "c3-client")
	require.NoError(t, err)
	assert.Equal(t, StateStoring, snap.State)
	assert.Equal(t, 50, snap.ProgressPercent())
}
