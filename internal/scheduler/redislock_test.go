package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	key := "hotspot:test:" + uuid.New().String()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	a := NewRedisLocker(client)
	b := NewRedisLocker(client)

	release, ok, err := a.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	release()
	releaseB, ok, err := b.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale release must not drop someone else's lease.
	release()
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)
	releaseB()
}
