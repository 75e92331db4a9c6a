package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("unreachable server", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("connects and pings", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.NoError(t, client.Health())
	})
}

func TestClient_GetSetDelete(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	_, found, err := client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Set(ctx, "k", "v", 0))

	value, found, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	require.NoError(t, client.Delete(ctx, "k"))

	_, found, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_SetWithTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "expiring", "v", 10*time.Second))

	mr.FastForward(11 * time.Second)

	_, found, err := client.Get(ctx, "expiring")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_SetNX(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	created, err := client.SetNX(ctx, "lease", "owner-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, created)

	// Second attempt fails while the key lives
	created, err = client.SetNX(ctx, "lease", "owner-2", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, created)

	value, found, err := client.Get(ctx, "lease")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "owner-1", value)

	// Expiry frees the lease
	mr.FastForward(11 * time.Second)
	created, err = client.SetNX(ctx, "lease", "owner-2", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestClient_Exists(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	exists, err := client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.Set(ctx, "k", "v", 0))

	exists, err = client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}
