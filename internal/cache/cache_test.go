package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisFromClient(client)
}

func TestNoopAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c Store = Noop{}
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryGetSetAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "catalog:0:", []byte(`[1]`), time.Minute))
	val, ok, err := m.Get(ctx, "catalog:0:")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[1]`, string(val))

	now = now.Add(time.Minute)
	_, ok, err = m.Get(ctx, "catalog:0:")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryGenerations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	gen, err := m.Generation(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	gen, err = m.Bump(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	other, err := m.Generation(ctx, "clients")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)
}

func TestRedisGetSet(t *testing.T) {
	ctx := context.Background()
	mr, c := setupTestRedis(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "sales:0:50", []byte(`{"a":1}`), time.Minute))
	val, ok, err := c.Get(ctx, "sales:0:50")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(val))
	assert.True(t, mr.Exists("fotocopias:sales:0:50"))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "sales:0:50")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisGenerationSharedAcrossClients(t *testing.T) {
	ctx := context.Background()
	mr, a := setupTestRedis(t)
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB.Close() })
	b := NewRedisFromClient(clientB)

	gen, err := b.Generation(ctx, "clients")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	_, err = a.Bump(ctx, "clients")
	require.NoError(t, err)
	_, err = a.Bump(ctx, "clients")
	require.NoError(t, err)

	gen, err = b.Generation(ctx, "clients")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
}

func TestRedisErrorsSurface(t *testing.T) {
	ctx := context.Background()
	mr, c := setupTestRedis(t)
	mr.SetError("LOADING")

	_, _, err := c.Get(ctx, "k")
	assert.Error(t, err)
	_, err = c.Bump(ctx, "catalog")
	assert.Error(t, err)
}
