package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestAllowWithinWindow(t *testing.T) {
	mr, client := newRedis(t)
	now := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	l := New(client, "imggen", 3, time.Hour, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "admin-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "admin-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), d.ResetAt)

	other, err := l.Allow(ctx, "admin-2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	key := "imggen:admin-1:" + "1714557600"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestAllowResetsOnNextWindow(t *testing.T) {
	_, client := newRedis(t)
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	l := New(client, "imggen", 1, time.Hour, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	d, err := l.Allow(ctx, "u")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "u")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	now = now.Add(2 * time.Minute)
	d, err = l.Allow(ctx, "u")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
}

func TestAllowSurfacesRedisErrors(t *testing.T) {
	mr, client := newRedis(t)
	l := New(client, "imggen", 1, time.Hour)
	mr.Close()

	_, err := l.Allow(context.Background(), "u")
	assert.Error(t, err)
}
