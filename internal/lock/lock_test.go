package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker) {
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "sync:acme", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = l.TryLock(ctx, "sync:acme", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.TryLock(ctx, "sync:globex", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale token must not release someone else's lock.
	require.NoError(t, l.Release(ctx, "sync:acme", "not-the-owner"))
	_, ok, err = l.TryLock(ctx, "sync:acme", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "sync:acme", token))
	_, ok, err = l.TryLock(ctx, "sync:acme", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = l.TryLock(ctx, "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, _, err = l.TryLock(ctx, "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestLocalLocker(t *testing.T) {
	exerciseLocker(t, NewLocal())
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseLocker(t, New(client))
}

func TestRedisLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedis(client)
	ctx := context.Background()

	_, ok, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerExpires(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l := &localLocker{held: map[string]held{}, now: func() time.Time { return now }}
	ctx := context.Background()

	_, ok, _ := l.TryLock(ctx, "k", time.Second)
	require.True(t, ok)
	now = now.Add(time.Second)
	_, ok, _ = l.TryLock(ctx, "k", time.Second)
	assert.True(t, ok)
}

func TestNewPicksImplementation(t *testing.T) {
	_, isLocal := New(nil).(*localLocker)
	assert.True(t, isLocal)
}
