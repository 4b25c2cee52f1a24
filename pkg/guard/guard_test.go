package guard

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisGuard(t *testing.T) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	// MiniRedis pra rodar os testes sem precisar do Redis real subindo
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisGuard(rdb, 24), mr
}

func TestRedisGuardLock(t *testing.T) {
	g, mr := newRedisGuard(t)
	ctx := context.Background()

	unlock, err := g.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)

	_, err = g.TryLock(ctx, "refresh", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock(ctx))
	require.False(t, mr.Exists("sgcc:lock:refresh"))

	unlock2, err := g.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisGuardExpiredLockIsNotStolen(t *testing.T) {
	g, mr := newRedisGuard(t)
	ctx := context.Background()

	stale, err := g.TryLock(ctx, "refresh", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := g.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)

	// o dono antigo não pode liberar o lock do novo
	require.NoError(t, stale(ctx))
	require.True(t, mr.Exists("sgcc:lock:refresh"))

	require.NoError(t, fresh(ctx))
	require.False(t, mr.Exists("sgcc:lock:refresh"))
}

func TestRedisGuardMarkers(t *testing.T) {
	g, mr := newRedisGuard(t)
	ctx := context.Background()

	_, ok, err := g.LastDone(ctx, "refresh")
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Date(2024, 3, 1, 7, 0, 5, 0, time.UTC)
	require.NoError(t, g.MarkDone(ctx, "refresh", at))

	got, ok, err := g.LastDone(ctx, "refresh")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, at.Equal(got))
	require.Equal(t, 24*time.Hour, mr.TTL("sgcc:done:refresh"))
}

func TestLocalGuard(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	g.clock = func() time.Time { return now }

	unlock, err := g.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	_, err = g.TryLock(ctx, "refresh", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	// lock expirado pode ser retomado
	now = now.Add(2 * time.Minute)
	unlock2, err := g.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)

	// liberar o lock antigo não solta o novo
	require.NoError(t, unlock(ctx))
	_, err = g.TryLock(ctx, "refresh", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock2(ctx))
	_, err = g.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)

	require.NoError(t, g.MarkDone(ctx, "refresh", now))
	got, ok, err := g.LastDone(ctx, "refresh")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now, got)
}
