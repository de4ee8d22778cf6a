package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr, client := newMiniRedis(t)
	store := NewRedisIdempotencyStore(client, "")
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, isNew)

	processed, err := store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.True(t, mr.Exists(DefaultIdempotencyPrefix+"evt-1"))

	mr.FastForward(2 * time.Minute)
	processed, err = store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.Close())
	require.NoError(t, client.Ping(ctx).Err(), "store must not close a shared client")
}

func TestRedisIdempotencyStore_Unavailable(t *testing.T) {
	mr, client := newMiniRedis(t)
	store := NewRedisIdempotencyStore(client, "test:")
	mr.Close()

	_, err := store.MarkProcessed(context.Background(), "evt", time.Minute)
	assert.Error(t, err)
}

func TestRedisProductLocker_Exclusive(t *testing.T) {
	mr, client := newMiniRedis(t)
	locker := NewRedisProductLocker(client, WithLockWait(200*time.Millisecond), WithLockTTL(5*time.Second))
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	unlock, err := locker.Lock(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, mr.Exists(productLockPrefix+a.String()))
	assert.True(t, mr.Exists(productLockPrefix+b.String()))

	_, err = locker.Lock(ctx, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	unlock()
	unlock()
	assert.False(t, mr.Exists(productLockPrefix+a.String()))

	unlock2, err := locker.Lock(ctx, b)
	require.NoError(t, err)
	unlock2()
}

func TestRedisProductLocker_PartialFailureReleases(t *testing.T) {
	mr, client := newMiniRedis(t)
	locker := NewRedisProductLocker(client, WithLockWait(100*time.Millisecond))
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	unlockB, err := locker.Lock(ctx, b)
	require.NoError(t, err)
	defer unlockB()

	_, err = locker.Lock(ctx, a, b)
	require.Error(t, err)
	assert.False(t, mr.Exists(productLockPrefix+a.String()), "a must be released when b cannot be obtained")
}

func TestLocalProductLocker(t *testing.T) {
	locker := NewLocalProductLocker()
	locker.wait = 100 * time.Millisecond
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	t.Run("busy product times out", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, a)
		require.NoError(t, err)
		defer unlock()

		_, err = locker.Lock(ctx, b, a)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

		unlockB, err := locker.Lock(ctx, b)
		require.NoError(t, err, "b must not stay held after the failed attempt")
		unlockB()
	})

	t.Run("cancelled context", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, a)
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = locker.Lock(cctx, a)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("writers are serialized", func(t *testing.T) {
		locker.wait = 5 * time.Second
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locker.Lock(ctx, a, b)
				if err != nil {
					return
				}
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
		assert.Empty(t, locker.slots)
	})
}

func TestNewBackends(t *testing.T) {
	ctx := context.Background()

	t.Run("local", func(t *testing.T) {
		b, err := NewBackends(ctx, config.LedgerConfig{LockBackend: config.LockBackendLocal}, config.RedisConfig{}, nil)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &LocalProductLocker{}, b.Locker)
		assert.IsType(t, &InMemoryIdempotencyStore{}, b.Idempotency)
		assert.Nil(t, b.Redis)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host, port := mr.Host(), mustPort(t, mr.Port())
		b, err := NewBackends(ctx, config.LedgerConfig{LockBackend: config.LockBackendRedis},
			config.RedisConfig{Host: host, Port: port}, nil)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &RedisProductLocker{}, b.Locker)
		assert.IsType(t, &RedisIdempotencyStore{}, b.Idempotency)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		port := mustPort(t, mr.Port())
		mr.Close()
		_, err := NewBackends(ctx, config.LedgerConfig{LockBackend: config.LockBackendRedis},
			config.RedisConfig{Host: "127.0.0.1", Port: port}, nil)
		assert.Error(t, err)
	})
}

func mustPort(t *testing.T, s string) int {
	t.Helper()
	p, err := strconv.Atoi(s)
	require.NoError(t, err)
	return p
}
