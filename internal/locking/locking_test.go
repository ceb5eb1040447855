package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// exclusive runs workers that each increment a counter under the lock and
// checks that no two of them were inside at once.
func exclusive(t *testing.T, locker Locker) {
	t.Helper()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "program-1")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load(), "two holders were inside the lock at once")
}

func TestLocal_Exclusive(t *testing.T) {
	t.Parallel()

	locker := NewLocal()
	exclusive(t, locker)
	assert.Equal(t, 0, locker.held(), "slots should be released")
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	locker := NewLocal()
	releaseA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	t.Parallel()

	locker := NewLocal()
	release, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	assert.Equal(t, 0, locker.held())
}

func TestRedis_Exclusive(t *testing.T) {
	t.Parallel()

	client, _ := setupTestRedis(t)
	exclusive(t, NewRedis(client, RedisOptions{RetryInterval: time.Millisecond}))
}

func TestRedis_TryLockAndRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, mr := setupTestRedis(t)
	locker := NewRedis(client, RedisOptions{Prefix: "test:", TTL: 10 * time.Second})

	first, err := locker.TryLock(ctx, "program-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "test:program-1", first.Key())
	assert.NotEmpty(t, first.Token())
	assert.Equal(t, 10*time.Second, mr.TTL("test:program-1"))

	second, err := locker.TryLock(ctx, "program-1")
	require.NoError(t, err)
	assert.Nil(t, second, "second holder must not acquire the key")

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("test:program-1"))

	third, err := locker.TryLock(ctx, "program-1")
	require.NoError(t, err)
	require.NotNil(t, third)
}

func TestRedis_ReleaseAfterExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, mr := setupTestRedis(t)
	locker := NewRedis(client, RedisOptions{TTL: time.Second})

	held, err := locker.TryLock(ctx, "program-1")
	require.NoError(t, err)
	require.NotNil(t, held)

	mr.FastForward(2 * time.Second)
	other, err := locker.TryLock(ctx, "program-1")
	require.NoError(t, err)
	require.NotNil(t, other)

	assert.True(t, errors.Is(held.Release(ctx), ErrLockLost))
	assert.True(t, mr.Exists("scheduler:lock:program-1"), "stale release must not delete the new holder's key")
}

func TestRedis_Extend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, mr := setupTestRedis(t)
	locker := NewRedis(client, RedisOptions{TTL: time.Second})

	held, err := locker.TryLock(ctx, "program-1")
	require.NoError(t, err)
	require.NoError(t, held.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("scheduler:lock:program-1"))
}

func TestRedis_LockRenewsWhileHeld(t *testing.T) {
	t.Parallel()

	client, mr := setupTestRedis(t)
	locker := NewRedis(client, RedisOptions{TTL: 150 * time.Millisecond})
	const key = "scheduler:lock:program-1"

	release, err := locker.Lock(context.Background(), "program-1")
	require.NoError(t, err)

	mr.FastForward(120 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(key) > 100*time.Millisecond
	}, time.Second, 5*time.Millisecond, "held lock was not renewed")

	mr.FastForward(120 * time.Millisecond)
	assert.True(t, mr.Exists(key), "renewed lock expired while held")

	release()
	release()
	assert.False(t, mr.Exists(key))
}

func TestRedis_LockHonoursContext(t *testing.T) {
	t.Parallel()

	client, _ := setupTestRedis(t)
	locker := NewRedis(client, RedisOptions{RetryInterval: 5 * time.Millisecond})

	release, err := locker.Lock(context.Background(), "program-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "program-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
