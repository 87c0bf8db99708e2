package slothold

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisHolder_Exclusive(t *testing.T) {
	mr, client := setupTestRedis(t)
	h := NewRedisHolder(client, 10*time.Second)
	ctx := context.Background()

	hold, err := h.Acquire(ctx, "2024-07-01", "10:00")
	require.NoError(t, err)
	assert.True(t, mr.Exists(hold.Key()))
	assert.Equal(t, 10*time.Second, mr.TTL(hold.Key()))

	_, err = h.Acquire(ctx, "2024-07-01", "10:00")
	assert.ErrorIs(t, err, ErrHeld)

	other, err := h.Acquire(ctx, "2024-07-01", "10:30")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, hold.Release(ctx))
	assert.False(t, mr.Exists(hold.Key()))

	again, err := h.Acquire(ctx, "2024-07-01", "10:00")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisHolder_ExpiredHoldIsNotReleasedByOldOwner(t *testing.T) {
	mr, client := setupTestRedis(t)
	h := NewRedisHolder(client, time.Second)
	ctx := context.Background()

	first, err := h.Acquire(ctx, "2024-07-01", "11:00")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	second, err := h.Acquire(ctx, "2024-07-01", "11:00")
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))
	assert.True(t, mr.Exists(second.Key()), "stale release must not drop the new hold")

	require.NoError(t, second.Release(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestRedisHolder_Concurrent(t *testing.T) {
	_, client := setupTestRedis(t)
	h := NewRedisHolder(client, 0)
	ctx := context.Background()

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Acquire(ctx, "2024-07-01", "09:00"); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestRedisHolder_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()
	h := NewRedisHolder(client, time.Second)

	_, err := h.Acquire(context.Background(), "2024-07-01", "09:00")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHeld)
}

func TestNop(t *testing.T) {
	hold, err := Nop{}.Acquire(context.Background(), "2024-07-01", "09:00")
	require.NoError(t, err)
	assert.NoError(t, hold.Release(context.Background()))
}
