package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.now = func() time.Time { return now }

	first, err := l.Acquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "dispatch", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Acquire(ctx, "sync", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	assert.ErrorIs(t, first.Release(ctx), ErrNotHeld)

	again, err := l.Acquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)

	// After the TTL lapses a new holder may take the key, and the stale
	// holder can no longer release it.
	now = now.Add(2 * time.Minute)
	taker, err := l.Acquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, again.Release(ctx), ErrNotHeld)
	require.NoError(t, taker.Release(ctx))
}

func TestLocalLockerSingleWinner(t *testing.T) {
	l := NewLocal()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "k", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := Connect(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	l := NewRedis(rdb, "test:lock:", zap.NewNop())
	key := uuid.NewString()

	held, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, held.Release(ctx))
	assert.ErrorIs(t, held.Release(ctx), ErrNotHeld)
}
