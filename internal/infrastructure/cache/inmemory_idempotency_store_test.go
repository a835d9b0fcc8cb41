package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()

	t.Run("first mark wins", func(t *testing.T) {
		store := NewInMemoryIdempotencyStore(0)
		defer store.Close()

		fresh, err := store.MarkProcessed(ctx, "evt_1", time.Hour)
		require.NoError(t, err)
		assert.True(t, fresh)

		fresh, err = store.MarkProcessed(ctx, "evt_1", time.Hour)
		require.NoError(t, err)
		assert.False(t, fresh)

		done, err := store.IsProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, done)

		done, err = store.IsProcessed(ctx, "evt_2")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("expired ids can be processed again and are evicted", func(t *testing.T) {
		store := NewInMemoryIdempotencyStore(0)
		defer store.Close()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		store.now = func() time.Time { return now }

		_, err := store.MarkProcessed(ctx, "evt_1", time.Minute)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		done, err := store.IsProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, done)

		store.evictExpired()
		store.mu.RLock()
		remaining := len(store.expiry)
		store.mu.RUnlock()
		assert.Zero(t, remaining)

		fresh, err := store.MarkProcessed(ctx, "evt_1", time.Minute)
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("concurrent marks admit exactly one", func(t *testing.T) {
		store := NewInMemoryIdempotencyStore(0)
		defer store.Close()

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fresh, err := store.MarkProcessed(ctx, "evt_race", time.Hour)
				assert.NoError(t, err)
				if fresh {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		store := NewInMemoryIdempotencyStore(time.Millisecond)
		assert.NoError(t, store.Close())
		assert.NoError(t, store.Close())
	})
}
