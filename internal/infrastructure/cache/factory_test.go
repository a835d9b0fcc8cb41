package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rentbill/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFactory_Create(t *testing.T) {
	ctx := context.Background()
	unreachable := config.RedisConfig{Host: "127.0.0.1", Port: 1}

	t.Run("memory backend", func(t *testing.T) {
		b, err := NewFactory(unreachable, config.BillingConfig{LockBackend: "memory", LockTTL: time.Second}).Create(ctx)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &InMemoryLocker{}, b.Locker)
		assert.IsType(t, &InMemoryIdempotencyStore{}, b.Idempotency)
	})

	t.Run("falls back with a warning when redis is down", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		f := NewFactory(unreachable, config.BillingConfig{LockBackend: "redis"}, WithLogger(zap.New(core)))

		b, err := f.Create(ctx)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &InMemoryLocker{}, b.Locker)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("fails without fallback", func(t *testing.T) {
		f := NewFactory(unreachable, config.BillingConfig{LockBackend: "redis"}, WithInMemoryFallback(false))
		_, err := f.Create(ctx)
		assert.Error(t, err)
	})
}

func TestBackends_CloseWarnsAboutHeldLocks(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	f := NewFactory(config.RedisConfig{}, config.BillingConfig{LockBackend: "memory"}, WithLogger(zap.New(core)))
	b, err := f.Create(ctx)
	require.NoError(t, err)

	release, err := b.Locker.Acquire(ctx, "tenant:a")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	entries := logs.FilterMessage("Closing with tenant locks still held").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["held"])

	release()
	require.NoError(t, b.Close())
	assert.Equal(t, 1, logs.FilterMessage("Closing with tenant locks still held").Len())
}
