package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/rentbill/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Backends are the coordination stores shared by billing components.
type Backends struct {
	Locker      shared.Locker
	Idempotency shared.IdempotencyStore
	client      *redis.Client
	logger      *zap.Logger
}

// Close releases the stores and the Redis client, if any. In-process locks
// still held at this point belong to work that never finished.
func (b *Backends) Close() error {
	if locker, ok := b.Locker.(*InMemoryLocker); ok && b.logger != nil {
		if held := locker.Held(); held > 0 {
			b.logger.Warn("Closing with tenant locks still held", zap.Int("held", held))
		}
	}
	if b.Idempotency != nil {
		_ = b.Idempotency.Close()
	}
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// Factory builds Backends from configuration
type Factory struct {
	redisConfig           config.RedisConfig
	billingConfig         config.BillingConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to
// in-process stores. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new Factory
func NewFactory(redisCfg config.RedisConfig, billingCfg config.BillingConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           redisCfg,
		billingConfig:         billingCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns Redis-backed stores when billing.lock_backend is redis and
// Redis answers, otherwise in-process stores.
func (f *Factory) Create(ctx context.Context) (*Backends, error) {
	if f.billingConfig.LockBackend == "redis" {
		client, err := NewRedisClient(ctx, f.redisConfig)
		if err == nil {
			f.logger.Info("Using Redis lock and idempotency store", zap.String("addr", f.redisConfig.Addr()))
			return f.redisBackends(client), nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis required for billing locks but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-process locks. "+
			"Concurrent instances will not be serialized per tenant.",
			zap.Error(err))
	}
	return f.memoryBackends(), nil
}

func (f *Factory) redisBackends(client *redis.Client) *Backends {
	return &Backends{
		Locker: NewRedisLocker(RedisLockerConfig{
			Client: client,
			TTL:    f.billingConfig.LockTTL,
			Logger: f.logger,
		}),
		Idempotency: NewRedisIdempotencyStore(client, ""),
		client:      client,
		logger:      f.logger,
	}
}

func (f *Factory) memoryBackends() *Backends {
	return &Backends{
		Locker:      NewInMemoryLocker(f.billingConfig.LockTTL),
		Idempotency: NewInMemoryIdempotencyStore(0),
		logger:      f.logger,
	}
}
