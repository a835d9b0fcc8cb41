package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rentbill/backend/internal/domain/shared"
	"go.uber.org/zap"
)

const defaultLockPrefix = "billing:lock:"

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a shared.Locker backed by Redis SET NX PX.
// The TTL bounds how long a crashed holder can block a key.
type RedisLocker struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
	keyPrefix    string
	logger       *zap.Logger
}

// RedisLockerConfig configures a RedisLocker
type RedisLockerConfig struct {
	Client *redis.Client
	// TTL is how long a lock lives without being released. Defaults to 30s.
	TTL time.Duration
	// PollInterval is the wait between acquisition attempts. Defaults to 50ms.
	PollInterval time.Duration
	// MaxWait bounds how long Acquire waits before giving up. Defaults to TTL.
	MaxWait   time.Duration
	KeyPrefix string
	Logger    *zap.Logger
}

// NewRedisLocker creates a new RedisLocker
func NewRedisLocker(cfg RedisLockerConfig) *RedisLocker {
	l := &RedisLocker{
		client:       cfg.Client,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		keyPrefix:    cfg.KeyPrefix,
		logger:       cfg.Logger,
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.pollInterval <= 0 {
		l.pollInterval = 50 * time.Millisecond
	}
	if l.maxWait <= 0 {
		l.maxWait = l.ttl
	}
	if l.keyPrefix == "" {
		l.keyPrefix = defaultLockPrefix
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Acquire polls SET NX until the key is free, ctx is done or MaxWait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, shared.NewDomainError(shared.CodeUnavailable,
				fmt.Sprintf("lock %s is held by another process", key))
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lock; it will expire on its own",
				zap.String("key", redisKey),
				zap.Duration("ttl", l.ttl),
				zap.Error(err))
		}
	}
}

var _ shared.Locker = (*RedisLocker)(nil)
