package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
	logger *zap.Logger
}

func NewRedis(rdb redis.UniversalClient, prefix string, logger *zap.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "lock:"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	l.logger.Debug("acquired lock", zap.String("key", fullKey))
	return &redisLock{rdb: l.rdb, key: fullKey, token: token}, nil
}

type redisLock struct {
	rdb   redis.UniversalClient
	key   string
	token string
}

func (k *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, k.rdb, []string{k.key}, k.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", k.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
