package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "progress:idempotent:"

// redisStore claims keys with SET NX so concurrent pushes carrying the same
// key across instances see exactly one winner.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(dsn string, ttl time.Duration) *redisStore {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return &redisStore{client: redis.NewClient(opts), ttl: ttl}
}

func (s *redisStore) Check(ctx context.Context, key string) (bool, error) {
	claimed, err := s.client.SetNX(ctx, redisKeyPrefix+key, time.Now().UnixMilli(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return !claimed, nil
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Ping backs the readiness probe.
func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error { return s.client.Close() }
