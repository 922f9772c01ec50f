// Package idempotency deduplicates Idempotency-Key values on progress pushes.
//
// Primary backend: Redis SETNX with TTL (env REDIS_DSN).
// Fallback: Postgres INSERT ... ON CONFLICT on processed_events.
// If neither is available, an in-memory store is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultTTL = 24 * time.Hour

// Store checks whether a key has already been used and marks it.
type Store interface {
	// Check returns true if key was already used.
	// If not seen, it atomically marks it as used.
	Check(ctx context.Context, key string) (duplicate bool, err error)
	// Release forgets key so a failed request can be retried with it.
	Release(ctx context.Context, key string) error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStore creates the best available idempotency store:
// Redis > Postgres > in-memory (dev fallback).
// When isProd is true, in-memory fallback is not allowed and the function
// returns nil with an error.
func NewStore(redisDSN string, pool *pgxpool.Pool, ttl time.Duration, isProd bool) (Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if redisDSN != "" {
		return newRedisStore(redisDSN, ttl), nil
	}
	if pool != nil {
		return newPostgresStore(pool, ttl), nil
	}
	if isProd {
		return nil, errors.New("production requires REDIS_DSN or DATABASE_URL for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(ttl), nil
}
