package idempotency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSubject = "idempotency-key"

type postgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func newPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *postgresStore {
	return &postgresStore{pool: pool, ttl: ttl}
}

// Check uses INSERT ... ON CONFLICT to atomically deduplicate. An expired key
// is refreshed in place and treated as new.
func (s *postgresStore) Check(ctx context.Context, key string) (bool, error) {
	const q = `INSERT INTO processed_events (event_id, subject, created_at)
	           VALUES ($1, $2, now())
	           ON CONFLICT (event_id) DO UPDATE SET created_at = now()
	           WHERE processed_events.created_at < now() - make_interval(secs => $3)`

	tag, err := s.pool.Exec(ctx, q, postgresSubject+":"+key, postgresSubject, s.ttl.Seconds())
	if err != nil {
		return false, err
	}
	// RowsAffected == 0 means a live row already existed (duplicate).
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, postgresSubject+":"+key)
	return err
}
