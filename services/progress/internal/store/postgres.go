package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Schema creates the tables the Postgres repository relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS lecture_progress (
  user_id            TEXT        NOT NULL,
  lecture_id         TEXT        NOT NULL,
  status             TEXT        NOT NULL DEFAULT 'in_progress',
  time_spent_sec     INTEGER     NOT NULL DEFAULT 0,
  scrolled_to_bottom BOOLEAN     NOT NULL DEFAULT FALSE,
  started_at         TIMESTAMPTZ NOT NULL,
  completed_at       TIMESTAMPTZ,
  updated_at         TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (user_id, lecture_id)
);
CREATE INDEX IF NOT EXISTS lecture_progress_user_updated_idx
  ON lecture_progress (user_id, updated_at DESC, lecture_id DESC);
CREATE TABLE IF NOT EXISTS processed_events (
  event_id   TEXT PRIMARY KEY,
  subject    TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  payload    JSONB
);`

// PostgresRepository is the production Postgres-backed implementation.
type PostgresRepository struct {
	db        *pgxpool.Pool
	threshold int
}

func NewPostgresRepository(db *pgxpool.Pool, completeThreshold int) *PostgresRepository {
	return &PostgresRepository{db: db, threshold: completeThreshold}
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return err
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

const selectColumns = `user_id, lecture_id, status, time_spent_sec, scrolled_to_bottom, started_at, completed_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var st string
	err := row.Scan(&rec.UserID, &rec.LectureID, &st, &rec.TimeSpentSec, &rec.ScrolledToBottom,
		&rec.StartedAt, &rec.CompletedAt, &rec.UpdatedAt)
	rec.Status = Status(st)
	return rec, err
}

func (r *PostgresRepository) Start(ctx context.Context, userID, lectureID string) (Record, bool, error) {
	ts := now()
	tag, err := r.db.Exec(ctx, `
INSERT INTO lecture_progress (user_id, lecture_id, status, started_at, updated_at)
VALUES ($1, $2, 'in_progress', $3, $3)
ON CONFLICT (user_id, lecture_id) DO NOTHING`, userID, lectureID, ts)
	if err != nil {
		return Record{}, false, status.Error(codes.Internal, "db")
	}
	rec, err := r.Get(ctx, userID, lectureID)
	if err != nil {
		return Record{}, false, err
	}
	return rec, tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ApplyDelta(ctx context.Context, userID, lectureID string, d Delta) (Result, error) {
	var res Result
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		res, err = r.applyTx(ctx, tx, userID, lectureID, d)
		return err
	})
	if err != nil {
		return Result{}, status.Error(codes.Internal, "db")
	}
	return res, nil
}

// applyTx locks the row, folds the delta in Go and writes the row back, so
// both repositories share one completion rule.
func (r *PostgresRepository) applyTx(ctx context.Context, tx pgx.Tx, userID, lectureID string, d Delta) (Result, error) {
	ts := now()
	if _, err := tx.Exec(ctx, `
INSERT INTO lecture_progress (user_id, lecture_id, status, started_at, updated_at)
VALUES ($1, $2, 'in_progress', $3, $3)
ON CONFLICT (user_id, lecture_id) DO NOTHING`, userID, lectureID, ts); err != nil {
		return Result{}, err
	}

	rec, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM lecture_progress WHERE user_id=$1 AND lecture_id=$2 FOR UPDATE`,
		userID, lectureID))
	if err != nil {
		return Result{}, err
	}

	res := apply(rec, d, r.threshold, ts)
	out := res.Record
	_, err = tx.Exec(ctx, `
UPDATE lecture_progress
SET status=$3, time_spent_sec=$4, scrolled_to_bottom=$5, completed_at=$6, updated_at=$7
WHERE user_id=$1 AND lecture_id=$2`,
		userID, lectureID, string(out.Status), out.TimeSpentSec, out.ScrolledToBottom, out.CompletedAt, out.UpdatedAt)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, lectureID string) (Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM lecture_progress WHERE user_id=$1 AND lecture_id=$2`,
		userID, lectureID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, status.Error(codes.NotFound, "progress not found")
	}
	if err != nil {
		return Record{}, status.Error(codes.Internal, "db")
	}
	return rec, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, limit int, cursor *Cursor) ([]Record, error) {
	q := `SELECT ` + selectColumns + ` FROM lecture_progress WHERE user_id=$1`
	args := []any{userID}

	if cursor != nil {
		q += " AND (updated_at, lecture_id) < ($2, $3)"
		args = append(args, cursor.UpdatedAt, cursor.LectureID)
	}
	q += " ORDER BY updated_at DESC, lecture_id DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, status.Error(codes.Internal, "db")
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	return out, nil
}

// ApplyEvents records each event id in processed_events inside the batch
// transaction; ids already present are skipped.
func (r *PostgresRepository) ApplyEvents(ctx context.Context, events []DeltaEvent) ([]Result, error) {
	var out []Result
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		out = out[:0]
		for _, ev := range events {
			ct, err := tx.Exec(ctx,
				`INSERT INTO processed_events (event_id, subject, created_at, payload) VALUES ($1,$2,$3,$4) ON CONFLICT (event_id) DO NOTHING`,
				ev.EventID, ev.Subject, ev.CreatedAt, ev.Payload)
			if err != nil {
				return err
			}
			if ct.RowsAffected() == 0 {
				continue
			}
			res, err := r.applyTx(ctx, tx, ev.UserID, ev.LectureID, ev.Delta)
			if err != nil {
				return err
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
