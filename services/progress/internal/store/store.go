package store

import (
	"context"
	"time"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Record is the server-side progress of one learner on one lecture.
type Record struct {
	UserID           string
	LectureID        string
	Status           Status
	TimeSpentSec     int
	ScrolledToBottom bool
	StartedAt        time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}

// Delta is one accumulated report from a tracking session.
type Delta struct {
	TimeDelta        int
	ScrolledToBottom bool
}

// Result of applying a delta. JustCompleted is set only on the call that
// moved the record to completed.
type Result struct {
	Record        Record
	JustCompleted bool
}

// DeltaEvent is a delta delivered through the event stream.
type DeltaEvent struct {
	EventID   string
	Subject   string
	UserID    string
	LectureID string
	Delta     Delta
	CreatedAt time.Time
	Payload   []byte
}

// Cursor is the decoded form of the opaque pagination cursor.
type Cursor struct {
	UpdatedAt time.Time
	LectureID string
}

// Repository defines persistence operations for lecture progress.
type Repository interface {
	// Start creates an in_progress record if none exists. created reports
	// whether this call inserted it.
	Start(ctx context.Context, userID, lectureID string) (rec Record, created bool, err error)
	// ApplyDelta accumulates d into the record, creating it when missing.
	ApplyDelta(ctx context.Context, userID, lectureID string, d Delta) (Result, error)
	// Get returns codes.NotFound when the learner never opened the lecture.
	Get(ctx context.Context, userID, lectureID string) (Record, error)
	// List returns up to limit records ordered by updated_at DESC.
	// cursor, if non-nil, acts as an exclusive lower bound for keyset pagination.
	List(ctx context.Context, userID string, limit int, cursor *Cursor) ([]Record, error)
	// ApplyEvents applies a batch atomically and skips events whose id was
	// already processed. Results hold one entry per newly applied event.
	ApplyEvents(ctx context.Context, events []DeltaEvent) ([]Result, error)
}

// apply folds d into rec. Completion needs both the time threshold and the
// scroll flag, and once reached it is never undone.
func apply(rec Record, d Delta, threshold int, now time.Time) Result {
	rec.TimeSpentSec += d.TimeDelta
	rec.ScrolledToBottom = rec.ScrolledToBottom || d.ScrolledToBottom
	rec.UpdatedAt = now
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.Status == "" {
		rec.Status = StatusInProgress
	}

	justCompleted := false
	if rec.Status != StatusCompleted && rec.TimeSpentSec >= threshold && rec.ScrolledToBottom {
		rec.Status = StatusCompleted
		t := now
		rec.CompletedAt = &t
		justCompleted = true
	}
	return Result{Record: rec, JustCompleted: justCompleted}
}
