package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type memKey struct {
	userID    string
	lectureID string
}

// MemoryRepository keeps progress in process memory. Development and tests
// only: nothing survives a restart.
type MemoryRepository struct {
	mu        sync.Mutex
	threshold int
	now       func() time.Time
	records   map[memKey]Record
	processed map[string]struct{}
}

func NewMemoryRepository(completeThreshold int) *MemoryRepository {
	return &MemoryRepository{
		threshold: completeThreshold,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		records:   make(map[memKey]Record),
		processed: make(map[string]struct{}),
	}
}

func (r *MemoryRepository) Start(_ context.Context, userID, lectureID string) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memKey{userID, lectureID}
	if rec, ok := r.records[k]; ok {
		return rec, false, nil
	}
	now := r.now()
	rec := Record{
		UserID:    userID,
		LectureID: lectureID,
		Status:    StatusInProgress,
		StartedAt: now,
		UpdatedAt: now,
	}
	r.records[k] = rec
	return rec, true, nil
}

func (r *MemoryRepository) ApplyDelta(_ context.Context, userID, lectureID string, d Delta) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(userID, lectureID, d), nil
}

func (r *MemoryRepository) applyLocked(userID, lectureID string, d Delta) Result {
	k := memKey{userID, lectureID}
	rec, ok := r.records[k]
	if !ok {
		rec = Record{UserID: userID, LectureID: lectureID}
	}
	res := apply(rec, d, r.threshold, r.now())
	r.records[k] = res.Record
	return res
}

func (r *MemoryRepository) Get(_ context.Context, userID, lectureID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[memKey{userID, lectureID}]
	if !ok {
		return Record{}, status.Error(codes.NotFound, "progress not found")
	}
	return rec, nil
}

func (r *MemoryRepository) List(_ context.Context, userID string, limit int, cursor *Cursor) ([]Record, error) {
	r.mu.Lock()
	var all []Record
	for k, rec := range r.records {
		if k.userID == userID {
			all = append(all, rec)
		}
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].LectureID > all[j].LectureID
	})

	out := make([]Record, 0, limit)
	for _, rec := range all {
		if cursor != nil && !before(rec, *cursor) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// before reports whether rec sorts strictly after the cursor position in
// (updated_at DESC, lecture_id DESC) order.
func before(rec Record, c Cursor) bool {
	if rec.UpdatedAt.Equal(c.UpdatedAt) {
		return rec.LectureID < c.LectureID
	}
	return rec.UpdatedAt.Before(c.UpdatedAt)
}

func (r *MemoryRepository) ApplyEvents(_ context.Context, events []DeltaEvent) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Result
	for _, ev := range events {
		if _, seen := r.processed[ev.EventID]; seen {
			continue
		}
		r.processed[ev.EventID] = struct{}{}
		out = append(out, r.applyLocked(ev.UserID, ev.LectureID, ev.Delta))
	}
	return out, nil
}
