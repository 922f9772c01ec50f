package grpcapi

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/course-platform/internal/platform/analytics"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
	"github.com/example/course-platform/services/progress/internal/idempotency"
	"github.com/example/course-platform/services/progress/internal/store"
)

const (
	DefaultMaxDeltaSeconds = 3600
	maxIDLength            = 200
)

type ProgressService struct {
	progressv1.UnimplementedProgressServiceServer
	Progress    store.Repository
	Idempotency idempotency.Store
	Analytics   *analytics.Publisher
	Log         *zap.Logger
	// MaxDeltaSeconds caps a single push; zero means DefaultMaxDeltaSeconds.
	MaxDeltaSeconds int
}

func (s *ProgressService) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *ProgressService) StartLecture(ctx context.Context, req *progressv1.StartLectureRequest) (*progressv1.StartLectureResponse, error) {
	userID, lectureID, err := validateIDs(req.UserID, req.LectureID)
	if err != nil {
		return nil, err
	}
	rec, created, err := s.Progress.Start(ctx, userID, lectureID)
	if err != nil {
		return nil, err
	}
	if created {
		s.Analytics.Publish(analytics.SubjectLectureStarted, "lecture_started", userID, map[string]any{
			"lecture_id": lectureID,
		})
	}
	return &progressv1.StartLectureResponse{Progress: ToProto(rec), Created: created}, nil
}

func (s *ProgressService) PushDelta(ctx context.Context, req *progressv1.PushDeltaRequest) (resp *progressv1.PushDeltaResponse, err error) {
	userID, lectureID, err := validateIDs(req.UserID, req.LectureID)
	if err != nil {
		return nil, err
	}
	delta, err := s.NormalizeDelta(userID, lectureID, req.TimeDelta, req.ScrolledToBottom)
	if err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" && s.Idempotency != nil {
		scoped := ScopedKey(userID, lectureID, key)
		dup, checkErr := s.Idempotency.Check(ctx, scoped)
		if checkErr != nil {
			s.log().Error("idempotency check failed", zap.String("lecture_id", lectureID), zap.Error(checkErr))
			return nil, status.Error(codes.Unavailable, "idempotency store unavailable")
		}
		if dup {
			rec, getErr := s.Progress.Get(ctx, userID, lectureID)
			if getErr != nil {
				return nil, getErr
			}
			return &progressv1.PushDeltaResponse{Progress: ToProto(rec), Duplicate: true}, nil
		}
		defer func() {
			if err == nil {
				return
			}
			if relErr := s.Idempotency.Release(context.WithoutCancel(ctx), scoped); relErr != nil {
				s.log().Warn("idempotency release failed", zap.Error(relErr))
			}
		}()
	}

	res, err := s.Progress.ApplyDelta(ctx, userID, lectureID, delta)
	if err != nil {
		return nil, err
	}
	if res.JustCompleted {
		s.PublishCompleted(res.Record)
	}
	return &progressv1.PushDeltaResponse{Progress: ToProto(res.Record), Completed: res.JustCompleted}, nil
}

func (s *ProgressService) GetProgress(ctx context.Context, req *progressv1.GetProgressRequest) (*progressv1.GetProgressResponse, error) {
	userID, lectureID, err := validateIDs(req.UserID, req.LectureID)
	if err != nil {
		return nil, err
	}
	rec, err := s.Progress.Get(ctx, userID, lectureID)
	if err != nil {
		return nil, err
	}
	return &progressv1.GetProgressResponse{Progress: ToProto(rec)}, nil
}

func (s *ProgressService) ListProgress(ctx context.Context, req *progressv1.ListProgressRequest) (*progressv1.ListProgressResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "invalid user_id")
	}

	limit := clampLimit(int(req.Limit), 25, 100)
	cursor := decodeCursor(req.Cursor)

	records, err := s.Progress.List(ctx, userID, limit, cursor)
	if err != nil {
		return nil, err
	}

	resp := &progressv1.ListProgressResponse{Limit: int32(limit), Items: make([]*progressv1.LectureProgress, 0, len(records))}
	for _, r := range records {
		resp.Items = append(resp.Items, ToProto(r))
	}
	if len(records) == limit {
		last := records[len(records)-1]
		resp.NextCursor = encodeCursor(last.UpdatedAt.UnixMilli(), last.LectureID)
	}
	return resp, nil
}

// NormalizeDelta rejects negative time and caps oversized pushes.
func (s *ProgressService) NormalizeDelta(userID, lectureID string, timeDelta int64, scrolled bool) (store.Delta, error) {
	if timeDelta < 0 {
		return store.Delta{}, status.Error(codes.InvalidArgument, "time_delta must not be negative")
	}
	maxDelta := s.MaxDeltaSeconds
	if maxDelta <= 0 {
		maxDelta = DefaultMaxDeltaSeconds
	}
	if timeDelta > int64(maxDelta) {
		s.log().Warn("time_delta capped",
			zap.String("user_id", userID),
			zap.String("lecture_id", lectureID),
			zap.Int64("time_delta", timeDelta),
			zap.Int("max", maxDelta),
		)
		timeDelta = int64(maxDelta)
	}
	return store.Delta{TimeDelta: int(timeDelta), ScrolledToBottom: scrolled}, nil
}

// PublishCompleted emits the lecture_completed analytics event.
func (s *ProgressService) PublishCompleted(rec store.Record) {
	s.Analytics.Publish(analytics.SubjectLectureCompleted, "lecture_completed", rec.UserID, map[string]any{
		"lecture_id":     rec.LectureID,
		"time_spent_sec": rec.TimeSpentSec,
	})
}

// ScopedKey binds an idempotency key to one learner and lecture.
func ScopedKey(userID, lectureID, key string) string {
	return userID + ":" + lectureID + ":" + key
}

func validateIDs(userID, lectureID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	lectureID = strings.TrimSpace(lectureID)
	if userID == "" || len(userID) > maxIDLength {
		return "", "", status.Error(codes.InvalidArgument, "invalid user_id")
	}
	if lectureID == "" || len(lectureID) > maxIDLength {
		return "", "", status.Error(codes.InvalidArgument, "invalid lecture_id")
	}
	return userID, lectureID, nil
}

func ToProto(r store.Record) *progressv1.LectureProgress {
	out := &progressv1.LectureProgress{
		UserID:           r.UserID,
		LectureID:        r.LectureID,
		Status:           string(r.Status),
		TimeSpentSec:     int64(r.TimeSpentSec),
		ScrolledToBottom: r.ScrolledToBottom,
		StartedAtMs:      r.StartedAt.UnixMilli(),
		UpdatedAtMs:      r.UpdatedAt.UnixMilli(),
	}
	if r.CompletedAt != nil {
		out.CompletedAtMs = r.CompletedAt.UnixMilli()
	}
	return out
}

// encodeCursor encodes updated_at millis and lecture id as a base64 opaque cursor.
func encodeCursor(tsMs int64, lectureID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(tsMs, 10) + ":" + lectureID))
}

// decodeCursor parses the opaque cursor produced by encodeCursor.
func decodeCursor(raw string) *store.Cursor {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil
	}
	return &store.Cursor{
		UpdatedAt: time.UnixMilli(ts).UTC(),
		LectureID: parts[1],
	}
}

func clampLimit(v, def, maxVal int) int {
	if v <= 0 {
		return def
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
