package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/platform/api"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
	"github.com/example/course-platform/services/progress/internal/publisher"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxLectureIDLength   = 200
)

type pushDeltaRequest struct {
	TimeDelta        *int64 `json:"time_delta"`
	ScrolledToBottom bool   `json:"scrolled_to_bottom"`
}

// progressData is the wire shape the tracking engine reads back.
type progressData struct {
	Status           string `json:"status"`
	TimeSpentSec     int64  `json:"time_spent_sec"`
	ScrolledToBottom bool   `json:"scrolled_to_bottom"`
	LectureID        string `json:"lecture_id,omitempty"`
	StartedAtMs      int64  `json:"started_at_ms,omitempty"`
	CompletedAtMs    int64  `json:"completed_at_ms,omitempty"`
	UpdatedAtMs      int64  `json:"updated_at_ms,omitempty"`
}

type listResponse struct {
	Items      []progressData `json:"items"`
	Limit      int32          `json:"limit"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toData(p *progressv1.LectureProgress) progressData {
	if p == nil {
		return progressData{}
	}
	return progressData{
		Status:           p.Status,
		TimeSpentSec:     p.TimeSpentSec,
		ScrolledToBottom: p.ScrolledToBottom,
		LectureID:        p.LectureID,
		StartedAtMs:      p.StartedAtMs,
		CompletedAtMs:    p.CompletedAtMs,
		UpdatedAtMs:      p.UpdatedAtMs,
	}
}

type Progress struct {
	API       progressv1.ProgressServiceServer
	Publisher *publisher.EventPublisher
	Log       *zap.Logger
	// MaxDeltaSeconds bounds time_delta on the async path, where the service
	// does not see the request.
	MaxDeltaSeconds int64
}

func (h *Progress) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *Progress) Routes(r chi.Router) {
	r.Post("/v1/lectures/{lecture_id}/start", h.StartLecture)
	r.Post("/v1/lectures/{lecture_id}/progress", h.PushDelta)
	r.Get("/v1/lectures/{lecture_id}/progress", h.GetProgress)
	r.Get("/v1/progress", h.ListProgress)
}

func (h *Progress) StartLecture(w http.ResponseWriter, r *http.Request) {
	uid, rid, ok := requireUser(w, r)
	if !ok {
		return
	}
	_, err := h.API.StartLecture(r.Context(), &progressv1.StartLectureRequest{
		UserID:    uid,
		LectureID: chi.URLParam(r, "lecture_id"),
	})
	if err != nil {
		writeGRPCError(w, rid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Progress) PushDelta(w http.ResponseWriter, r *http.Request) {
	uid, rid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req pushDeltaRequest
	if !decodeJSON(w, r, rid, &req) {
		return
	}
	if req.TimeDelta == nil {
		api.BadRequest(w, api.CodeValidation, "time_delta is required", rid, map[string]any{"time_delta": "required"})
		return
	}
	if *req.TimeDelta < 0 {
		api.BadRequest(w, api.CodeValidation, "time_delta must not be negative", rid, map[string]any{"time_delta": "must be >= 0"})
		return
	}
	lectureID := strings.TrimSpace(chi.URLParam(r, "lecture_id"))
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	// Async path: the consumer applies the delta later.
	if h.Publisher.Enabled() {
		if lectureID == "" || len(lectureID) > maxLectureIDLength {
			api.BadRequest(w, api.CodeValidation, "invalid lecture_id", rid, nil)
			return
		}
		td := *req.TimeDelta
		if h.MaxDeltaSeconds > 0 && td > h.MaxDeltaSeconds {
			td = h.MaxDeltaSeconds
		}
		eventID, err := h.Publisher.PublishDelta(publisher.DeltaMessage{
			EventID:          key,
			UserID:           uid,
			LectureID:        lectureID,
			TimeDelta:        int(td),
			ScrolledToBottom: req.ScrolledToBottom,
		})
		if err != nil {
			h.log().Error("publish delta failed", zap.String("lecture_id", lectureID), zap.Error(err))
			api.WriteError(w, http.StatusServiceUnavailable, "EVENT_PUBLISH_FAILED", "failed to publish event", rid, nil)
			return
		}
		w.Header().Set("X-Event-ID", eventID)
		api.WriteJSON(w, http.StatusAccepted, api.Envelope{Success: true})
		return
	}

	resp, err := h.API.PushDelta(r.Context(), &progressv1.PushDeltaRequest{
		UserID:           uid,
		LectureID:        lectureID,
		TimeDelta:        *req.TimeDelta,
		ScrolledToBottom: req.ScrolledToBottom,
		IdempotencyKey:   key,
	})
	if err != nil {
		writeGRPCError(w, rid, err)
		return
	}
	if resp.Duplicate {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	api.WriteData(w, http.StatusOK, toData(resp.Progress))
}

func (h *Progress) GetProgress(w http.ResponseWriter, r *http.Request) {
	uid, rid, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := h.API.GetProgress(r.Context(), &progressv1.GetProgressRequest{
		UserID:    uid,
		LectureID: chi.URLParam(r, "lecture_id"),
	})
	if err != nil {
		writeGRPCError(w, rid, err)
		return
	}
	api.WriteData(w, http.StatusOK, toData(resp.Progress))
}

func (h *Progress) ListProgress(w http.ResponseWriter, r *http.Request) {
	uid, rid, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := int32(25)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if n < 1 {
				n = 1
			}
			if n > 100 {
				n = 100
			}
			limit = int32(n)
		}
	}

	resp, err := h.API.ListProgress(r.Context(), &progressv1.ListProgressRequest{
		UserID: uid,
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeGRPCError(w, rid, err)
		return
	}

	out := listResponse{Limit: resp.Limit, NextCursor: resp.NextCursor, Items: make([]progressData, 0, len(resp.Items))}
	for _, p := range resp.Items {
		out.Items = append(out.Items, toData(p))
	}
	api.WriteData(w, http.StatusOK, out)
}
