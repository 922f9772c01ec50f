// Package progressv1 holds the wire types and gRPC bindings of
// course.progress.v1.ProgressService. Messages travel as JSON.
package progressv1

type LectureProgress struct {
	UserID           string `json:"user_id"`
	LectureID        string `json:"lecture_id"`
	Status           string `json:"status"`
	TimeSpentSec     int64  `json:"time_spent_sec"`
	ScrolledToBottom bool   `json:"scrolled_to_bottom"`
	StartedAtMs      int64  `json:"started_at_ms"`
	CompletedAtMs    int64  `json:"completed_at_ms,omitempty"`
	UpdatedAtMs      int64  `json:"updated_at_ms"`
}

type StartLectureRequest struct {
	UserID    string `json:"user_id"`
	LectureID string `json:"lecture_id"`
}

type StartLectureResponse struct {
	Progress *LectureProgress `json:"progress"`
	Created  bool             `json:"created"`
}

type PushDeltaRequest struct {
	UserID           string `json:"user_id"`
	LectureID        string `json:"lecture_id"`
	TimeDelta        int64  `json:"time_delta"`
	ScrolledToBottom bool   `json:"scrolled_to_bottom"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

type PushDeltaResponse struct {
	Progress *LectureProgress `json:"progress"`
	// Completed is true only on the push that completed the lecture.
	Completed bool `json:"completed"`
	// Duplicate is true when the idempotency key was already used and the
	// delta was not applied again.
	Duplicate bool `json:"duplicate"`
}

type GetProgressRequest struct {
	UserID    string `json:"user_id"`
	LectureID string `json:"lecture_id"`
}

type GetProgressResponse struct {
	Progress *LectureProgress `json:"progress"`
}

type ListProgressRequest struct {
	UserID string `json:"user_id"`
	Limit  int32  `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type ListProgressResponse struct {
	Items      []*LectureProgress `json:"items"`
	Limit      int32              `json:"limit"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func (p *LectureProgress) GetStatus() string {
	if p == nil {
		return ""
	}
	return p.Status
}

func (r *PushDeltaResponse) GetProgress() *LectureProgress {
	if r == nil {
		return nil
	}
	return r.Progress
}
