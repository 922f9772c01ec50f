package engagement

import "context"

// Status is the server-side progress status of a lecture.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Delta is the engagement accumulated since the last successful sync.
type Delta struct {
	TimeDelta        int  `json:"time_delta"`
	ScrolledToBottom bool `json:"scrolled_to_bottom"`
}

// ProgressData is the server's view of a learner's progress on one lecture.
type ProgressData struct {
	Status           Status `json:"status"`
	TimeSpentSec     int    `json:"time_spent_sec"`
	ScrolledToBottom bool   `json:"scrolled_to_bottom"`
}

// PushResult is the reply to PushDelta. Data may be nil when the server
// accepted the delta without returning the accumulated record.
type PushResult struct {
	Success bool          `json:"success"`
	Data    *ProgressData `json:"data,omitempty"`
}

// ProgressClient is the remote progress store. The server sums deltas and
// decides completion; implementations must not retry on their own.
type ProgressClient interface {
	// StartSession notifies that viewing began. Best effort.
	StartSession(ctx context.Context, lectureID string) error
	PushDelta(ctx context.Context, lectureID string, d Delta) (PushResult, error)
}
