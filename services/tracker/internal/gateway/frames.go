package gateway

import "github.com/example/course-platform/internal/engagement"

// Client frame types.
const (
	FrameScroll     = "scroll"
	FrameLayout     = "layout"
	FrameVisibility = "visibility"
	FrameSnapshot   = "snapshot"
	FrameShow       = "show"
)

// Server frame types.
const (
	FrameProgress = "progress"
	FrameError    = "error"
)

// clientFrame is any message from the lecture page. Geometry fields are set
// on scroll and layout frames, State on visibility frames and LectureID on
// show frames.
type clientFrame struct {
	Type string `json:"type"`
	engagement.Geometry
	State     string `json:"state,omitempty"`
	LectureID string `json:"lecture_id,omitempty"`
}

type serverFrame struct {
	Type      string                   `json:"type"`
	LectureID string                   `json:"lecture_id,omitempty"`
	Progress  *engagement.ProgressData `json:"progress,omitempty"`
	Snapshot  *engagement.Snapshot     `json:"snapshot,omitempty"`
	Error     string                   `json:"error,omitempty"`
}
