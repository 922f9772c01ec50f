package engagement

import (
	"context"
	"strings"
	"sync"
)

// View binds engagement tracking to one lecture view. It starts idle and
// creates a session the first time it is shown a lecture id. Showing another
// lecture tears the previous session down, final flush included.
type View struct {
	client ProgressClient
	opts   []Option

	mu      sync.Mutex
	current *Session
	closed  bool
}

func NewView(client ProgressClient, opts ...Option) *View {
	return &View{client: client, opts: opts}
}

// Show switches the view to lectureID. An empty id returns the view to idle.
func (v *View) Show(ctx context.Context, lectureID string) error {
	lectureID = strings.TrimSpace(lectureID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrSessionClosed
	}
	if v.current != nil && v.current.LectureID() == lectureID {
		return nil
	}

	var closeErr error
	if v.current != nil {
		closeErr = v.current.Close(ctx)
		v.current = nil
	}
	if lectureID == "" {
		return closeErr
	}

	s, err := New(ctx, lectureID, v.client, v.opts...)
	if err != nil {
		return err
	}
	v.current = s
	return closeErr
}

// Session returns the active session, or nil while idle.
func (v *View) Session() *Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *View) Scroll(g Geometry) {
	if s := v.Session(); s != nil {
		s.Scroll(g)
	}
}

func (v *View) SetVisibility(state VisibilityState) {
	if s := v.Session(); s != nil {
		s.SetVisibility(state)
	}
}

func (v *View) Snapshot() Snapshot {
	if s := v.Session(); s != nil {
		return s.Snapshot()
	}
	return Snapshot{State: StateIdle, Visible: true}
}

// Close tears down the active session. Further Show calls fail.
func (v *View) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	if v.current == nil {
		return nil
	}
	err := v.current.Close(ctx)
	v.current = nil
	return err
}
