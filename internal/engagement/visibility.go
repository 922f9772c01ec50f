package engagement

import "go.uber.org/zap"

// VisibilityState mirrors the host page visibility.
type VisibilityState string

const (
	VisibilityVisible VisibilityState = "visible"
	VisibilityHidden  VisibilityState = "hidden"
)

// onVisibility only gates the clock; it never flushes or resets counters.
func (s *Session) onVisibility(v VisibilityState) {
	visible := v == VisibilityVisible
	if visible == s.state.visible {
		return
	}
	s.state.visible = visible
	s.log.Debug("visibility changed", zap.String("state", string(v)))
}
