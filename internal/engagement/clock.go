package engagement

import "time"

// Ticker is the subset of *time.Ticker a session needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type stdTicker struct {
	t *time.Ticker
}

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker is the default TickerFunc backed by time.NewTicker.
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// onTick accounts one tick of visible engagement. Hidden ticks are dropped.
func (s *Session) onTick() {
	t := &s.state
	if !t.visible {
		return
	}
	t.unsyncedSeconds += s.cfg.tickSeconds()

	// Fallback detection for content that never scrolls or for scroll
	// events the host coalesced away.
	if s.measure != nil {
		if g, ok := s.measure(); ok && !g.IsZero() {
			t.geometry = g
			t.haveGeometry = true
		}
	}
	if t.detect(s.cfg) {
		s.log.Debug("scrolled to bottom on tick")
	}
	s.maybeEarlySync()
}
