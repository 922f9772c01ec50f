package engagement

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Trigger names what caused a sync.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerEarly    Trigger = "early"
	TriggerTeardown Trigger = "teardown"
)

var errPushRejected = errors.New("progress push rejected")

type syncResult struct {
	trigger Trigger
	sent    Delta
	res     PushResult
	err     error
}

func (r syncResult) failed() error {
	if r.err != nil {
		return r.err
	}
	if !r.res.Success {
		return errPushRejected
	}
	return nil
}

// onPeriodic skips ticks with nothing to report.
func (s *Session) onPeriodic() {
	t := &s.state
	if t.unsyncedSeconds == 0 && !t.scrolledToBottom {
		return
	}
	s.startSync(s.callCtx, TriggerPeriodic)
}

// maybeEarlySync fires once, as soon as completion looks reachable, so a
// fast reader does not wait for the next periodic tick.
func (s *Session) maybeEarlySync() {
	t := &s.state
	if t.earlySyncSent || t.completed || !t.scrolledToBottom {
		return
	}
	if t.unsyncedSeconds < s.cfg.minCompleteSeconds() {
		return
	}
	if s.startSync(s.callCtx, TriggerEarly) {
		t.earlySyncSent = true
	}
}

// startSync snapshots the delta and pushes it off the owner goroutine. A
// trigger that fires while a push is outstanding is dropped; the next one
// carries the accumulated time.
func (s *Session) startSync(ctx context.Context, trigger Trigger) bool {
	t := &s.state
	if t.syncInFlight {
		s.log.Debug("sync coalesced", zap.String("trigger", string(trigger)))
		return false
	}
	d := Delta{TimeDelta: t.unsyncedSeconds, ScrolledToBottom: t.scrolledToBottom}
	t.syncInFlight = true

	go func() {
		res, err := s.client.PushDelta(ctx, s.lectureID, d)
		r := syncResult{trigger: trigger, sent: d, res: res, err: err}
		select {
		case s.results <- r:
		case <-s.done:
			// session is dead; nobody applies this result
		}
	}()
	return true
}

// applyResult folds a finished push back into the session. It reports the
// server data that should reach the completion callback, if any.
func (s *Session) applyResult(r syncResult) *ProgressData {
	t := &s.state
	t.syncInFlight = false

	if err := r.failed(); err != nil {
		s.log.Warn("progress sync failed",
			zap.String("trigger", string(r.trigger)),
			zap.Int("time_delta", r.sent.TimeDelta),
			zap.Error(err))
		return nil
	}

	// Subtract what was sent: time counted while the push was in flight
	// must survive.
	t.unsyncedSeconds -= r.sent.TimeDelta
	if t.unsyncedSeconds < 0 {
		t.unsyncedSeconds = 0
	}

	if r.res.Data == nil {
		return nil
	}
	data := *r.res.Data
	t.lastServer = &data
	if data.Status == StatusCompleted && !t.completed {
		t.completed = true
		s.log.Info("lecture completed", zap.Int("time_spent_sec", data.TimeSpentSec))
	}
	return &data
}

func (s *Session) onResult(r syncResult) {
	if data := s.applyResult(r); data != nil && s.onProgress != nil {
		s.onProgress(s.lectureID, *data)
	}
	// An early sync dropped while this push was outstanding gets its turn now.
	s.maybeEarlySync()
}
