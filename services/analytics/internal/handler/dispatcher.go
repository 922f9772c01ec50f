// Package handler turns analytics.* messages into PostHog captures.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/platform/analytics"
)

const anonymousID = "anonymous"

var ErrMalformed = errors.New("malformed analytics event")

// Capturer is the subset of the PostHog client the dispatcher needs.
type Capturer interface {
	Capture(distinctID, event string, props map[string]any)
}

type Dispatcher struct {
	ph  Capturer
	log *zap.Logger
}

func New(ph Capturer, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{ph: ph, log: log}
}

// Dispatch captures msg. Unknown subjects are skipped; malformed payloads
// return ErrMalformed and should be acked anyway since a replay cannot fix them.
func (d *Dispatcher) Dispatch(msg *nats.Msg) error {
	var ev analytics.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		d.log.Error("analytics: unmarshal message", zap.String("subject", msg.Subject), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var props map[string]any
	switch msg.Subject {
	case analytics.SubjectLectureStarted:
		props = lectureProps(ev, "lecture_id")
	case analytics.SubjectLectureCompleted:
		props = lectureProps(ev, "lecture_id", "time_spent_sec")
	case analytics.SubjectTrackerConnected:
		props = lectureProps(ev, "lecture_id")
		props["transport"] = "websocket"
	default:
		d.log.Debug("analytics: unhandled subject", zap.String("subject", msg.Subject))
		return nil
	}
	if ev.EventName == "" {
		return fmt.Errorf("%w: missing event_name", ErrMalformed)
	}

	distinctID := ev.UserID
	if distinctID == "" {
		distinctID = anonymousID
	}
	props["event_id"] = ev.EventID
	if !ev.OccurredAt.IsZero() {
		props["occurred_at"] = ev.OccurredAt
	}
	d.ph.Capture(distinctID, ev.EventName, props)
	return nil
}

func lectureProps(ev analytics.Event, keys ...string) map[string]any {
	out := make(map[string]any, len(keys)+3)
	for _, k := range keys {
		if v, ok := ev.Properties[k]; ok {
			out[k] = v
		}
	}
	return out
}
