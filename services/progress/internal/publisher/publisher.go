package publisher

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/course-platform/internal/platform/analytics"
	"github.com/example/course-platform/internal/platform/natsconn"
)

const (
	SubjectDelta = "progress.delta"
	StreamName   = "PROGRESS"
)

var ErrAsyncPublishDisabled = errors.New("async publish is disabled")

// DeltaMessage is the payload published on progress.delta.
type DeltaMessage struct {
	EventID          string    `json:"event_id"`
	UserID           string    `json:"user_id"`
	LectureID        string    `json:"lecture_id"`
	TimeDelta        int       `json:"time_delta"`
	ScrolledToBottom bool      `json:"scrolled_to_bottom"`
	CreatedAt        time.Time `json:"created_at"`
}

type EventPublisher struct {
	js          nats.JetStreamContext
	asyncWrites bool
}

func NewEventPublisher(js nats.JetStreamContext, asyncWrites bool) *EventPublisher {
	return &EventPublisher{js: js, asyncWrites: asyncWrites}
}

func (p *EventPublisher) Enabled() bool {
	return p != nil && p.js != nil && p.asyncWrites
}

// PublishDelta publishes msg and returns its event id. An empty EventID is
// filled with a fresh uuid; callers pass the idempotency key to get
// end-to-end deduplication in the consumer.
func (p *EventPublisher) PublishDelta(msg DeltaMessage) (string, error) {
	if !p.Enabled() {
		return "", ErrAsyncPublishDisabled
	}
	if strings.TrimSpace(msg.EventID) == "" {
		msg.EventID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if _, err := p.js.Publish(SubjectDelta, body, nats.MsgId(msg.EventID)); err != nil {
		return "", err
	}
	return msg.EventID, nil
}

// EnsureStreams creates the progress and analytics streams when missing.
func EnsureStreams(js nats.JetStreamContext) error {
	if err := natsconn.EnsureStream(js, &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectDelta},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	}); err != nil {
		return err
	}
	return natsconn.EnsureStream(js, analytics.StreamConfig())
}
