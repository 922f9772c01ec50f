package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/course-platform/services/progress/internal/publisher"
	"github.com/example/course-platform/services/progress/internal/store"
)

const durableName = "progress_delta"

type Options struct {
	BatchSize     int
	BatchInterval time.Duration
	// MaxDeltaSeconds caps a single event, as on the synchronous path.
	MaxDeltaSeconds int
	// OnCompleted is called for each event that completed a lecture.
	OnCompleted func(store.Record)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = 2 * time.Second
	}
	return o
}

// StartDeltaConsumer pulls progress.delta in batches and applies each batch
// in one transaction, deduplicated by event id. A failed batch is Nak'ed as
// a whole so JetStream redelivers it.
func StartDeltaConsumer(ctx context.Context, js nats.JetStreamContext, repo store.Repository, log *zap.Logger, opts Options) error {
	opts = opts.withDefaults()
	sub, err := js.PullSubscribe(publisher.SubjectDelta, durableName)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", publisher.SubjectDelta, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(opts.BatchSize, nats.MaxWait(opts.BatchInterval))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				log.Warn("delta consumer: fetch error", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			if len(msgs) == 0 {
				continue
			}

			data := make([][]byte, len(msgs))
			for i, m := range msgs {
				data[i] = m.Data
			}
			results, err := processBatch(ctx, repo, data, opts.MaxDeltaSeconds, log)
			if err != nil {
				log.Error("delta consumer: batch failed", zap.Int("size", len(msgs)), zap.Error(err))
				for _, m := range msgs {
					if err := m.Nak(); err != nil {
						log.Warn("delta consumer: nak error", zap.Error(err))
					}
				}
				continue
			}

			for _, m := range msgs {
				if err := m.Ack(); err != nil {
					log.Warn("delta consumer: ack error", zap.Error(err))
				}
			}
			for _, res := range results {
				if res.JustCompleted && opts.OnCompleted != nil {
					opts.OnCompleted(res.Record)
				}
			}
		}
	}()
	return nil
}

// processBatch decodes and applies one batch. Malformed payloads are logged
// and dropped so a single bad message cannot block the stream.
func processBatch(ctx context.Context, repo store.Repository, batch [][]byte, maxDelta int, log *zap.Logger) ([]store.Result, error) {
	events := make([]store.DeltaEvent, 0, len(batch))
	for _, data := range batch {
		ev, err := decodeEvent(data, maxDelta)
		if err != nil {
			log.Warn("delta consumer: dropping invalid event", zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return repo.ApplyEvents(ctx, events)
}

func decodeEvent(data []byte, maxDelta int) (store.DeltaEvent, error) {
	var msg publisher.DeltaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return store.DeltaEvent{}, fmt.Errorf("invalid json: %w", err)
	}
	msg.EventID = strings.TrimSpace(msg.EventID)
	msg.UserID = strings.TrimSpace(msg.UserID)
	msg.LectureID = strings.TrimSpace(msg.LectureID)
	if msg.EventID == "" || msg.UserID == "" || msg.LectureID == "" {
		return store.DeltaEvent{}, errors.New("missing event_id, user_id or lecture_id")
	}
	if msg.TimeDelta < 0 {
		return store.DeltaEvent{}, errors.New("negative time_delta")
	}
	if maxDelta > 0 && msg.TimeDelta > maxDelta {
		msg.TimeDelta = maxDelta
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return store.DeltaEvent{
		EventID:   msg.EventID,
		Subject:   publisher.SubjectDelta,
		UserID:    msg.UserID,
		LectureID: msg.LectureID,
		Delta:     store.Delta{TimeDelta: msg.TimeDelta, ScrolledToBottom: msg.ScrolledToBottom},
		CreatedAt: msg.CreatedAt,
		Payload:   data,
	}, nil
}
