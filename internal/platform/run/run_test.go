package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWait_ExitCodes(t *testing.T) {
	r := New(zap.NewNop())

	assert.Equal(t, 0, r.wait(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, 0, r.wait(context.Background(), func(context.Context) error { return http.ErrServerClosed }))
	assert.Equal(t, 1, r.wait(context.Background(), func(context.Context) error { return errors.New("bind failed") }))
}

func TestWait_ContextCancelled(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := r.wait(ctx, func(ctx context.Context) error {
		<-time.After(time.Second)
		return errors.New("late")
	})
	assert.Equal(t, 0, code)
}

func TestGraceful_RunsHooksInOrder(t *testing.T) {
	r := New(zap.NewNop())
	r.ShutdownTimeout = time.Second

	var order []string
	r.Graceful(
		func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			order = append(order, "http")
			return nil
		},
		nil,
		func(context.Context) error {
			order = append(order, "nats")
			return errors.New("drain failed")
		},
		func(context.Context) error {
			order = append(order, "db")
			return nil
		},
	)
	assert.Equal(t, []string{"http", "nats", "db"}, order)
}
