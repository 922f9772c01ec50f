package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTicker fires only when the test says so. The channel is unbuffered, so
// a send returns once the session goroutine has taken the tick.
type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeTickers struct {
	mu      sync.Mutex
	tickers map[time.Duration]*fakeTicker
}

func newFakeTickers() *fakeTickers {
	return &fakeTickers{tickers: make(map[time.Duration]*fakeTicker)}
}

func (f *fakeTickers) New(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	f.tickers[d] = t
	return t
}

func (f *fakeTickers) get(d time.Duration) *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickers[d]
}

var errNetwork = errors.New("network down")

type pushCall struct {
	LectureID string
	Delta     Delta
}

// fakeClient records calls and answers pushes through respond. When gate is
// set, each push blocks until the test sends on it.
type fakeClient struct {
	mu       sync.Mutex
	starts   []string
	pushes   []pushCall
	respond  func(n int, d Delta) (PushResult, error)
	gate     chan struct{}
	startErr error
	pushed   chan pushCall
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		respond: func(int, Delta) (PushResult, error) {
			return PushResult{Success: true}, nil
		},
		pushed: make(chan pushCall, 1024),
	}
}

func (c *fakeClient) StartSession(_ context.Context, lectureID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, lectureID)
	return c.startErr
}

func (c *fakeClient) PushDelta(ctx context.Context, lectureID string, d Delta) (PushResult, error) {
	call := pushCall{LectureID: lectureID, Delta: d}
	c.mu.Lock()
	c.pushes = append(c.pushes, call)
	n := len(c.pushes)
	respond := c.respond
	gate := c.gate
	c.mu.Unlock()
	c.pushed <- call

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return PushResult{}, ctx.Err()
		}
	}
	return respond(n, d)
}

func (c *fakeClient) calls() []pushCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pushCall, len(c.pushes))
	copy(out, c.pushes)
	return out
}

func (c *fakeClient) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.starts)
}

func (c *fakeClient) setGate(g chan struct{}) {
	c.mu.Lock()
	c.gate = g
	c.mu.Unlock()
}

func (c *fakeClient) setRespond(fn func(n int, d Delta) (PushResult, error)) {
	c.mu.Lock()
	c.respond = fn
	c.mu.Unlock()
}

func completedAfter(threshold int) func(int, Delta) (PushResult, error) {
	total := 0
	bottom := false
	return func(_ int, d Delta) (PushResult, error) {
		total += d.TimeDelta
		bottom = bottom || d.ScrolledToBottom
		status := StatusInProgress
		if total >= threshold && bottom {
			status = StatusCompleted
		}
		return PushResult{Success: true, Data: &ProgressData{
			Status:           status,
			TimeSpentSec:     total,
			ScrolledToBottom: bottom,
		}}, nil
	}
}

type harness struct {
	t       *testing.T
	s       *Session
	client  *fakeClient
	tickers *fakeTickers
}

func newHarness(t *testing.T, client *fakeClient, opts ...Option) *harness {
	t.Helper()
	tickers := newFakeTickers()
	opts = append([]Option{WithTicker(tickers.New)}, opts...)
	s, err := New(context.Background(), "lecture-1", client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return &harness{t: t, s: s, client: client, tickers: tickers}
}

func (h *harness) tick(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.tickers.get(DefaultTickInterval).ch <- time.Now()
	}
}

func (h *harness) periodic() {
	h.t.Helper()
	h.tickers.get(DefaultSyncInterval).ch <- time.Now()
}

// expectPush waits for the next push the client sees.
func (h *harness) expectPush() pushCall {
	h.t.Helper()
	select {
	case c := <-h.client.pushed:
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatal("expected a push")
		return pushCall{}
	}
}

func (h *harness) expectNoPush() {
	h.t.Helper()
	select {
	case c := <-h.client.pushed:
		h.t.Fatalf("unexpected push: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

// settle waits until no push is outstanding.
func (h *harness) settle() Snapshot {
	h.t.Helper()
	var snap Snapshot
	require.Eventually(h.t, func() bool {
		snap = h.s.Snapshot()
		return !snap.SyncInFlight
	}, 2*time.Second, time.Millisecond)
	return snap
}

var bottomGeometry = Geometry{ScrollTop: 1500, ViewportHeight: 500, ScrollHeight: 2000}
var topGeometry = Geometry{ScrollTop: 0, ViewportHeight: 500, ScrollHeight: 2000}
