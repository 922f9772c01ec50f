package gateway

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/course-platform/internal/engagement"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/progressclient"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
)

type stubProgress struct {
	progressv1.UnimplementedProgressServiceServer
	mu     sync.Mutex
	starts []string
	pushes []*progressv1.PushDeltaRequest
	// gate, when set, holds every push until it is closed or the call ends.
	gate chan struct{}
}

func (s *stubProgress) StartLecture(_ context.Context, req *progressv1.StartLectureRequest) (*progressv1.StartLectureResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, req.LectureID)
	return &progressv1.StartLectureResponse{Created: true}, nil
}

func (s *stubProgress) PushDelta(ctx context.Context, req *progressv1.PushDeltaRequest) (*progressv1.PushDeltaResponse, error) {
	s.mu.Lock()
	s.pushes = append(s.pushes, req)
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &progressv1.PushDeltaResponse{Progress: &progressv1.LectureProgress{
		UserID:           req.UserID,
		LectureID:        req.LectureID,
		Status:           "in_progress",
		TimeSpentSec:     req.TimeDelta,
		ScrolledToBottom: req.ScrolledToBottom,
	}}, nil
}

func (s *stubProgress) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *stubProgress) pushed() []*progressv1.PushDeltaRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*progressv1.PushDeltaRequest(nil), s.pushes...)
}

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type manualTickers struct {
	mu sync.Mutex
	by map[time.Duration]*manualTicker
}

func (m *manualTickers) New(d time.Duration) engagement.Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	m.by[d] = t
	return t
}

func (m *manualTickers) get(d time.Duration) *manualTicker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.by[d]
}

type fixture struct {
	stub    *stubProgress
	tickers *manualTickers
	handler *Handler
	url     string
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	stub := &stubProgress{}
	srv := grpc.NewServer()
	progressv1.RegisterProgressServiceServer(srv, stub)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	tickers := &manualTickers{by: make(map[time.Duration]*manualTicker)}
	h := &Handler{
		Progress:       progressv1.NewProgressServiceClient(conn),
		FlushTimeout:   2 * time.Second,
		SessionOptions: []engagement.Option{engagement.WithTicker(tickers.New)},
	}

	r := chi.NewRouter()
	if userID != "" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
			})
		})
	}
	h.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &fixture{stub: stub, tickers: tickers, handler: h, url: ts.URL}
}

func (f *fixture) dial(t *testing.T, lectureID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.url, "http") + "/v1/lectures/" + lectureID + "/engagement"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f serverFrame
	require.NoError(t, wsjson.Read(ctx, c, &f))
	return f
}

func writeFrame(t *testing.T, c *websocket.Conn, f any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, f))
}

func TestServeEngagement_RequiresUser(t *testing.T) {
	f := newFixture(t, "")
	resp, err := http.Get(f.url + "/v1/lectures/lecture-1/engagement")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeEngagement_ScrollSnapshotAndFlushOnClose(t *testing.T) {
	f := newFixture(t, "learner-1")
	c := f.dial(t, "lecture-1")

	writeFrame(t, c, map[string]any{
		"type": FrameScroll, "scroll_top": 1500, "viewport_height": 500, "scroll_height": 2000,
	})
	writeFrame(t, c, map[string]any{"type": FrameSnapshot})

	got := readFrame(t, c)
	require.Equal(t, FrameSnapshot, got.Type)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, "lecture-1", got.LectureID)
	assert.True(t, got.Snapshot.ScrolledToBottom)
	assert.Equal(t, engagement.StateTracking, got.Snapshot.State)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool { return len(f.stub.pushed()) == 1 }, 3*time.Second, 5*time.Millisecond)
	push := f.stub.pushed()[0]
	assert.Equal(t, "learner-1", push.UserID)
	assert.Equal(t, "lecture-1", push.LectureID)
	assert.True(t, push.ScrolledToBottom)
	require.Eventually(t, func() bool { return f.handler.Active() == 0 }, 3*time.Second, 5*time.Millisecond)
}

func TestServeEngagement_PeriodicSyncSendsProgress(t *testing.T) {
	f := newFixture(t, "learner-1")
	c := f.dial(t, "lecture-1")

	require.Eventually(t, func() bool {
		return f.tickers.get(engagement.DefaultTickInterval) != nil &&
			f.tickers.get(engagement.DefaultSyncInterval) != nil
	}, 2*time.Second, time.Millisecond)

	clock := f.tickers.get(engagement.DefaultTickInterval)
	for i := 0; i < 3; i++ {
		clock.ch <- time.Now()
	}
	f.tickers.get(engagement.DefaultSyncInterval).ch <- time.Now()

	got := readFrame(t, c)
	require.Equal(t, FrameProgress, got.Type)
	require.NotNil(t, got.Progress)
	assert.Equal(t, "lecture-1", got.LectureID)
	assert.Equal(t, engagement.StatusInProgress, got.Progress.Status)
	assert.Equal(t, 3, got.Progress.TimeSpentSec)
}

func TestServeEngagement_UnknownFrame(t *testing.T) {
	f := newFixture(t, "learner-1")
	c := f.dial(t, "lecture-1")

	writeFrame(t, c, map[string]any{"type": "rewind"})
	got := readFrame(t, c)
	assert.Equal(t, FrameError, got.Type)
	assert.Equal(t, "unknown frame type", got.Error)

	writeFrame(t, c, map[string]any{"type": FrameVisibility, "state": "minimized"})
	got = readFrame(t, c)
	assert.Equal(t, FrameError, got.Type)
}

func TestServeEngagement_ShowSwitchesLecture(t *testing.T) {
	f := newFixture(t, "learner-1")
	c := f.dial(t, "lecture-1")

	writeFrame(t, c, map[string]any{"type": FrameShow, "lecture_id": "lecture-2"})
	writeFrame(t, c, map[string]any{"type": FrameSnapshot})
	got := readFrame(t, c)
	require.Equal(t, FrameSnapshot, got.Type)
	assert.Equal(t, "lecture-2", got.LectureID)

	require.Eventually(t, func() bool { return len(f.stub.pushed()) == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, "lecture-1", f.stub.pushed()[0].LectureID)
}

func TestHandler_ShutdownFlushesOpenViews(t *testing.T) {
	f := newFixture(t, "learner-1")
	f.dial(t, "lecture-1")

	require.Eventually(t, func() bool {
		return f.tickers.get(engagement.DefaultTickInterval) != nil
	}, 2*time.Second, time.Millisecond)
	clock := f.tickers.get(engagement.DefaultTickInterval)
	clock.ch <- time.Now()
	clock.ch <- time.Now()
	require.Equal(t, int64(1), f.handler.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.handler.Shutdown(ctx))

	assert.Equal(t, int64(0), f.handler.Active())
	pushes := f.stub.pushed()
	require.Len(t, pushes, 1)
	assert.Equal(t, int64(2), pushes[0].TimeDelta)
}

func TestServeEngagement_ShowIsBoundedByFlushTimeout(t *testing.T) {
	f := newFixture(t, "learner-1")
	f.handler.FlushTimeout = 100 * time.Millisecond
	gate := f.stub.hold()
	t.Cleanup(func() { close(gate) })
	c := f.dial(t, "lecture-1")

	require.Eventually(t, func() bool {
		return f.tickers.get(engagement.DefaultTickInterval) != nil &&
			f.tickers.get(engagement.DefaultSyncInterval) != nil
	}, 2*time.Second, time.Millisecond)
	f.tickers.get(engagement.DefaultTickInterval).ch <- time.Now()
	f.tickers.get(engagement.DefaultSyncInterval).ch <- time.Now()
	require.Eventually(t, func() bool { return len(f.stub.pushed()) == 1 }, 2*time.Second, time.Millisecond)

	// the periodic push for lecture-1 hangs; switching must not
	start := time.Now()
	writeFrame(t, c, map[string]any{"type": FrameShow, "lecture_id": "lecture-2"})
	writeFrame(t, c, map[string]any{"type": FrameSnapshot})
	got := readFrame(t, c)
	require.Equal(t, FrameSnapshot, got.Type)
	assert.Equal(t, "lecture-2", got.LectureID)
	assert.Less(t, time.Since(start), 2*time.Second)

	writeFrame(t, c, map[string]any{"type": FrameScroll, "scroll_top": 1500, "viewport_height": 500, "scroll_height": 2000})
	writeFrame(t, c, map[string]any{"type": FrameSnapshot})
	got = readFrame(t, c)
	assert.True(t, got.Snapshot.ScrolledToBottom)
	assert.Len(t, f.stub.pushed(), 1)
}

func TestServeEngagement_HTTPClientsForwardLearnerToken(t *testing.T) {
	var (
		mu    sync.Mutex
		auths []string
		paths []string
	)
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/start") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"in_progress"}}`))
	}))
	t.Cleanup(rest.Close)

	tickers := &manualTickers{by: make(map[time.Duration]*manualTicker)}
	cb := progressclient.NewBreaker("progress-test", 3, time.Minute, nil)
	h := &Handler{
		Clients:        HTTPClients(progressclient.NewHTTP(rest.URL, progressclient.WithCircuitBreaker(cb))),
		FlushTimeout:   2 * time.Second,
		SessionOptions: []engagement.Option{engagement.WithTicker(tickers.New)},
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithUserID(r.Context(), "learner-1")
			next.ServeHTTP(w, r.WithContext(auth.WithToken(ctx, "learner-token")))
		})
	})
	h.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	f := &fixture{tickers: tickers, handler: h, url: ts.URL}
	c := f.dial(t, "lecture-1")
	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.Active() == 0 }, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "/v1/lectures/lecture-1/progress")
	for _, a := range auths {
		assert.Equal(t, "Bearer learner-token", a)
	}
}
