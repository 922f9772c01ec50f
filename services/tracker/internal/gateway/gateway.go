package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/engagement"
	"github.com/example/course-platform/internal/platform/analytics"
	"github.com/example/course-platform/internal/platform/api"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/progressclient"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
)

const (
	DefaultFlushTimeout = 5 * time.Second
	writeTimeout        = 5 * time.Second
	outboxSize          = 16
)

// Handler hosts one engagement View per WebSocket connection. The
// connection is the lecture view: it shows the lecture from the URL on
// open and tears the view down, final flush included, when it goes away.
type Handler struct {
	Progress       progressv1.ProgressServiceClient
	Engagement     engagement.Config
	FlushTimeout   time.Duration
	OriginPatterns []string
	Analytics      *analytics.Publisher
	Log            *zap.Logger
	// Clients overrides the per-connection progress client. When nil,
	// connections call Progress over gRPC.
	Clients ClientFunc
	// SessionOptions are appended to every session's options.
	SessionOptions []engagement.Option

	active   atomic.Int64
	mu       sync.Mutex
	conns    map[*websocket.Conn]context.CancelFunc
	draining bool
	wg       sync.WaitGroup
}

// ClientFunc builds the progress client for one learner connection. ctx
// carries the upgrade request's values.
type ClientFunc func(ctx context.Context, userID string) engagement.ProgressClient

// HTTPClients calls the progress REST API with each learner's own token.
func HTTPClients(base *progressclient.HTTPClient) ClientFunc {
	return func(ctx context.Context, _ string) engagement.ProgressClient {
		return base.ForRequest(ctx)
	}
}

func (h *Handler) client(ctx context.Context, userID string) engagement.ProgressClient {
	if h.Clients != nil {
		return h.Clients(ctx, userID)
	}
	return progressclient.NewGRPC(h.Progress, userID)
}

// Active reports the number of open connections.
func (h *Handler) Active() int64 { return h.active.Load() }

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *Handler) flushTimeout() time.Duration {
	if h.FlushTimeout <= 0 {
		return DefaultFlushTimeout
	}
	return h.FlushTimeout
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/lectures/{lecture_id}/engagement", h.ServeEngagement)
}

func (h *Handler) ServeEngagement(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(uid) == "" {
		api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
		return
	}
	lectureID := strings.TrimSpace(chi.URLParam(r, "lecture_id"))
	if lectureID == "" {
		api.BadRequest(w, api.CodeValidation, "invalid lecture_id", rid, nil)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.log().Warn("websocket accept failed", zap.String("request_id", rid), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	if !h.track(conn, stopReading) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.untrack(conn)

	log := h.log().With(zap.String("user_id", uid), zap.String("request_id", rid))
	h.Analytics.Publish(analytics.SubjectTrackerConnected, "tracker_connected", uid, map[string]any{
		"lecture_id": lectureID,
	})

	out := make(chan serverFrame, outboxSize)
	opts := []engagement.Option{
		engagement.WithConfig(h.Engagement),
		engagement.WithLogger(log),
		engagement.WithOnProgress(func(id string, p engagement.ProgressData) {
			select {
			case out <- serverFrame{Type: FrameProgress, LectureID: id, Progress: &p}:
			default:
				log.Warn("progress frame dropped", zap.String("lecture_id", id))
			}
		}),
	}
	opts = append(opts, h.SessionOptions...)
	view := engagement.NewView(h.client(ctx, uid), opts...)
	if err := view.Show(ctx, lectureID); err != nil {
		log.Error("start engagement view", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "tracking unavailable")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeLoop(ctx, conn, out, log)
	}()

	readErr := h.readLoop(readCtx, conn, view, out, log)
	if status := websocket.CloseStatus(readErr); status == -1 && !errors.Is(readErr, context.Canceled) {
		log.Debug("engagement socket read ended", zap.Error(readErr))
	}

	fctx, fcancel := context.WithTimeout(ctx, h.flushTimeout())
	if err := view.Close(fctx); err != nil {
		log.Warn("engagement flush abandoned", zap.Error(err))
	}
	fcancel()

	cancel()
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) track(conn *websocket.Conn, stop context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns == nil {
		h.conns = make(map[*websocket.Conn]context.CancelFunc)
	}
	if h.draining {
		return false
	}
	h.conns[conn] = stop
	h.wg.Add(1)
	h.active.Add(1)
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.active.Add(-1)
	h.wg.Done()
}

// Shutdown stops reading from every open connection so each view flushes its
// final delta, then waits for them to finish or for ctx to expire. New
// connections are refused afterwards.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	for _, stop := range h.conns {
		stop()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop applies client frames to the view until the socket fails. A
// lecture switch flushes the previous lecture under the same bound as a
// disconnect, so a hung push cannot stall the socket.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, view *engagement.View, out chan<- serverFrame, log *zap.Logger) error {
	for {
		var f clientFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}
		switch f.Type {
		case FrameScroll, FrameLayout:
			view.Scroll(f.Geometry)
		case FrameVisibility:
			switch engagement.VisibilityState(f.State) {
			case engagement.VisibilityVisible, engagement.VisibilityHidden:
				view.SetVisibility(engagement.VisibilityState(f.State))
			default:
				send(ctx, out, serverFrame{Type: FrameError, Error: "unknown visibility state"})
			}
		case FrameSnapshot:
			snap := view.Snapshot()
			send(ctx, out, serverFrame{Type: FrameSnapshot, LectureID: snap.LectureID, Snapshot: &snap})
		case FrameShow:
			sctx, cancel := context.WithTimeout(ctx, h.flushTimeout())
			err := view.Show(sctx, f.LectureID)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				log.Warn("engagement flush abandoned on switch", zap.String("lecture_id", f.LectureID), zap.Error(err))
			default:
				send(ctx, out, serverFrame{Type: FrameError, Error: err.Error()})
			}
		default:
			send(ctx, out, serverFrame{Type: FrameError, Error: "unknown frame type"})
		}
	}
}

func send(ctx context.Context, out chan<- serverFrame, f serverFrame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan serverFrame, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, f)
			cancel()
			if err != nil {
				log.Debug("engagement socket write failed", zap.Error(err))
				return
			}
		}
	}
}
