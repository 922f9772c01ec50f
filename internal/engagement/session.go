// Package engagement tracks how long a learner stays on a lecture and whether
// they reached its end, and reconciles that with the remote progress store.
//
// Each Session is owned by a single goroutine. Clock ticks, periodic syncs,
// scroll and visibility notifications and push results are all delivered to
// it as messages, so at most one push is ever in flight.
package engagement

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrNoLecture     = errors.New("lecture id is required")
	ErrNoClient      = errors.New("progress client is required")
	ErrSessionClosed = errors.New("engagement session closed")
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateTracking  State = "tracking"
	StateCompleted State = "completed"
	StateClosed    State = "closed"
)

// Snapshot is the read-only view handed to the hosting page.
type Snapshot struct {
	LectureID        string        `json:"lecture_id,omitempty"`
	State            State         `json:"state"`
	ElapsedTime      int           `json:"elapsed_time"`
	ScrolledToBottom bool          `json:"scrolled_to_bottom"`
	Completed        bool          `json:"completed"`
	Visible          bool          `json:"visible"`
	SyncInFlight     bool          `json:"sync_in_flight"`
	LastServer       *ProgressData `json:"last_server,omitempty"`
}

// ProgressFunc receives every server payload returned by a sync. It runs on
// the session goroutine and must not block.
type ProgressFunc func(lectureID string, p ProgressData)

// tracking is the mutable state. Only the session goroutine touches it.
type tracking struct {
	unsyncedSeconds  int
	scrolledToBottom bool
	completed        bool
	visible          bool
	syncInFlight     bool
	earlySyncSent    bool
	lastServer       *ProgressData

	geometry     Geometry
	haveGeometry bool
}

type closeRequest struct {
	ctx  context.Context
	errc chan error
}

type Session struct {
	lectureID  string
	cfg        Config
	client     ProgressClient
	log        *zap.Logger
	onProgress ProgressFunc
	measure    func() (Geometry, bool)
	newTicker  TickerFunc
	callCtx    context.Context

	state tracking

	scrolls     chan Geometry
	visibility  chan VisibilityState
	snapshots   chan chan Snapshot
	closeReqs   chan closeRequest
	results     chan syncResult
	detached    chan struct{} // closed when listeners are removed
	done        chan struct{} // closed when the session goroutine exits
	finalMu     sync.Mutex
	final       Snapshot
	closeErr    error
	closeResult chan struct{}
}

// Option configures a Session.
type Option func(*Session)

func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg.withDefaults() }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithOnProgress installs the completion-notification callback.
func WithOnProgress(fn ProgressFunc) Option {
	return func(s *Session) { s.onProgress = fn }
}

// WithMeasure lets the clock re-measure the viewport on every tick.
func WithMeasure(fn func() (Geometry, bool)) Option {
	return func(s *Session) { s.measure = fn }
}

func WithTicker(fn TickerFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.newTicker = fn
		}
	}
}

// New starts tracking lectureID. The start-lecture notification is sent in
// the background; its failure is logged and tracking proceeds regardless.
//
// ctx supplies request-scoped values for client calls; cancelling it does not
// abort pushes already issued. Use Close to end the session.
func New(ctx context.Context, lectureID string, client ProgressClient, opts ...Option) (*Session, error) {
	lectureID = strings.TrimSpace(lectureID)
	if lectureID == "" {
		return nil, ErrNoLecture
	}
	if client == nil {
		return nil, ErrNoClient
	}

	s := &Session{
		lectureID:   lectureID,
		cfg:         DefaultConfig(),
		client:      client,
		log:         zap.NewNop(),
		newTicker:   NewStdTicker,
		callCtx:     context.WithoutCancel(ctx),
		state:       tracking{visible: true},
		scrolls:     make(chan Geometry),
		visibility:  make(chan VisibilityState),
		snapshots:   make(chan chan Snapshot),
		closeReqs:   make(chan closeRequest),
		results:     make(chan syncResult),
		detached:    make(chan struct{}),
		done:        make(chan struct{}),
		closeResult: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("lecture_id", lectureID))

	go func() {
		if err := client.StartSession(s.callCtx, lectureID); err != nil {
			s.log.Warn("start lecture failed", zap.Error(err))
		}
	}()

	clock := s.newTicker(s.cfg.TickInterval)
	periodic := s.newTicker(s.cfg.SyncInterval)
	go s.run(clock, periodic)

	s.log.Debug("engagement tracking started")
	return s, nil
}

func (s *Session) LectureID() string { return s.lectureID }

func (s *Session) run(clock, periodic Ticker) {
	defer close(s.done)
	// Timers and listeners go away on every exit path.
	defer s.detach(clock, periodic)

	for {
		select {
		case <-clock.C():
			s.onTick()
		case <-periodic.C():
			s.onPeriodic()
		case g := <-s.scrolls:
			s.onScroll(g)
		case v := <-s.visibility:
			s.onVisibility(v)
		case r := <-s.results:
			s.onResult(r)
		case reply := <-s.snapshots:
			reply <- s.snapshot()
		case req := <-s.closeReqs:
			s.detach(clock, periodic)
			err := s.teardown(req.ctx)
			s.finish(err)
			req.errc <- err
			return
		}
	}
}

func (s *Session) detach(clock, periodic Ticker) {
	select {
	case <-s.detached:
		return
	default:
	}
	clock.Stop()
	periodic.Stop()
	close(s.detached)
}

// teardown issues the single final flush. A push already in flight is
// awaited first so two pushes never overlap; if ctx runs out before that,
// or is done on arrival, the outstanding result is abandoned and nothing
// more is sent.
func (s *Session) teardown(ctx context.Context) error {
	if s.state.syncInFlight {
		if err := s.await(ctx); err != nil {
			s.log.Warn("teardown abandoned in-flight sync", zap.Error(err))
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		s.log.Warn("teardown flush skipped", zap.Error(err))
		return err
	}
	s.startSync(ctx, TriggerTeardown)
	if err := s.await(ctx); err != nil {
		s.log.Warn("teardown flush abandoned", zap.Error(err))
		return err
	}
	return nil
}

// await blocks until the in-flight push resolves, still answering snapshot
// requests. The completion callback is not invoked during teardown.
func (s *Session) await(ctx context.Context) error {
	for {
		select {
		case r := <-s.results:
			s.applyResult(r)
			return nil
		case reply := <-s.snapshots:
			reply <- s.snapshot()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) finish(err error) {
	snap := s.snapshot()
	snap.State = StateClosed
	snap.SyncInFlight = false
	s.finalMu.Lock()
	s.final = snap
	s.closeErr = err
	s.finalMu.Unlock()
	close(s.closeResult)
	s.log.Debug("engagement tracking stopped", zap.Int("unsynced_seconds", snap.ElapsedTime))
}

func (s *Session) onScroll(g Geometry) {
	if g.IsZero() {
		return
	}
	s.state.geometry = g
	s.state.haveGeometry = true
	if s.state.detect(s.cfg) {
		s.log.Debug("scrolled to bottom")
		s.maybeEarlySync()
	}
}

func (s *Session) snapshot() Snapshot {
	t := s.state
	st := StateTracking
	if t.completed {
		st = StateCompleted
	}
	snap := Snapshot{
		LectureID:        s.lectureID,
		State:            st,
		ElapsedTime:      t.unsyncedSeconds,
		ScrolledToBottom: t.scrolledToBottom,
		Completed:        t.completed,
		Visible:          t.visible,
		SyncInFlight:     t.syncInFlight,
	}
	if t.lastServer != nil {
		p := *t.lastServer
		snap.LastServer = &p
	}
	return snap
}

// Scroll reports a new viewport measurement. No-op after Close.
func (s *Session) Scroll(g Geometry) {
	select {
	case s.scrolls <- g:
	case <-s.detached:
	}
}

// SetVisibility reports a page visibility change. No-op after Close.
func (s *Session) SetVisibility(v VisibilityState) {
	select {
	case s.visibility <- v:
	case <-s.detached:
	}
}

// Snapshot returns the current read-only state.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.snapshots <- reply:
		return <-reply
	case <-s.closeResult:
		s.finalMu.Lock()
		defer s.finalMu.Unlock()
		return s.final
	}
}

// Close stops the clock, the periodic sync and all listeners, then flushes
// whatever is unsynced with exactly one final push. ctx bounds the flush
// only: the session stops even when ctx is already done. It is safe to call
// more than once; later calls wait for the first teardown and return its
// result.
func (s *Session) Close(ctx context.Context) error {
	req := closeRequest{ctx: ctx, errc: make(chan error, 1)}
	select {
	case s.closeReqs <- req:
		return <-req.errc
	case <-s.closeResult:
		s.finalMu.Lock()
		defer s.finalMu.Unlock()
		return s.closeErr
	}
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }
