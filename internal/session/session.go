// Package session runs one client connection: it keeps the created-set and
// outgoing queue, batches outbound messages under a throttle, and dispatches
// inbound events into the mirrored tree.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ooui-go/ooui/internal/metrics"
	"github.com/ooui-go/ooui/internal/protocol"
	"github.com/ooui-go/ooui/internal/telemetry"
	"github.com/ooui-go/ooui/internal/transport"
)

// ErrClosed is returned by Enqueue once the session has begun draining.
var ErrClosed = errors.New("session: closed")

// DefaultInterval is the throttle interval for 30 transmissions per second.
const DefaultInterval = time.Second / 30

type State int32

const (
	Handshaking State = iota
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Root is the entity a session mirrors. It announces every mutation in its
// subtree, resolves identifiers, and accepts inbound events.
type Root interface {
	protocol.Stateful
	Subscribe(fn func(protocol.Message)) (unsubscribe func())
	Lookup(id string) (protocol.Stateful, bool)
	Receive(m protocol.Message) bool
}

// FullScreener is implemented by roots that size themselves to the client
// viewport.
type FullScreener interface {
	WantsFullScreen() bool
	SetViewport(width, height float64)
}

type Viewport struct {
	Width  float64
	Height float64
}

var DefaultViewport = Viewport{Width: 640, Height: 480}

// ParseViewport reads the w and h handshake parameters. Each missing or
// unusable dimension falls back to DefaultViewport.
func ParseViewport(q url.Values) Viewport {
	return Viewport{
		Width:  parseDimension(q.Get("w"), DefaultViewport.Width),
		Height: parseDimension(q.Get("h"), DefaultViewport.Height),
	}
}

func parseDimension(raw string, fallback float64) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fallback
	}
	return v
}

type Options struct {
	// Interval is the minimum spacing between transmissions.
	Interval time.Duration
	Viewport Viewport
	Path     string
	Logger   *zerolog.Logger
}

type Session struct {
	id       string
	path     string
	conn     transport.Conn
	root     Root
	viewport Viewport
	queue    *Queue
	throttle *Throttle
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu          sync.Mutex
	state       State
	ctx         context.Context
	cancel      context.CancelCauseFunc
	unsubscribe func()
	closeOnce   sync.Once
}

func New(conn transport.Conn, root Root, opts Options) *Session {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	viewport := opts.Viewport
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = DefaultViewport
	}
	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}

	id := uuid.NewString()
	logger := base.With().Str("session", id).Str("path", opts.Path).Logger()

	s := &Session{
		id:       id,
		path:     opts.Path,
		conn:     conn,
		root:     root,
		viewport: viewport,
		queue:    NewQueue(root, logger),
		logger:   logger,
		tracer:   telemetry.Tracer("session"),
		ctx:      context.Background(),
	}
	s.throttle = NewThrottle(interval, s.flush)
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Path() string { return s.path }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run attaches the root to the client document and serves the connection
// until the peer leaves, a fatal error occurs, or ctx is cancelled. A normal
// close or cancellation returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	s.ctx = ctx
	s.cancel = cancel
	s.mu.Unlock()

	if fs, ok := s.root.(FullScreener); ok && fs.WantsFullScreen() {
		fs.SetViewport(s.viewport.Width, s.viewport.Height)
	}

	unsubscribe := s.root.Subscribe(func(m protocol.Message) { _ = s.Enqueue(m) })
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	if s.state == Handshaking {
		s.state = Active
	}
	s.mu.Unlock()

	metrics.SessionOpened()
	defer metrics.SessionClosed()
	s.logger.Info().
		Float64("width", s.viewport.Width).
		Float64("height", s.viewport.Height).
		Msg("session started")

	// Attaching the root expands the entire initial tree.
	_ = s.Enqueue(protocol.NewCall(protocol.BodyID, "appendChild", protocol.Ref(s.root)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.readLoop(gctx)
		cancel(err)
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		s.drain(context.Cause(ctx))
		return nil
	})
	_ = g.Wait()

	cause := context.Cause(ctx)
	s.logger.Info().Err(cause).Msg("session stopped")
	if errors.Is(cause, transport.ErrClosed) || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// Enqueue queues m behind the closure of its dependencies and wakes the
// throttle. It is safe for concurrent use, including from event handlers
// running on the read loop.
func (s *Session) Enqueue(m protocol.Message) error {
	if s.State() >= Draining {
		return ErrClosed
	}
	err := s.queue.Enqueue(m)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("id", m.TargetID).
			Str("key", m.Key).
			Msg("dropped message")
		metrics.RecordDropped(dropReason(err))
	}
	// Dependencies that resolved before a failure are still queued.
	s.throttle.Kick()
	return err
}

// Close shuts the session down with a going-away status.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(context.Canceled)
		return
	}
	s.drain(context.Canceled)
}

func (s *Session) abort(err error) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(err)
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		data, err := s.conn.Receive(ctx)
		if err != nil {
			return err
		}
		m, err := protocol.DecodeEvent(data)
		if err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("discarding malformed payload")
			metrics.RecordEvent("malformed")
			continue
		}
		s.dispatch(m)
	}
}

func (s *Session) dispatch(m protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("id", m.TargetID).
				Str("key", m.Key).
				Msg("event handler panicked")
			metrics.RecordEvent("failed")
		}
	}()
	if !s.root.Receive(m) {
		s.logger.Debug().Str("id", m.TargetID).Str("key", m.Key).Msg("event has no target")
		metrics.RecordEvent("unrouted")
		return
	}
	metrics.RecordEvent("dispatched")
}

// flush transmits the pending batch. It runs outside the queue lock.
func (s *Session) flush() bool {
	msgs := s.queue.Take()
	if len(msgs) == 0 {
		return false
	}
	if s.State() >= Draining {
		return false
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "session.flush",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.Int("batch.messages", len(msgs)),
		),
	)
	defer span.End()

	data, err := protocol.EncodeBatch(msgs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		s.logger.Error().Err(err).Msg("failed to encode queued messages, aborting session")
		s.abort(err)
		return false
	}
	span.SetAttributes(attribute.Int("batch.bytes", len(data)))

	if err := s.conn.Send(ctx, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		if s.State() < Draining {
			s.logger.Error().Err(err).Msg("failed to send queued messages, aborting session")
		}
		s.abort(fmt.Errorf("send: %w", err))
		return false
	}
	metrics.RecordFrame(len(msgs), len(data))
	return true
}

func (s *Session) drain(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Draining
		unsubscribe := s.unsubscribe
		s.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		s.throttle.Stop()

		code, reason := closeStatus(cause)
		if err := s.conn.Close(code, reason); err != nil {
			s.logger.Debug().Err(err).Msg("close transport")
		}
		s.setState(Closed)
	})
}

func closeStatus(cause error) (int, string) {
	switch {
	case errors.Is(cause, transport.ErrTooBig):
		return transport.CloseMessageTooBig, "Message too big"
	case errors.Is(cause, transport.ErrBinaryFrame):
		return transport.CloseUnsupportedData, "Cannot accept binary frame"
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return transport.CloseGoingAway, "Server shutting down"
	}
	return transport.CloseNormal, ""
}
