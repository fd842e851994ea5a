package publish

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ooui-go/ooui/internal/metrics"
	"github.com/ooui-go/ooui/internal/session"
	"github.com/ooui-go/ooui/internal/transport"
)

type Options struct {
	// Interval is the per-session throttle interval.
	Interval        time.Duration
	ReceiveLimit    int64
	WriteTimeout    time.Duration
	DefaultViewport session.Viewport
	// ClientScript is served at ClientScriptPath when non-empty.
	ClientScript   []byte
	AllowedOrigins []string
	Logger         *zerolog.Logger
}

// Server serves a Registry: plain requests go to the path's responder and
// websocket upgrades on page paths start a session.
type Server struct {
	ctx      context.Context
	registry *Registry
	store    *session.Store
	opts     Options
	script   *Data
	logger   zerolog.Logger

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

// NewServer binds sessions to ctx: cancelling it ends every session.
func NewServer(ctx context.Context, registry *Registry, store *session.Store, opts Options) *Server {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	s := &Server{
		ctx:            ctx,
		registry:       registry,
		store:          store,
		opts:           opts,
		logger:         logger,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	if len(opts.ClientScript) > 0 {
		s.script = NewData(opts.ClientScript, "application/javascript")
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.Handle("/", s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	kind := s.serve(rec, r)
	metrics.RecordHTTPRequest(kind, rec.status, time.Since(start))
}

func (s *Server) serve(w *statusRecorder, r *http.Request) string {
	path := r.URL.Path

	if path == ClientScriptPath && s.script != nil {
		w.Header().Set("Cache-Control", "public, max-age=60")
		if err := s.script.Respond(w, r); err != nil {
			s.logger.Debug().Err(err).Msg("write client script")
		}
		return "script"
	}

	h, ok := s.registry.Lookup(path)
	if websocket.IsWebSocketUpgrade(r) {
		s.handleSession(w, r, h, ok)
		return "session"
	}
	if !ok {
		http.NotFound(w, r)
		return "none"
	}

	s.logger.Debug().Str("method", r.Method).Str("path", path).Msg("request")
	if err := s.respond(w, r, h); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("handler failed to respond")
		if !w.wrote {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
	return h.Kind()
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, h Responder) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("responder panicked: %v", p)
		}
	}()
	if page, ok := h.(*Page); ok {
		return page.respond(w, r, s.script != nil)
	}
	return h.Respond(w, r)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, h Responder, found bool) {
	page, ok := h.(*Page)
	if !found || !ok {
		http.NotFound(w, r)
		return
	}
	root, err := page.Element()
	if err != nil {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("failed to create element")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := transport.Upgrade(w, r, transport.Options{
		ReceiveLimit: s.opts.ReceiveLimit,
		WriteTimeout: s.opts.WriteTimeout,
		CheckOrigin:  s.checkOrigin,
	})
	if err != nil {
		// The upgrader has already replied.
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade error")
		return
	}

	viewport := s.viewport(r.URL.Query())
	sess := session.New(conn, root, session.Options{
		Interval: s.opts.Interval,
		Viewport: viewport,
		Path:     r.URL.Path,
		Logger:   &s.logger,
	})
	s.store.Add(sess)
	defer s.store.Remove(sess.ID())

	if err := sess.Run(s.ctx); err != nil {
		s.logger.Warn().Err(err).Str("session", sess.ID()).Msg("session ended with error")
	}
}

// viewport applies the configured fallback to dimensions the client did
// not send.
func (s *Server) viewport(q url.Values) session.Viewport {
	v := session.ParseViewport(q)
	def := s.opts.DefaultViewport
	if def.Width > 0 && q.Get("w") == "" {
		v.Width = def.Width
	}
	if def.Height > 0 && q.Get("h") == "" {
		v.Height = def.Height
	}
	return v
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}

	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying connection.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("publish: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	r.wrote = true
	return hj.Hijack()
}

// ListenAndServe serves handler on addr until ctx is cancelled. While the
// address is in use it retries every retryDelay; other errors are returned.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, retryDelay time.Duration) error {
	logger := log.With().Str("addr", addr).Logger()
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}

	var ln net.Listener
	for {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		logger.Warn().Err(err).Dur("retry", retryDelay).Msg("address in use, trying again")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay):
		}
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info().Msg("listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
