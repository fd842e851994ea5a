// Package transport adapts gorilla/websocket to the frame channel a
// session runs over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocol is negotiated on every connection.
const Subprotocol = "ooui"

// DefaultReceiveLimit bounds a single inbound frame on the server side.
const DefaultReceiveLimit = 64 * 1024

const defaultWriteTimeout = 10 * time.Second

// Close statuses used by sessions and clients.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	CloseUnsupportedData = websocket.CloseUnsupportedData
	CloseMessageTooBig   = websocket.CloseMessageTooBig
)

var (
	ErrBinaryFrame = errors.New("transport: binary frame")
	ErrTooBig      = errors.New("transport: message too big")
	ErrClosed      = errors.New("transport: connection closed")
)

// Conn is a persistent text-frame channel.
type Conn interface {
	// Receive blocks for the next text frame.
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	// Close sends a close status and releases the connection. Only the
	// first call has an effect.
	Close(code int, reason string) error
}

// Options tune a connection. Zero values select defaults.
type Options struct {
	ReceiveLimit int64
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// WSConn is a Conn over a gorilla websocket.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func newWSConn(c *websocket.Conn, opts Options) *WSConn {
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	return &WSConn{conn: c, writeTimeout: wt, closed: make(chan struct{})}
}

// Upgrade completes the server side of the handshake.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*WSConn, error) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin:  opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}

	limit := opts.ReceiveLimit
	if limit <= 0 {
		limit = DefaultReceiveLimit
	}
	c.SetReadLimit(limit)
	return newWSConn(c, opts), nil
}

// HandshakeError reports an HTTP response that refused the upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake refused with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Dial connects to a page endpoint, passing the viewport as the w and h
// query parameters. Inbound frames are unbounded unless opts sets a limit.
func Dial(ctx context.Context, rawURL string, width, height int, opts Options) (*WSConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("w", strconv.Itoa(width))
	q.Set("h", strconv.Itoa(height))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     []string{Subprotocol},
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			err = &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	if opts.ReceiveLimit > 0 {
		c.SetReadLimit(opts.ReceiveLimit)
	}
	return newWSConn(c, opts), nil
}

// Subprotocol reports the negotiated sub-protocol.
func (c *WSConn) Subprotocol() string { return c.conn.Subprotocol() }

func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, c.readError(err)
	}
	if typ != websocket.TextMessage {
		return nil, ErrBinaryFrame
	}
	return data, nil
}

func (c *WSConn) readError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrTooBig
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %w", ErrClosed, ce)
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	return fmt.Errorf("read: %w", err)
}

func (c *WSConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *WSConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		// The peer may already be gone; the close frame is best effort.
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// CloseCode extracts the status from a peer close error, or 0.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
