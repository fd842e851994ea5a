package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ooui-go/ooui/internal/protocol"
	"github.com/ooui-go/ooui/internal/transport"
)

type Options struct {
	Width  int
	Height int
	Logger *zerolog.Logger
	// OnFrame runs after each applied frame.
	OnFrame func()
	// Interpreter options, applied after the logger.
	Interpreter []Option
}

// Conn mirrors one server page into a Document.
type Conn struct {
	conn    transport.Conn
	interp  *Interpreter
	logger  zerolog.Logger
	onFrame func()

	mu      sync.Mutex
	closing bool
}

// Dial opens a connection to a page URL.
func Dial(ctx context.Context, url string, doc Document, opts Options) (*Conn, error) {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	tc, err := transport.Dial(ctx, url, opts.Width, opts.Height, transport.Options{})
	if err != nil {
		return nil, err
	}
	return NewConn(tc, doc, opts), nil
}

func NewConn(tc transport.Conn, doc Document, opts Options) *Conn {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	c := &Conn{
		conn:    tc,
		logger:  logger,
		onFrame: opts.OnFrame,
	}
	iopts := append([]Option{WithLogger(logger)}, opts.Interpreter...)
	c.interp = NewInterpreter(doc, c.SendEvent, iopts...)
	return c
}

func (c *Conn) Interpreter() *Interpreter { return c.interp }

// Run applies frames until the connection ends. A close requested through
// Close or ctx returns nil; any other loss returns ErrConnectionLost.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.interp.Stop()

	for {
		data, err := c.conn.Receive(ctx)
		if err != nil {
			if c.isClosing() || ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("connection lost")
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		if err := c.interp.ApplyFrame(data); err != nil {
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("discarding malformed frame")
			continue
		}
		if c.onFrame != nil {
			c.onFrame()
		}
	}
}

// SendEvent transmits an Event message.
func (c *Conn) SendEvent(m protocol.Message) error {
	data, err := protocol.EncodeEvent(m)
	if err != nil {
		return err
	}
	if err := c.conn.Send(context.Background(), data); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrConnectionLost
		}
		return err
	}
	return nil
}

// Close leaves the page with a going-away status.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	return c.conn.Close(transport.CloseGoingAway, "")
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}
