// Package live wraps a gorilla websocket so frames can be pushed to a
// client from any goroutine. Each connection has one reader and one
// writer goroutine; everything else enqueues.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned by Send after the connection closed.
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Send when the client is not keeping up.
	ErrQueueFull = errors.New("send queue full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Options tunes a connection.
type Options struct {
	QueueSize int
}

// Conn is a server-side live connection.
type Conn struct {
	ws     *websocket.Conn
	send   chan any
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewUpgrader returns an upgrader that accepts the listed origins, or any
// origin when the list is empty.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
}

// New wraps an established websocket.
func New(ws *websocket.Conn, opts Options, logger *slog.Logger) *Conn {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		ws:     ws,
		send:   make(chan any, opts.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues a frame to be written as JSON. It never blocks.
func (c *Conn) Send(frame any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close asks the connection to shut down. Run returns once the socket is
// closed.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed when the connection starts shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Run pumps frames until the client disconnects, Close is called or ctx
// ends. Inbound text frames are passed to handle on the reader goroutine.
// Run owns the socket and closes it before returning.
func (c *Conn) Run(ctx context.Context, handle func([]byte)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.Close()
		return c.writeLoop(ctx)
	})
	g.Go(func() error {
		defer c.Close()
		return c.readLoop(handle)
	})
	err := g.Wait()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	return err
}

func (c *Conn) readLoop(handle func([]byte)) error {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // a failed deadline surfaces on read
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			return err
		}
		if kind == websocket.TextMessage && handle != nil {
			handle(data)
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close() //nolint:errcheck // reader sees the close
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // surfaced by WriteJSON
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				return err
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-ctx.Done():
			c.writeClose()
			return nil
		case <-c.done:
			c.writeClose()
			return nil
		}
	}
}

func (c *Conn) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck // best effort
}
