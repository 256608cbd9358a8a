package gateway

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/hub"
)

var (
	ErrQueueFull = errors.New("subscriber send queue full")
	ErrClosed    = errors.New("subscriber closed")
)

// transport frames outbound updates and drains inbound bytes for one kind of connection
type transport interface {
	writeMessage(conn net.Conn, msg []byte) error
	writePing(conn net.Conn) error
	writeClose(conn net.Conn)
	// readLoop blocks until the peer goes away
	readLoop(conn net.Conn, readTimeout time.Duration) error
}

// Options tune every subscriber connection
type Options struct {
	WriteTimeout time.Duration
	SendBuffer   int
	PingPeriod   time.Duration // 0 disables pings
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Client is one subscriber connection. Updates go through a bounded queue
// drained by writePump; readPump only exists to notice the peer leaving.
type Client struct {
	id        string
	conn      net.Conn
	hub       *hub.Hub
	transport transport
	logger    *zap.Logger
	opts      Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ hub.Subscriber = (*Client)(nil)

func newClient(conn net.Conn, t transport, h *hub.Hub, logger *zap.Logger, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		id:        conn.RemoteAddr().String(),
		conn:      conn,
		hub:       h,
		transport: t,
		logger:    logger,
		opts:      opts,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) ID() string { return c.id }

// Send queues b without blocking. A full queue drops the update for this subscriber only.
func (c *Client) Send(b []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close stops the write pump, which closes the socket
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	var readTimeout time.Duration
	if c.opts.PingPeriod > 0 {
		readTimeout = c.opts.PingPeriod * 6 / 5
	}
	if err := c.transport.readLoop(c.conn, readTimeout); err != nil {
		c.logger.Debug("Subscriber read ended", zap.String("addr", c.id), zap.Error(err))
	}
}

// writePump owns every write to the socket. A failed write closes the
// socket; readPump then fails and unregisters, so both paths end in one Unregister.
func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			c.transport.writeClose(c.conn)
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.transport.writeMessage(c.conn, msg); err != nil {
				c.logger.Debug("Subscriber write failed", zap.String("addr", c.id), zap.Error(err))
				return
			}

		case <-tick:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.transport.writePing(c.conn); err != nil {
				return
			}
		}
	}
}
