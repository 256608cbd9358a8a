package gateway

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/hub"
)

// lineTransport writes newline-delimited JSON over a raw TCP stream
type lineTransport struct{}

func (lineTransport) writeMessage(conn net.Conn, msg []byte) error {
	_, err := conn.Write(msg)
	return err
}

func (lineTransport) writePing(net.Conn) error { return nil }

func (lineTransport) writeClose(net.Conn) {}

// Subscribers never send anything; whatever arrives is discarded.
func (lineTransport) readLoop(conn net.Conn, _ time.Duration) error {
	buf := make([]byte, 512)
	for {
		if _, err := conn.Read(buf); err != nil {
			return err
		}
	}
}

var acceptRetryDelay = 50 * time.Millisecond

// Acceptor accepts raw TCP subscribers and registers them with the hub
type Acceptor struct {
	listener net.Listener
	hub      *hub.Hub
	logger   *zap.Logger
	opts     Options
}

// Listen binds the subscriber port
func Listen(addr string, h *hub.Hub, logger *zap.Logger, opts Options) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// Line subscribers have no ping frame
	opts.PingPeriod = 0
	return &Acceptor{listener: ln, hub: h, logger: logger, opts: opts}, nil
}

func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Serve accepts until ctx is cancelled. Transient accept errors are retried.
func (a *Acceptor) Serve(ctx context.Context) error {
	var once sync.Once
	stop := func() { once.Do(func() { a.listener.Close() }) }
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
	}()

	a.logger.Info("Subscriber listener started", zap.String("addr", a.Addr().String()))
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				a.logger.Warn("Accept error, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(acceptRetryDelay):
				}
				continue
			}
			return err
		}

		client := newClient(conn, lineTransport{}, a.hub, a.logger, a.opts)
		a.hub.Register(client)
		client.Start()
	}
}
