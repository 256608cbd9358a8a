package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const maxMessageSize = 4 * 1024

var errClientClosed = errors.New("websocket closed by client")

// wsTransport sends each update as one text frame. Inbound frames are only inspected for close and pong.
type wsTransport struct{}

func (wsTransport) writeMessage(conn net.Conn, msg []byte) error {
	return wsutil.WriteServerText(conn, bytes.TrimSuffix(msg, []byte{'\n'}))
}

func (wsTransport) writePing(conn net.Conn) error {
	return wsutil.WriteServerMessage(conn, ws.OpPing, nil)
}

func (wsTransport) writeClose(conn net.Conn) {
	conn.Write(ws.CompiledClose)
}

func (wsTransport) readLoop(conn net.Conn, readTimeout time.Duration) error {
	extend := func() {
		if readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
	extend()

	for {
		header, err := ws.ReadHeader(conn)
		if err != nil {
			return err
		}

		if header.Length > int64(maxMessageSize) {
			return fmt.Errorf("frame of %d bytes exceeds %d", header.Length, maxMessageSize)
		}

		// Payload is discarded, but it has to be consumed to reach the next header
		if _, err := io.CopyN(io.Discard, conn, header.Length); err != nil {
			return err
		}

		switch header.OpCode {
		case ws.OpClose:
			return errClientClosed
		case ws.OpPong:
			extend()
		}
	}
}
