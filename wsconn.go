package mq

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// websocketConn adapts a *websocket.Conn to the net.Conn interface so the
// Protocol Codec (which only knows about net.Conn) can speak MQTT-over-WebSocket
// transparently, grounded on the teacher's deleted examples/websocket dialer
// pattern (there wrapping nhooyr.io/websocket; here gorilla/websocket, see
// DESIGN.md).
type websocketConn struct {
	*websocket.Conn
	reader io.Reader
}

func (c *websocketConn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(b)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *websocketConn) Write(b []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *websocketConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}

var _ net.Conn = (*websocketConn)(nil)
