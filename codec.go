package mq

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/brokerlink/mqrt/internal/packets"
)

// zeroTime clears a previously set read/write deadline.
var zeroTime time.Time

// ProtocolCodec is the wire-format seam this package depends on but does not
// implement (SPEC_FULL §1, §4.10 — "Protocol Codec... assumed available").
// connCodec below is the concrete adapter over internal/packets and a
// net.Conn; tests substitute a fake implementation instead of a real socket.
type ProtocolCodec interface {
	Send(ctx context.Context, p packets.Packet) error
	Recv(ctx context.Context) (packets.Packet, error)
	Close() error
}

// connCodec adapts a net.Conn to ProtocolCodec using the shared MQTT wire
// encode/decode functions in internal/packets. It never interprets packet
// semantics; that belongs to ClientProxy.
type connCodec struct {
	conn              net.Conn
	r                 *bufio.Reader
	version           uint8
	maxIncomingPacket int
}

// newConnCodec wraps conn using protocol version (4 or 5) and the
// configured maximum incoming packet size (0 uses the MQTT spec maximum).
func newConnCodec(conn net.Conn, version uint8, maxIncomingPacket int) *connCodec {
	return &connCodec{
		conn:              conn,
		r:                 bufio.NewReader(conn),
		version:           version,
		maxIncomingPacket: maxIncomingPacket,
	}
}

// Send writes p to the underlying connection, honoring ctx's deadline if set.
func (c *connCodec) Send(ctx context.Context, p packets.Packet) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(zeroTime)
	}
	_, err := p.WriteTo(c.conn)
	return err
}

// Recv reads the next packet from the underlying connection, honoring ctx's
// deadline if set.
func (c *connCodec) Recv(ctx context.Context) (packets.Packet, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	} else {
		_ = c.conn.SetReadDeadline(zeroTime)
	}
	return packets.ReadPacket(c.r, c.version, c.maxIncomingPacket)
}

// Close closes the underlying connection. Idempotent: a second call returns
// the net.Conn's own idempotent-close error, which callers ignore.
func (c *connCodec) Close() error {
	return c.conn.Close()
}
