package mq

import (
	"bufio"
	"context"
	"net"

	"github.com/brokerlink/mqrt/internal/packets"
)

// newFakeBrokerDialer returns a Dialer that hands ClientFactory one end of an
// in-memory net.Pipe, serving CONNECT with an immediate CONNACK on the other
// end. It exists so Pool/Client tests can exercise the real dial/codec/proxy
// stack without a network socket.
func newFakeBrokerDialer() Dialer {
	return func(ctx context.Context, cfg *ClientConfig) (net.Conn, error) {
		client, server := net.Pipe()
		go serveFakeBroker(server, uint8(cfg.ProtocolLevel))
		return client, nil
	}
}

func serveFakeBroker(conn net.Conn, version uint8) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		pkt, err := packets.ReadPacket(r, version, 0)
		if err != nil {
			return
		}
		switch p := pkt.(type) {
		case *packets.ConnectPacket:
			ack := &packets.ConnackPacket{ReturnCode: packets.ConnAccepted}
			if _, err := ack.WriteTo(conn); err != nil {
				return
			}
		case *packets.SubscribePacket:
			codes := make([]uint8, len(p.Topics))
			copy(codes, p.QoS)
			suback := &packets.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes}
			if _, err := suback.WriteTo(conn); err != nil {
				return
			}
		case *packets.UnsubscribePacket:
			unsuback := &packets.UnsubackPacket{PacketID: p.PacketID}
			if _, err := unsuback.WriteTo(conn); err != nil {
				return
			}
		case *packets.PublishPacket:
			switch p.QoS {
			case 1:
				ack := &packets.PubackPacket{PacketID: p.PacketID}
				if _, err := ack.WriteTo(conn); err != nil {
					return
				}
			case 2:
				rec := &packets.PubrecPacket{PacketID: p.PacketID}
				if _, err := rec.WriteTo(conn); err != nil {
					return
				}
			}
		case *packets.PubrelPacket:
			comp := &packets.PubcompPacket{PacketID: p.PacketID}
			if _, err := comp.WriteTo(conn); err != nil {
				return
			}
		case *packets.DisconnectPacket:
			return
		}
	}
}
