package mq

import (
	"context"
	"sync"
	"time"

	"github.com/brokerlink/mqrt/internal/packets"
)

// fakeCodec is an in-memory ProtocolCodec driving ClientProxy/Pool tests
// without a real broker (SPEC_FULL §2A's test-tooling guidance).
//
// Recv returns packets from an externally-fed queue (enqueueRecv); Send
// appends every outbound packet to Sent and, for CONNECT, auto-enqueues a
// CONNACK so proxy.Connect succeeds without extra scripting.
type fakeCodec struct {
	mu       sync.Mutex
	recvQ    []packets.Packet
	recvErr  error
	Sent     []packets.Packet
	closed   bool
	onSend   func(p packets.Packet)
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{}
}

func (f *fakeCodec) enqueueRecv(p packets.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvQ = append(f.recvQ, p)
}

func (f *fakeCodec) failRecvWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvErr = err
}

func (f *fakeCodec) Send(ctx context.Context, p packets.Packet) error {
	f.mu.Lock()
	f.Sent = append(f.Sent, p)
	if _, ok := p.(*packets.ConnectPacket); ok {
		f.recvQ = append([]packets.Packet{&packets.ConnackPacket{ReturnCode: packets.ConnAccepted}}, f.recvQ...)
	}
	onSend := f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend(p)
	}
	return nil
}

func (f *fakeCodec) Recv(ctx context.Context) (packets.Packet, error) {
	for {
		f.mu.Lock()
		if len(f.recvQ) > 0 {
			p := f.recvQ[0]
			f.recvQ = f.recvQ[1:]
			f.mu.Unlock()
			return p, nil
		}
		recvErr := f.recvErr
		f.mu.Unlock()
		if recvErr != nil {
			return nil, recvErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeCodec) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ ProtocolCodec = (*fakeCodec)(nil)
