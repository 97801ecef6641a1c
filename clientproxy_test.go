package mq

import (
	"context"
	"testing"
	"time"

	"github.com/brokerlink/mqrt/internal/packets"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *ClientConfig {
	t.Helper()
	cfg, err := NewClientConfig("broker.local", 1883, WithClientID("test-client"), WithKeepAlive(0))
	require.NoError(t, err)
	return cfg
}

func TestClientProxyConnect(t *testing.T) {
	codec := newFakeCodec()
	proxy := NewClientProxy(testConfig(t), "default", codec, nil)

	err := proxy.Connect(context.Background(), true, nil)
	require.NoError(t, err)
	require.Len(t, codec.Sent, 1)
	_, ok := codec.Sent[0].(*packets.ConnectPacket)
	require.True(t, ok)
}

// TestClientProxyQoS1AckOrdering covers SPEC_FULL §8 invariant 7 and
// end-to-end scenario 4: PUBACK must be transmitted before OnReceiveEvent
// fires for an inbound QoS 1 PUBLISH.
func TestClientProxyQoS1AckOrdering(t *testing.T) {
	codec := newFakeCodec()
	events := NewEventBus()

	var order []string
	codec.onSend = func(p packets.Packet) {
		if _, ok := p.(*packets.PubackPacket); ok {
			order = append(order, "puback")
		}
	}
	unsub := events.OnReceiveEvent(func(msg Message) {
		order = append(order, "receive")
	})
	defer unsub()

	cfg := testConfig(t)
	cfg.KeepAlive = 60
	proxy := NewClientProxy(cfg, "default", codec, events)
	require.NoError(t, proxy.Connect(context.Background(), true, nil))

	codec.enqueueRecv(&packets.PublishPacket{
		Topic: "x", Payload: []byte("p"), QoS: 1, PacketID: 42, Version: 5,
	})

	closed, err := proxy.Receive(context.Background())
	require.NoError(t, err)
	require.False(t, closed)

	require.Equal(t, []string{"puback", "receive"}, order)

	ackPkt := codec.Sent[len(codec.Sent)-1].(*packets.PubackPacket)
	require.Equal(t, uint16(42), ackPkt.PacketID)
}

func TestClientProxyPublishQoS0(t *testing.T) {
	codec := newFakeCodec()
	proxy := NewClientProxy(testConfig(t), "default", codec, nil)
	require.NoError(t, proxy.Connect(context.Background(), true, nil))

	err := proxy.Publish(context.Background(), "a/b", []byte("hi"), 0, false, false, nil)
	require.NoError(t, err)

	last := codec.Sent[len(codec.Sent)-1].(*packets.PublishPacket)
	require.Equal(t, "a/b", last.Topic)
	require.Equal(t, uint8(0), last.QoS)
}

func TestClientProxyPublishQoS1WaitsForPuback(t *testing.T) {
	codec := newFakeCodec()
	proxy := NewClientProxy(testConfig(t), "default", codec, nil)
	require.NoError(t, proxy.Connect(context.Background(), true, nil))

	go func() {
		time.Sleep(5 * time.Millisecond)
		codec.mu.Lock()
		var id uint16
		for _, p := range codec.Sent {
			if pub, ok := p.(*packets.PublishPacket); ok {
				id = pub.PacketID
			}
		}
		codec.mu.Unlock()
		codec.enqueueRecv(&packets.PubackPacket{PacketID: id, Version: 5})
	}()

	err := proxy.Publish(context.Background(), "a/b", []byte("hi"), 1, false, false, nil)
	require.NoError(t, err)
}

func TestClientProxyPublishQoS2Handshake(t *testing.T) {
	codec := newFakeCodec()
	proxy := NewClientProxy(testConfig(t), "default", codec, nil)
	require.NoError(t, proxy.Connect(context.Background(), true, nil))

	go func() {
		for {
			time.Sleep(2 * time.Millisecond)
			codec.mu.Lock()
			var id uint16
			for _, p := range codec.Sent {
				if pub, ok := p.(*packets.PublishPacket); ok {
					id = pub.PacketID
				}
			}
			codec.mu.Unlock()
			if id != 0 {
				codec.enqueueRecv(&packets.PubrecPacket{PacketID: id, Version: 5})
				break
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- proxy.Publish(context.Background(), "a/b", []byte("hi"), 2, false, false, nil)
	}()

	// wait for PUBREL to be sent, then reply with PUBCOMP
	var relID uint16
	require.Eventually(t, func() bool {
		codec.mu.Lock()
		defer codec.mu.Unlock()
		for _, p := range codec.Sent {
			if rel, ok := p.(*packets.PubrelPacket); ok {
				relID = rel.PacketID
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	codec.enqueueRecv(&packets.PubcompPacket{PacketID: relID, Version: 5})

	require.NoError(t, <-done)
}

func TestClientProxySubscribeUnsubscribe(t *testing.T) {
	codec := newFakeCodec()
	events := NewEventBus()

	var gotTopics []string
	unsub := events.OnSubscribeEvent(func(poolName, clientID string, topics []string, result SubscribeResult) {
		gotTopics = topics
	})
	defer unsub()

	proxy := NewClientProxy(testConfig(t), "default", codec, events)
	require.NoError(t, proxy.Connect(context.Background(), true, nil))

	go func() {
		time.Sleep(5 * time.Millisecond)
		codec.mu.Lock()
		var id uint16
		for _, p := range codec.Sent {
			if sub, ok := p.(*packets.SubscribePacket); ok {
				id = sub.PacketID
			}
		}
		codec.mu.Unlock()
		codec.enqueueRecv(&packets.SubackPacket{PacketID: id, ReturnCodes: []uint8{1}, Version: 5})
	}()

	res, err := proxy.Subscribe(context.Background(), map[string]TopicConfig{"x/y": {Topic: "x/y", QoS: 1}}, nil)
	require.NoError(t, err)
	require.Equal(t, []uint8{1}, res.ReturnCodes)
	require.Equal(t, []string{"x/y"}, gotTopics)

	go func() {
		time.Sleep(5 * time.Millisecond)
		codec.mu.Lock()
		var id uint16
		for _, p := range codec.Sent {
			if un, ok := p.(*packets.UnsubscribePacket); ok {
				id = un.PacketID
			}
		}
		codec.mu.Unlock()
		codec.enqueueRecv(&packets.UnsubackPacket{PacketID: id, Version: 5})
	}()

	require.NoError(t, proxy.Unsubscribe(context.Background(), []string{"x/y"}, nil))
}

func TestClientProxyMultiSub(t *testing.T) {
	codec := newFakeCodec()
	var subackCount int
	codec.onSend = func(p packets.Packet) {
		if sub, ok := p.(*packets.SubscribePacket); ok {
			subackCount++
			codec.enqueueRecv(&packets.SubackPacket{PacketID: sub.PacketID, ReturnCodes: []uint8{2}, Version: 5})
		}
	}
	proxy := NewClientProxy(testConfig(t), "default", codec, nil)
	require.NoError(t, proxy.Connect(context.Background(), true, nil))

	_, err := proxy.MultiSub(context.Background(), "work/jobs", TopicConfig{Topic: "work/jobs", QoS: 2}, nil, 3)
	require.NoError(t, err)
	require.Equal(t, 3, subackCount)
}
