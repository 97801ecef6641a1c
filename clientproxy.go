package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/brokerlink/mqrt/internal/packets"
)

// SubscribeResult reports the broker's SUBACK outcome for a subscribe call.
type SubscribeResult struct {
	Topics      []string
	ReturnCodes []uint8
}

// proxyCommandKind identifies which operation a command record requests.
// Command records (not closures) are the explicit re-architecture SPEC_FULL
// §9 calls for: "closures are not portable... model as a goroutine owning a
// bounded channel of command records {kind, args, replyChan} with a dispatch
// switch."
type proxyCommandKind int

const (
	cmdConnect proxyCommandKind = iota
	cmdPublish
	cmdSubscribe
	cmdUnsubscribe
	cmdReceive
	cmdClose
)

type connectArgs struct {
	clean bool
	will  *Will
}

type publishArgs struct {
	topic      string
	payload    []byte
	qos        uint8
	dup        bool
	retain     bool
	properties *Properties
}

type subscribeArgs struct {
	topics     map[string]TopicConfig
	properties map[string]string
}

type unsubscribeArgs struct {
	topics     []string
	properties map[string]string
}

type proxyReply struct {
	value any
	err   error
}

type proxyCommand struct {
	kind  proxyCommandKind
	args  any
	reply chan proxyReply
}

// ClientProxy is the single-connection command loop that serializes every
// MQTT operation on one socket (SPEC_FULL §4.3). At most one operation is
// ever in flight against the underlying ProtocolCodec.
type ClientProxy struct {
	cfg      *ClientConfig
	poolName string
	codec    ProtocolCodec
	events   *EventBus
	logger   *slog.Logger

	cmdCh  chan *proxyCommand
	done   chan struct{}
	closed atomic.Bool

	timeSincePing time.Time
	nextPacketID  uint32
	pendingIDs    map[uint16]bool
}

// NewClientProxy constructs a ClientProxy bound to codec and starts its
// command loop goroutine. Callers must call connect before any other
// operation.
func NewClientProxy(cfg *ClientConfig, poolName string, codec ProtocolCodec, events *EventBus) *ClientProxy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &ClientProxy{
		cfg:           cfg,
		poolName:      poolName,
		codec:         codec,
		events:        events,
		logger:        logger,
		cmdCh:         make(chan *proxyCommand),
		done:          make(chan struct{}),
		timeSincePing: time.Now(),
		pendingIDs:    make(map[uint16]bool),
	}

	go p.loop()
	return p
}

// IsClosed reports whether the proxy's command loop has exited.
func (p *ClientProxy) IsClosed() bool {
	return p.closed.Load()
}

// loop is the goroutine that owns the socket and processes exactly one
// command at a time, FIFO, until the command channel is closed.
func (p *ClientProxy) loop() {
	defer close(p.done)
	defer p.closed.Store(true)

	for cmd := range p.cmdCh {
		switch cmd.kind {
		case cmdConnect:
			a := cmd.args.(connectArgs)
			err := p.doConnect(a)
			cmd.reply <- proxyReply{err: err}

		case cmdPublish:
			a := cmd.args.(publishArgs)
			err := p.doPublish(a)
			cmd.reply <- proxyReply{err: err}

		case cmdSubscribe:
			a := cmd.args.(subscribeArgs)
			res, err := p.doSubscribe(a)
			cmd.reply <- proxyReply{value: res, err: err}

		case cmdUnsubscribe:
			a := cmd.args.(unsubscribeArgs)
			err := p.doUnsubscribe(a)
			cmd.reply <- proxyReply{err: err}

		case cmdReceive:
			closed, err := p.doReceive()
			cmd.reply <- proxyReply{value: closed, err: err}
			if closed {
				_ = p.codec.Close()
				return
			}

		case cmdClose:
			_ = p.codec.Close()
			cmd.reply <- proxyReply{}
			return
		}
	}
}

// submit enqueues a command and waits for its reply, implementing the
// one-shot reply channel pattern of SPEC_FULL §4.3.
func (p *ClientProxy) submit(ctx context.Context, kind proxyCommandKind, args any) (any, error) {
	if p.closed.Load() {
		return nil, ErrClientDisconnected
	}

	reply := make(chan proxyReply, 1)
	cmd := &proxyCommand{kind: kind, args: args, reply: reply}

	select {
	case p.cmdCh <- cmd:
	case <-p.done:
		return nil, ErrClientDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect issues CONNECT and blocks for CONNACK.
func (p *ClientProxy) Connect(ctx context.Context, clean bool, will *Will) error {
	_, err := p.submit(ctx, cmdConnect, connectArgs{clean: clean, will: will})
	return err
}

// Publish sends a PUBLISH, blocking until the QoS handshake (if any) completes.
func (p *ClientProxy) Publish(ctx context.Context, topic string, payload []byte, qos uint8, dup, retain bool, properties *Properties) error {
	_, err := p.submit(ctx, cmdPublish, publishArgs{topic: topic, payload: payload, qos: qos, dup: dup, retain: retain, properties: properties})
	return err
}

// Subscribe sends SUBSCRIBE for the given topics and blocks until SUBACK.
func (p *ClientProxy) Subscribe(ctx context.Context, topics map[string]TopicConfig, properties map[string]string) (SubscribeResult, error) {
	v, err := p.submit(ctx, cmdSubscribe, subscribeArgs{topics: topics, properties: properties})
	if v == nil {
		return SubscribeResult{}, err
	}
	return v.(SubscribeResult), err
}

// MultiSub subscribes the same topic n times on this socket, sequentially
// (SPEC_FULL §4.3).
func (p *ClientProxy) MultiSub(ctx context.Context, topic string, cfg TopicConfig, properties map[string]string, n int) (SubscribeResult, error) {
	var last SubscribeResult
	for i := 0; i < n; i++ {
		res, err := p.Subscribe(ctx, map[string]TopicConfig{topic: cfg}, properties)
		if err != nil {
			return last, err
		}
		last = res
	}
	return last, nil
}

// Unsubscribe sends UNSUBSCRIBE and blocks until UNSUBACK.
func (p *ClientProxy) Unsubscribe(ctx context.Context, topics []string, properties map[string]string) error {
	_, err := p.submit(ctx, cmdUnsubscribe, unsubscribeArgs{topics: topics, properties: properties})
	return err
}

// Receive performs one receive-loop iteration (SPEC_FULL §4.3 algorithm):
// read one packet, handle keepalive/ack/disconnect bookkeeping, dispatch an
// event, and report whether the connection closed.
func (p *ClientProxy) Receive(ctx context.Context) (closed bool, err error) {
	v, err := p.submit(ctx, cmdReceive, nil)
	if v == nil {
		return false, err
	}
	return v.(bool), err
}

// Close terminates the command loop and the underlying socket. Idempotent.
func (p *ClientProxy) Close(ctx context.Context) error {
	_, err := p.submit(ctx, cmdClose, nil)
	if err == ErrClientDisconnected {
		return nil
	}
	return err
}

func (p *ClientProxy) allocatePacketID() uint16 {
	for {
		id := uint16(atomic.AddUint32(&p.nextPacketID, 1))
		if id == 0 {
			continue
		}
		if !p.pendingIDs[id] {
			p.pendingIDs[id] = true
			return id
		}
	}
}

func (p *ClientProxy) releasePacketID(id uint16) {
	delete(p.pendingIDs, id)
}

func (p *ClientProxy) doConnect(a connectArgs) error {
	ctx := context.Background()

	pkt := &packets.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: uint8(p.cfg.ProtocolLevel),
		CleanSession:  a.clean,
		KeepAlive:     uint16(p.cfg.KeepAlive),
		ClientID:      p.cfg.ClientID,
		Username:      p.cfg.Username,
		Password:      p.cfg.Password,
		UsernameFlag:  p.cfg.Username != "",
		PasswordFlag:  p.cfg.Password != "",
		Properties:    toInternalProperties(p.cfg.Properties),
	}
	if a.will != nil {
		pkt.WillFlag = true
		pkt.WillTopic = a.will.Topic
		pkt.WillMessage = a.will.Message
		pkt.WillQoS = a.will.QoS
		pkt.WillRetain = a.will.Retain
		pkt.WillProperties = toInternalProperties(a.will.Properties)
	}

	if err := p.codec.Send(ctx, pkt); err != nil {
		return NewConnectionFailureError("mqtt.connect", err)
	}

	for {
		recvd, err := p.codec.Recv(ctx)
		if err != nil {
			return NewConnectionFailureError("mqtt.connect", err)
		}
		switch ack := recvd.(type) {
		case *packets.ConnackPacket:
			if ack.ReturnCode != packets.ConnAccepted {
				return NewConnectionFailureError("mqtt.connect", fmt.Errorf("broker refused connection: code %d", ack.ReturnCode))
			}
			p.timeSincePing = time.Now()
			return nil
		default:
			// Anything else before CONNACK is a protocol violation; drop and keep waiting
			// for a bounded number of stray packets is unnecessary here since brokers
			// must respond with CONNACK first.
			return NewProtocolError("mqtt.connect", "expected CONNACK", nil)
		}
	}
}

func (p *ClientProxy) doPublish(a publishArgs) error {
	ctx := context.Background()

	if err := IsValidTopicName(a.topic, 0); err != nil {
		return NewInvalidConfigError("topic", err.Error())
	}
	if !isValidQoS(int(a.qos)) {
		return NewInvalidConfigError("qos", fmt.Sprintf("invalid qos %d", a.qos))
	}

	pkt := &packets.PublishPacket{
		Topic:      a.topic,
		Payload:    a.payload,
		QoS:        a.qos,
		Dup:        a.dup,
		Retain:     a.retain,
		Version:    uint8(p.cfg.ProtocolLevel),
		Properties: toInternalProperties(a.properties),
	}

	if a.qos == 0 {
		if err := p.codec.Send(ctx, pkt); err != nil {
			return NewConnectionFailureError("mqtt.publish", err)
		}
		return nil
	}

	id := p.allocatePacketID()
	defer p.releasePacketID(id)
	pkt.PacketID = id

	if err := p.codec.Send(ctx, pkt); err != nil {
		return NewConnectionFailureError("mqtt.publish", err)
	}

	if a.qos == 1 {
		return p.waitForAck(ctx, "mqtt.publish", func(recvd packets.Packet) (bool, error) {
			ack, ok := recvd.(*packets.PubackPacket)
			return ok && ack.PacketID == id, nil
		})
	}

	// QoS 2: wait for PUBREC, send PUBREL, wait for PUBCOMP.
	err := p.waitForAck(ctx, "mqtt.publish", func(recvd packets.Packet) (bool, error) {
		rec, ok := recvd.(*packets.PubrecPacket)
		return ok && rec.PacketID == id, nil
	})
	if err != nil {
		return err
	}

	rel := &packets.PubrelPacket{PacketID: id, Version: uint8(p.cfg.ProtocolLevel)}
	if err := p.codec.Send(ctx, rel); err != nil {
		return NewConnectionFailureError("mqtt.publish", err)
	}

	return p.waitForAck(ctx, "mqtt.publish", func(recvd packets.Packet) (bool, error) {
		comp, ok := recvd.(*packets.PubcompPacket)
		return ok && comp.PacketID == id, nil
	})
}

func (p *ClientProxy) doSubscribe(a subscribeArgs) (SubscribeResult, error) {
	ctx := context.Background()

	topics := make([]string, 0, len(a.topics))
	qoses := make([]uint8, 0, len(a.topics))
	noLocal := make([]bool, 0, len(a.topics))
	retainAsPublished := make([]bool, 0, len(a.topics))
	retainHandling := make([]uint8, 0, len(a.topics))

	for topic, cfg := range a.topics {
		if err := validateTopicConfig(cfg); err != nil {
			return SubscribeResult{}, err
		}
		topics = append(topics, topic)
		qoses = append(qoses, cfg.QoS)
		noLocal = append(noLocal, cfg.NoLocal)
		retainAsPublished = append(retainAsPublished, cfg.RetainAsPublished)
		retainHandling = append(retainHandling, cfg.RetainHandling)
	}

	id := p.allocatePacketID()
	defer p.releasePacketID(id)

	pkt := &packets.SubscribePacket{
		PacketID:          id,
		Topics:            topics,
		QoS:               qoses,
		NoLocal:           noLocal,
		RetainAsPublished: retainAsPublished,
		RetainHandling:    retainHandling,
		Version:           uint8(p.cfg.ProtocolLevel),
	}

	if err := p.codec.Send(ctx, pkt); err != nil {
		return SubscribeResult{}, NewConnectionFailureError("mqtt.subscribe", err)
	}

	var result SubscribeResult
	err := p.waitForAck(ctx, "mqtt.subscribe", func(recvd packets.Packet) (bool, error) {
		ack, ok := recvd.(*packets.SubackPacket)
		if !ok || ack.PacketID != id {
			return false, nil
		}
		result = SubscribeResult{Topics: topics, ReturnCodes: ack.ReturnCodes}
		return true, nil
	})
	if err != nil {
		return SubscribeResult{}, err
	}

	if p.events != nil {
		p.events.dispatchOnSubscribe(p.poolName, p.cfg.ClientID, topics, result)
	}

	return result, nil
}

func (p *ClientProxy) doUnsubscribe(a unsubscribeArgs) error {
	ctx := context.Background()

	id := p.allocatePacketID()
	defer p.releasePacketID(id)

	pkt := &packets.UnsubscribePacket{
		PacketID: id,
		Topics:   a.topics,
		Version:  uint8(p.cfg.ProtocolLevel),
	}

	if err := p.codec.Send(ctx, pkt); err != nil {
		return NewConnectionFailureError("mqtt.unsubscribe", err)
	}

	return p.waitForAck(ctx, "mqtt.unsubscribe", func(recvd packets.Packet) (bool, error) {
		ack, ok := recvd.(*packets.UnsubackPacket)
		return ok && ack.PacketID == id, nil
	})
}

// waitForAck reads packets until match returns true for one of them,
// dispatching any unrelated packets it encounters along the way (stray
// PUBLISHes, PINGRESP) exactly as the continuously-running receive loop
// would, so no event is lost while an operation occupies the socket.
func (p *ClientProxy) waitForAck(ctx context.Context, op string, match func(packets.Packet) (bool, error)) error {
	for {
		recvd, err := p.codec.Recv(ctx)
		if err != nil {
			return NewConnectionFailureError(op, err)
		}

		ok, err := match(recvd)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		p.dispatchIncoming(recvd)
	}
}

// doReceive implements the receive-loop algorithm of SPEC_FULL §4.3.
func (p *ClientProxy) doReceive() (closed bool, err error) {
	ctx := context.Background()

	if p.cfg.KeepAlive > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.KeepAlive)*time.Second)
		defer cancel()
	}

	if p.cfg.KeepAlive > 0 && time.Since(p.timeSincePing) >= time.Duration(p.cfg.KeepAlive)*time.Second {
		if err := p.codec.Send(ctx, &packets.PingreqPacket{}); err != nil {
			return true, NewConnectionFailureError("mqtt.receive", err)
		}
	}

	recvd, err := p.codec.Recv(ctx)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			// keep-alive receive timeout: the connection stays open
			return false, NewConnectionFailureError("mqtt.receive", err)
		}
		if p.events != nil {
			p.events.dispatchOnDisconnect("transport", 0, p.poolName, p.cfg, err)
		}
		return true, NewConnectionFailureError("mqtt.receive", err)
	}

	switch pkt := recvd.(type) {
	case *packets.PingrespPacket:
		p.timeSincePing = time.Now()
		return false, nil

	case *packets.DisconnectPacket:
		if p.events != nil {
			p.events.dispatchOnDisconnect("disconnect", pkt.ReasonCode, p.poolName, p.cfg, nil)
		}
		return true, nil

	case *packets.PublishPacket:
		if pkt.QoS == 1 {
			ack := &packets.PubackPacket{PacketID: pkt.PacketID, Version: uint8(p.cfg.ProtocolLevel)}
			if err := p.codec.Send(ctx, ack); err != nil {
				return true, NewConnectionFailureError("mqtt.receive", err)
			}
		} else if pkt.QoS == 2 {
			rec := &packets.PubrecPacket{PacketID: pkt.PacketID, Version: uint8(p.cfg.ProtocolLevel)}
			if err := p.codec.Send(ctx, rec); err != nil {
				return true, NewConnectionFailureError("mqtt.receive", err)
			}
		}
		if p.events != nil {
			p.events.dispatchOnReceive(pkt, toPublicProperties(pkt.Properties))
		}
		return false, nil

	default:
		p.dispatchIncoming(recvd)
		return false, nil
	}
}

// dispatchIncoming handles a packet observed outside the main Receive
// command (e.g. while waitForAck is draining the socket for a different
// operation). PUBLISH is acked and dispatched identically to doReceive;
// everything else is logged and ignored.
func (p *ClientProxy) dispatchIncoming(recvd packets.Packet) {
	pkt, ok := recvd.(*packets.PublishPacket)
	if !ok {
		p.logger.Debug("mqrt: ignoring unsolicited packet", "type", packets.PacketNames[recvd.Type()])
		return
	}

	ctx := context.Background()
	if pkt.QoS == 1 {
		ack := &packets.PubackPacket{PacketID: pkt.PacketID, Version: uint8(p.cfg.ProtocolLevel)}
		_ = p.codec.Send(ctx, ack)
	} else if pkt.QoS == 2 {
		rec := &packets.PubrecPacket{PacketID: pkt.PacketID, Version: uint8(p.cfg.ProtocolLevel)}
		_ = p.codec.Send(ctx, rec)
	}
	if p.events != nil {
		p.events.dispatchOnReceive(pkt, toPublicProperties(pkt.Properties))
	}
}

