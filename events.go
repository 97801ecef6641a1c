package mq

import (
	"sync"
	"sync/atomic"

	"github.com/brokerlink/mqrt/internal/packets"
)

// OnSubscribeHandler observes a successful subscribe call.
type OnSubscribeHandler func(poolName, clientID string, topics []string, result SubscribeResult)

// OnReceiveHandler observes an inbound PUBLISH once any required ack has
// already been sent (SPEC_FULL §6's QoS 1 ordering invariant).
type OnReceiveHandler func(msg Message)

// OnDisconnectHandler observes the connection closing, whether broker-
// initiated (DISCONNECT packet) or transport-level.
type OnDisconnectHandler func(poolName string, reasonCode uint8, cause error)

// SubscribeEventHandler observes a SubscribeListener's resolved topic set
// before it is dispatched to the Facade.
type SubscribeEventHandler func(poolName string, configs []TopicConfig)

// PublishEventHandler observes a PublishListener's resolved publish.
type PublishEventHandler func(poolName, topic string, msg Message, qos uint8)

// EventUnsubscribeFunc detaches a previously registered handler.
type EventUnsubscribeFunc func()

// EventBus is a fan-out dispatcher for the five events the pooled runtime
// emits (SPEC_FULL §4.8). Handlers are plain Go functions rather than an
// interface, and registration is by event kind rather than by topic pattern,
// and each registration is kept in a handler map under its own id: each
// On*-family call returns an EventUnsubscribeFunc that removes only that
// registration.
//
// Dispatch is synchronous and runs on the calling ClientProxy's goroutine;
// handlers must not perform blocking MQTT operations or they will stall that
// connection's command loop (SPEC_FULL §4.8).
type EventBus struct {
	mu sync.RWMutex

	onSubscribe  map[uint64]OnSubscribeHandler
	onReceive    map[uint64]OnReceiveHandler
	onDisconnect map[uint64]OnDisconnectHandler
	subscribeEvt map[uint64]SubscribeEventHandler
	publishEvt   map[uint64]PublishEventHandler

	nextID atomic.Uint64
}

// NewEventBus constructs an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		onSubscribe:  make(map[uint64]OnSubscribeHandler),
		onReceive:    make(map[uint64]OnReceiveHandler),
		onDisconnect: make(map[uint64]OnDisconnectHandler),
		subscribeEvt: make(map[uint64]SubscribeEventHandler),
		publishEvt:   make(map[uint64]PublishEventHandler),
	}
}

// OnSubscribeEvent registers h to observe every successful subscribe call.
func (b *EventBus) OnSubscribeEvent(h OnSubscribeHandler) EventUnsubscribeFunc {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.onSubscribe[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.onSubscribe, id)
		b.mu.Unlock()
	}
}

// OnReceiveEvent registers h to observe every inbound PUBLISH.
func (b *EventBus) OnReceiveEvent(h OnReceiveHandler) EventUnsubscribeFunc {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.onReceive[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.onReceive, id)
		b.mu.Unlock()
	}
}

// OnDisconnectEvent registers h to observe connection loss.
func (b *EventBus) OnDisconnectEvent(h OnDisconnectHandler) EventUnsubscribeFunc {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.onDisconnect[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.onDisconnect, id)
		b.mu.Unlock()
	}
}

// OnSubscribeResolved registers h to observe a SubscribeListener's resolved
// topic set (the "SubscribeEvent" of SPEC_FULL §4.8).
func (b *EventBus) OnSubscribeResolved(h SubscribeEventHandler) EventUnsubscribeFunc {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subscribeEvt[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribeEvt, id)
		b.mu.Unlock()
	}
}

// OnPublishResolved registers h to observe a PublishListener's resolved
// publish (the "PublishEvent" of SPEC_FULL §4.8).
func (b *EventBus) OnPublishResolved(h PublishEventHandler) EventUnsubscribeFunc {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.publishEvt[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.publishEvt, id)
		b.mu.Unlock()
	}
}

func (b *EventBus) dispatchOnSubscribe(poolName, clientID string, topics []string, result SubscribeResult) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.onSubscribe {
		h(poolName, clientID, topics, result)
	}
}

func (b *EventBus) dispatchOnReceive(pkt *packets.PublishPacket, props *Properties) {
	msg := Message{
		Topic:      pkt.Topic,
		Payload:    pkt.Payload,
		QoS:        QoS(pkt.QoS),
		Retained:   pkt.Retain,
		Duplicate:  pkt.Dup,
		Properties: props,
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.onReceive {
		h(msg)
	}
}

func (b *EventBus) dispatchOnDisconnect(kind string, reasonCode uint8, poolName string, cfg *ClientConfig, cause error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.onDisconnect {
		h(poolName, reasonCode, cause)
	}
}

func (b *EventBus) dispatchSubscribeResolved(poolName string, configs []TopicConfig) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.subscribeEvt {
		h(poolName, configs)
	}
}

func (b *EventBus) dispatchPublishResolved(poolName, topic string, msg Message, qos uint8) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.publishEvt {
		h(poolName, topic, msg, qos)
	}
}
