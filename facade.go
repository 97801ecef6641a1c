package mq

import (
	"context"
)

// Client is the public façade: it resolves a pool by name, acquires a
// connection, invokes the proxy operation, and releases the connection on
// every exit path (SPEC_FULL §4.7). It carries no connection state itself.
type Client struct {
	registry *PoolRegistry
	errors   *ErrorHandler
	events   *EventBus
	subs     *SubscribeListener
	pubs     *PublishListener
}

// NewClient constructs a Client backed by registry, wrapping every operation
// through errorHandler and routing listener-resolved events through events
// (may be nil to disable SubscribeEvent/PublishEvent dispatch).
func NewClient(registry *PoolRegistry, errorHandler *ErrorHandler, events *EventBus) *Client {
	return &Client{
		registry: registry,
		errors:   errorHandler,
		events:   events,
		subs:     newSubscribeListener(errorHandler.metrics, errorHandler.logger),
		pubs:     newPublishListener(errorHandler.metrics, errorHandler.logger),
	}
}

func (c *Client) pool(poolName string) (*Pool, error) {
	p, ok := c.registry.Get(poolName)
	if !ok {
		return nil, &RuntimeError{Kind: KindInvalidConfig, Op: poolName, Message: "pool not registered", Cause: ErrPoolNotFound}
	}
	return p, nil
}

// Subscribe sends SUBSCRIBE for topics on poolName, validating each
// TopicConfig and applying the shared/queue/multi-sub transformations a
// SubscribeListener would (SPEC_FULL §4.8), returning the per-topic-string
// SubscribeResult actually issued to the broker.
func (c *Client) Subscribe(ctx context.Context, poolName string, topics map[string]TopicConfig) (map[string]SubscribeResult, error) {
	configs := make([]TopicConfig, 0, len(topics))
	for topic, cfg := range topics {
		cfg.Topic = topic
		configs = append(configs, cfg)
	}

	return wrapOperation(ctx, c.errors, "mqtt.subscribe", func(ctx context.Context) (map[string]SubscribeResult, error) {
		pool, err := c.pool(poolName)
		if err != nil {
			return nil, err
		}

		conn, err := pool.acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer pool.release(conn)

		proxy, err := conn.getActiveConnection(ctx)
		if err != nil {
			return nil, err
		}

		plan := c.subs.plan(configs)
		if c.events != nil {
			c.events.dispatchSubscribeResolved(poolName, configs)
		}

		results := make(map[string]SubscribeResult, len(plan.single)+len(plan.multi))
		for wireTopic, cfg := range plan.single {
			res, err := proxy.Subscribe(ctx, map[string]TopicConfig{wireTopic: cfg}, cfg.Properties)
			if err != nil {
				return results, err
			}
			results[wireTopic] = res
		}
		for wireTopic, m := range plan.multi {
			res, err := proxy.MultiSub(ctx, wireTopic, m.cfg, m.cfg.Properties, m.n)
			if err != nil {
				return results, err
			}
			results[wireTopic] = res
		}

		return results, nil
	})
}

// MultiSub subscribes topic the same filter n times on one socket
// (SPEC_FULL §4.3/§4.6), bypassing the shared/queue transformation pipeline
// for callers that already hold a final wire-level topic string.
func (c *Client) MultiSub(ctx context.Context, poolName, topic string, cfg TopicConfig, n int) (SubscribeResult, error) {
	return wrapOperation(ctx, c.errors, "mqtt.subscribe", func(ctx context.Context) (SubscribeResult, error) {
		pool, err := c.pool(poolName)
		if err != nil {
			return SubscribeResult{}, err
		}
		conn, err := pool.acquire(ctx)
		if err != nil {
			return SubscribeResult{}, err
		}
		defer pool.release(conn)

		proxy, err := conn.getActiveConnection(ctx)
		if err != nil {
			return SubscribeResult{}, err
		}
		return proxy.MultiSub(ctx, topic, cfg, cfg.Properties, n)
	})
}

// Unsubscribe sends UNSUBSCRIBE for topics on poolName.
func (c *Client) Unsubscribe(ctx context.Context, poolName string, topics []string, properties map[string]string) error {
	_, err := wrapOperation(ctx, c.errors, "mqtt.unsubscribe", func(ctx context.Context) (struct{}, error) {
		pool, err := c.pool(poolName)
		if err != nil {
			return struct{}{}, err
		}
		conn, err := pool.acquire(ctx)
		if err != nil {
			return struct{}{}, err
		}
		defer pool.release(conn)

		proxy, err := conn.getActiveConnection(ctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, proxy.Unsubscribe(ctx, topics, properties)
	})
	return err
}

// Publish sends PUBLISH on poolName, blocking until the requested QoS
// handshake completes.
func (c *Client) Publish(ctx context.Context, poolName, topic string, payload []byte, qos uint8, dup, retain bool, properties *Properties) error {
	_, err := wrapOperation(ctx, c.errors, "mqtt.publish", func(ctx context.Context) (struct{}, error) {
		if err := c.pubs.validate(topic, payload, qos); err != nil {
			return struct{}{}, err
		}

		pool, err := c.pool(poolName)
		if err != nil {
			return struct{}{}, err
		}
		conn, err := pool.acquire(ctx)
		if err != nil {
			return struct{}{}, err
		}
		defer pool.release(conn)

		proxy, err := conn.getActiveConnection(ctx)
		if err != nil {
			return struct{}{}, err
		}
		err = proxy.Publish(ctx, topic, payload, qos, dup, retain, properties)
		if err == nil && c.events != nil {
			msg := Message{Topic: topic, Payload: payload, QoS: QoS(qos), Retained: retain, Properties: properties}
			c.events.dispatchPublishResolved(poolName, topic, msg, qos)
		}
		return struct{}{}, err
	})
	return err
}
