// Package mq provides a pooled, concurrency-safe MQTT v5.0 and v3.1.1 client
// runtime for Go.
//
// Unlike a single unpooled connection, this package multiplexes callers
// behind a [Client] facade backed by one or more named [Pool]s of broker
// connections. Each connection is driven by its own single-threaded command
// loop (a [ClientProxy]), so at most one MQTT operation is ever in flight on
// a given socket; the facade borrows a connection for the span of one call
// and always returns it to the pool.
//
// # Features
//
//   - Full MQTT v5.0 and v3.1.1 support over the shared wire codec in internal/packets
//   - Shared subscriptions ($share/{group}/{topic}) and EMQX-style queue subscriptions ($queue/{topic})
//   - Multi-subscription fan-out: subscribing the same filter N times on one socket
//   - Per-operation circuit breakers with exponential backoff and jitter
//   - Bounded connection pools with idle eviction and wait-timeout acquisition
//   - Structured metrics (errors, latency percentiles, validation outcomes), mirrored to Prometheus
//   - Event dispatch for subscribe, publish, receive, and disconnect
//
// # Quick Start
//
//	registry := mq.NewPoolRegistry()
//	cfg, _ := mq.NewClientConfig("broker.example.com", 1883,
//	    mq.WithClientPrefix("worker"),
//	    mq.WithCleanSession(true))
//	registry.Register("default", cfg, mq.NewPoolConfig())
//
//	client := mq.NewClient(registry, mq.NewErrorHandler(mq.NewMetrics(nil)), mq.NewEventBus())
//
//	_, err := client.Subscribe(ctx, "default", map[string]mq.TopicConfig{
//	    "sensors/#": {QoS: uint8(mq.AtLeastOnce)},
//	})
//
// # Topic Transformations
//
// Declarative [TopicConfig] values are expanded by the subscribe listener
// before reaching the wire: queue subscriptions take priority over shared
// subscriptions, and either may be combined with multi-subscription fan-out.
// See [GenerateShareTopic], [GenerateQueueTopic], and [ParseTopic].
//
// # Error Handling
//
// Every facade call is wrapped by an [ErrorHandler] that classifies failures
// into a fixed [ErrorKind] taxonomy (configuration, connection, protocol,
// resource) via a single [RuntimeError] type, retries retryable kinds with
// backoff, and opens a per-operation circuit breaker after repeated failures.
package mq
