package mq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, poolCfg *PoolConfig) (*Client, *PoolRegistry) {
	t.Helper()
	clientCfg, err := NewClientConfig("broker.local", 1883, WithKeepAlive(0))
	require.NoError(t, err)

	registry := NewPoolRegistry()
	registry.Register("default", clientCfg, poolCfg, WithDialer(newFakeBrokerDialer()))

	client := NewClient(registry, NewErrorHandler(newTestMetrics(t)), NewEventBus())
	return client, registry
}

func TestFacadeSubscribePublishRoundTrip(t *testing.T) {
	client, registry := newTestClient(t, NewPoolConfig(WithMaxConnections(2), WithWaitTimeout(1)))
	defer registry.Close()

	results, err := client.Subscribe(context.Background(), "default", map[string]TopicConfig{
		"sensors/#": {QoS: 1},
	})
	require.NoError(t, err)
	require.Contains(t, results, "sensors/#")

	err = client.Publish(context.Background(), "default", "sensors/a", []byte("1"), 1, false, false, nil)
	require.NoError(t, err)
}

func TestFacadeSubscribeExpandsSharedGroups(t *testing.T) {
	client, registry := newTestClient(t, NewPoolConfig(WithMaxConnections(2), WithWaitTimeout(1)))
	defer registry.Close()

	results, err := client.Subscribe(context.Background(), "default", map[string]TopicConfig{
		"sensors/#": {
			QoS:              1,
			EnableShareTopic: true,
			ShareTopic:       ShareTopicConfig{GroupName: []string{"A", "B"}},
		},
	})
	require.NoError(t, err)
	require.Contains(t, results, "$share/A/sensors/#")
	require.Contains(t, results, "$share/B/sensors/#")
}

func TestFacadeUnknownPoolReturnsError(t *testing.T) {
	client, registry := newTestClient(t, NewPoolConfig())
	defer registry.Close()

	_, err := client.Subscribe(context.Background(), "missing", map[string]TopicConfig{"a/b": {QoS: 0}})
	require.ErrorIs(t, err, ErrPoolNotFound)
}

// TestFacadeReleasesConnectionOnEveryCall covers SPEC_FULL §8 invariant 3:
// every acquire is paired with exactly one release, so a pool bounded to one
// connection can serve repeated sequential operations without exhausting it.
func TestFacadeReleasesConnectionOnEveryCall(t *testing.T) {
	client, registry := newTestClient(t, NewPoolConfig(WithMaxConnections(1), WithWaitTimeout(1)))
	defer registry.Close()

	for i := 0; i < 5; i++ {
		err := client.Publish(context.Background(), "default", "a/b", []byte("x"), 0, false, false, nil)
		require.NoError(t, err)
	}

	pool, ok := registry.Get("default")
	require.True(t, ok)
	require.LessOrEqual(t, pool.total, 1)
}

func TestFacadePublishRejectsInvalidTopic(t *testing.T) {
	client, registry := newTestClient(t, NewPoolConfig())
	defer registry.Close()

	err := client.Publish(context.Background(), "default", "a/+", []byte("x"), 0, false, false, nil)
	require.Error(t, err)
}
