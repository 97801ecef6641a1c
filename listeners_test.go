package mq

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

// TestSubscribeListenerSharedGroupExpansion covers the shared-group fan-out
// scenario: one declarative topic config with two group names resolves to
// two wire-level subscriptions.
func TestSubscribeListenerSharedGroupExpansion(t *testing.T) {
	l := newSubscribeListener(newTestMetrics(t), nil)

	plan := l.plan([]TopicConfig{{
		Topic:            "sensors/#",
		QoS:              1,
		EnableShareTopic: true,
		ShareTopic:       ShareTopicConfig{GroupName: []string{"A", "B"}},
	}})

	require.Len(t, plan.single, 2)
	require.Contains(t, plan.single, "$share/A/sensors/#")
	require.Contains(t, plan.single, "$share/B/sensors/#")
	require.Empty(t, plan.multi)
}

// TestSubscribeListenerQueueOverridesShare covers the precedence rule: when
// both enableQueueTopic and enableShareTopic are set, only the queue topic is
// issued and the share groups are ignored.
func TestSubscribeListenerQueueOverridesShare(t *testing.T) {
	l := newSubscribeListener(newTestMetrics(t), nil)

	plan := l.plan([]TopicConfig{{
		Topic:            "sensors/#",
		QoS:              1,
		EnableQueueTopic: true,
		EnableShareTopic: true,
		ShareTopic:       ShareTopicConfig{GroupName: []string{"A", "B"}},
	}})

	require.Len(t, plan.single, 1)
	require.Contains(t, plan.single, "$queue/sensors/#")
}

// TestSubscribeListenerMultiSubFanOut covers a multi-subscription config
// being routed to plan.multi with its requested repeat count, rather than
// plan.single.
func TestSubscribeListenerMultiSubFanOut(t *testing.T) {
	l := newSubscribeListener(newTestMetrics(t), nil)

	plan := l.plan([]TopicConfig{{
		Topic:          "work/jobs",
		QoS:            2,
		EnableMultiSub: true,
		MultiSubNum:    3,
	}})

	require.Empty(t, plan.single)
	require.Len(t, plan.multi, 1)
	require.Equal(t, 3, plan.multi["work/jobs"].n)
}

func TestSubscribeListenerSkipsInvalidConfig(t *testing.T) {
	l := newSubscribeListener(newTestMetrics(t), nil)

	plan := l.plan([]TopicConfig{
		{Topic: "a/#/b", QoS: 1},       // invalid filter: # not last
		{Topic: "valid/topic", QoS: 0}, // valid
	})

	require.Len(t, plan.single, 1)
	require.Contains(t, plan.single, "valid/topic")
}

func TestPublishListenerValidate(t *testing.T) {
	l := newPublishListener(newTestMetrics(t), nil)

	require.NoError(t, l.validate("a/b", []byte("x"), 1))
	require.Error(t, l.validate("a/+", []byte("x"), 1))
	require.Error(t, l.validate("a/b", []byte("x"), 3))
}
