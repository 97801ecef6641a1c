package mq

import (
	"log/slog"
)

// multiSubEntry pairs a resolved TopicConfig with the multi-subscription
// fan-out count it should be issued with.
type multiSubEntry struct {
	cfg TopicConfig
	n   int
}

// subscriptionPlan is the SubscribeListener's resolved output: a set of
// single-shot subscriptions and a set of multi-subscription fan-outs, each
// keyed by the final wire-level topic string.
type subscriptionPlan struct {
	single map[string]TopicConfig
	multi  map[string]multiSubEntry
}

// SubscribeListener translates declarative TopicConfig values into pool
// operations, applying the shared/queue/multi-sub topic transformations
// (SPEC_FULL §4.8). enableQueueTopic wins over enableShareTopic; invalid
// configs are recorded and skipped rather than failing the whole batch.
type SubscribeListener struct {
	metrics *Metrics
	logger  *slog.Logger
}

func newSubscribeListener(metrics *Metrics, logger *slog.Logger) *SubscribeListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscribeListener{metrics: metrics, logger: logger}
}

func (l *SubscribeListener) plan(configs []TopicConfig) subscriptionPlan {
	plan := subscriptionPlan{
		single: make(map[string]TopicConfig),
		multi:  make(map[string]multiSubEntry),
	}

	for _, cfg := range configs {
		if err := validateTopicConfig(cfg); err != nil {
			l.metrics.RecordValidation("topicConfig", false, err.Error())
			l.logger.Warn("mqrt: skipping invalid topic config", "topic", cfg.Topic, "error", err)
			continue
		}
		l.metrics.RecordValidation("topicConfig", true, "")

		wireTopics := l.resolveWireTopics(cfg)
		n := cfg.MultiSubNum
		if n < 1 {
			n = 1
		}

		for _, wt := range wireTopics {
			if cfg.EnableMultiSub {
				plan.multi[wt] = multiSubEntry{cfg: cfg, n: n}
			} else {
				plan.single[wt] = cfg
			}
		}
	}

	return plan
}

// resolveWireTopics applies SPEC_FULL §4.8's precedence: queue topics
// override shared topics; shared topics expand to one wire topic per group.
func (l *SubscribeListener) resolveWireTopics(cfg TopicConfig) []string {
	if cfg.EnableQueueTopic {
		return []string{GenerateQueueTopic(cfg.Topic)}
	}

	if cfg.EnableShareTopic {
		topics := make([]string, 0, len(cfg.ShareTopic.GroupName))
		for _, group := range cfg.ShareTopic.GroupName {
			t, err := GenerateShareTopic(cfg.Topic, group)
			if err != nil {
				l.metrics.RecordValidation("shareTopicGroup", false, err.Error())
				l.logger.Warn("mqrt: skipping invalid share group", "topic", cfg.Topic, "group", group, "error", err)
				continue
			}
			topics = append(topics, t)
		}
		return topics
	}

	return []string{cfg.Topic}
}

// PublishListener validates an outgoing publish and routes it to the
// Facade with its configured QoS/retain/properties (SPEC_FULL §4.8).
type PublishListener struct {
	metrics *Metrics
	logger  *slog.Logger
}

func newPublishListener(metrics *Metrics, logger *slog.Logger) *PublishListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishListener{metrics: metrics, logger: logger}
}

// validate checks topic/qos/payload constraints before a publish is issued,
// recording the outcome to metrics.
func (l *PublishListener) validate(topic string, payload []byte, qos uint8) error {
	if err := IsValidTopicName(topic, 0); err != nil {
		l.metrics.RecordValidation("publishTopic", false, err.Error())
		return err
	}
	if !isValidQoS(int(qos)) {
		err := NewInvalidConfigError("qos", "qos must be 0, 1, or 2")
		l.metrics.RecordValidation("publishTopic", false, err.Error())
		return err
	}
	if err := validatePayload(payload, 0); err != nil {
		l.metrics.RecordValidation("publishTopic", false, err.Error())
		return err
	}
	l.metrics.RecordValidation("publishTopic", true, "")
	return nil
}
