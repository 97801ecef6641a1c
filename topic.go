package mq

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MQTT specification limits (defaults when not configured)
const (
	// DefaultMaxTopicLength is the maximum length of an MQTT topic (2 bytes for length prefix).
	DefaultMaxTopicLength = 65535

	// DefaultMaxPayloadSize is the maximum size of an MQTT message payload (256MB).
	DefaultMaxPayloadSize = 268435455 // 256MB - 1

	// DefaultMaxIncomingPacket is the maximum size of an incoming MQTT packet.
	DefaultMaxIncomingPacket = 268435455 // 256MB - 1

	// MaxClientIDLength is the recommended maximum client ID length.
	MaxClientIDLength = 65535
)

const (
	sharePrefix = "$share/"
	queuePrefix = "$queue/"
)

var groupNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TopicKind classifies a topic string as produced by the topic parser.
type TopicKind int

const (
	// TopicKindRegular is a plain topic filter or name.
	TopicKindRegular TopicKind = iota
	// TopicKindShared is a $share/{group}/{topic} shared subscription.
	TopicKindShared
	// TopicKindQueue is a $queue/{topic} queue subscription (EMQX-style).
	TopicKindQueue
)

// ParsedTopic is the result of decomposing a wire-level topic string back
// into its base topic and, for shared subscriptions, the group name.
type ParsedTopic struct {
	Kind      TopicKind
	BaseTopic string
	GroupName string
}

// GenerateShareTopic builds a shared-subscription topic filter
// "$share/{group}/{topic}". The group must match [A-Za-z0-9_-]+.
func GenerateShareTopic(topic, group string) (string, error) {
	if !groupNamePattern.MatchString(group) {
		return "", NewInvalidConfigError("shareTopic.groupName", fmt.Sprintf("group name %q must match [A-Za-z0-9_-]+", group))
	}
	return sharePrefix + group + "/" + topic, nil
}

// GenerateQueueTopic builds a queue-subscription topic filter "$queue/{topic}".
func GenerateQueueTopic(topic string) string {
	return queuePrefix + topic
}

// ParseTopic decomposes a wire-level topic string produced by
// GenerateShareTopic or GenerateQueueTopic back into its components. Plain
// topics parse as TopicKindRegular with BaseTopic set to the input.
func ParseTopic(topic string) (ParsedTopic, error) {
	switch {
	case strings.HasPrefix(topic, sharePrefix):
		rest := topic[len(sharePrefix):]
		idx := strings.IndexByte(rest, '/')
		if idx <= 0 || idx == len(rest)-1 {
			return ParsedTopic{}, NewInvalidConfigError("topic", fmt.Sprintf("malformed shared topic %q", topic))
		}
		return ParsedTopic{Kind: TopicKindShared, GroupName: rest[:idx], BaseTopic: rest[idx+1:]}, nil
	case strings.HasPrefix(topic, queuePrefix):
		base := topic[len(queuePrefix):]
		if base == "" {
			return ParsedTopic{}, NewInvalidConfigError("topic", fmt.Sprintf("malformed queue topic %q", topic))
		}
		return ParsedTopic{Kind: TopicKindQueue, BaseTopic: base}, nil
	default:
		return ParsedTopic{Kind: TopicKindRegular, BaseTopic: topic}, nil
	}
}

// GenerateTopicArray wraps a single topic and its per-topic properties into
// the single-entry map shape the codec expects for SUBSCRIBE/UNSUBSCRIBE
// requests built from one TopicConfig.
func GenerateTopicArray(topic string, properties map[string]string) map[string]map[string]string {
	return map[string]map[string]string{topic: properties}
}

// matchTopic checks if a topic matches a topic filter with MQTT wildcards.
// Supports:
//   - '+' matches a single level
//   - '#' matches multiple levels (must be last character)
func matchTopic(filter, topic string) bool {
	// MQTT-4.7.2-1: topic filters starting with a wildcard must not match
	// topic names beginning with '$'.
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fIdx := 0
	tIdx := 0
	fLen := len(filter)
	tLen := len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int

		if idx := strings.IndexByte(filter[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = filter[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = filter[fIdx:]
		}

		if fLevel == "#" {
			return true
		}

		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int

		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel == "+" {
			// matches this level
		} else if fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}

		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}

// IsValidTopicName reports whether s is usable as a PUBLISH topic name:
// non-empty, within the length limit, wildcard-free, null-byte-free, valid UTF-8.
func IsValidTopicName(s string, maxLen int) error {
	if s == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	limit := getLimit(maxLen, DefaultMaxTopicLength)
	if len(s) > limit {
		return fmt.Errorf("topic length %d exceeds maximum %d", len(s), limit)
	}

	if strings.Contains(s, "+") {
		return fmt.Errorf("topic contains single-level wildcard '+' which is not allowed in PUBLISH")
	}

	if strings.Contains(s, "#") {
		return fmt.Errorf("topic contains multi-level wildcard '#' which is not allowed in PUBLISH")
	}

	if strings.Contains(s, "\x00") {
		return fmt.Errorf("topic contains null byte which is not allowed")
	}

	if !utf8.ValidString(s) {
		return fmt.Errorf("topic is not valid UTF-8")
	}

	return nil
}

// IsValidTopicFilter reports whether s is usable as a SUBSCRIBE topic filter:
// wildcards are permitted, but '+' must occupy an entire level and '#' must
// be the final level.
func IsValidTopicFilter(s string, maxLen int) error {
	if s == "" {
		return fmt.Errorf("topic filter cannot be empty")
	}

	limit := getLimit(maxLen, DefaultMaxTopicLength)
	if len(s) > limit {
		return fmt.Errorf("topic filter length %d exceeds maximum %d", len(s), limit)
	}

	if strings.Contains(s, "\x00") {
		return fmt.Errorf("topic filter contains null byte which is not allowed")
	}

	if !utf8.ValidString(s) {
		return fmt.Errorf("topic filter is not valid UTF-8")
	}

	parts := strings.Split(s, "/")
	for i, part := range parts {
		if strings.Contains(part, "+") && part != "+" {
			return fmt.Errorf("single-level wildcard '+' must occupy entire topic level")
		}

		if strings.Contains(part, "#") {
			if part != "#" {
				return fmt.Errorf("multi-level wildcard '#' must occupy entire topic level")
			}
			if i != len(parts)-1 {
				return fmt.Errorf("multi-level wildcard '#' must be the last level")
			}
		}
	}

	return nil
}

// validatePayload validates message payload size against the configured limit.
func validatePayload(payload []byte, maxSize int) error {
	limit := getLimit(maxSize, DefaultMaxPayloadSize)
	if len(payload) > limit {
		return fmt.Errorf("payload size %d exceeds maximum %d", len(payload), limit)
	}
	return nil
}

// validatePayloadFormat checks that payload conforms to the declared
// PayloadFormat indicator: if UTF-8 (1), the payload must be valid UTF-8.
func validatePayloadFormat(payload []byte, props *Properties) error {
	if props == nil || props.PayloadFormat == nil || *props.PayloadFormat == PayloadFormatBytes {
		return nil
	}

	if !utf8.Valid(payload) {
		return fmt.Errorf("payload is not valid UTF-8 as required by PayloadFormat indicator")
	}
	return nil
}

// getLimit returns the configured limit or the default if not set.
func getLimit(configured, defaultLimit int) int {
	if configured > 0 {
		return configured
	}
	return defaultLimit
}
