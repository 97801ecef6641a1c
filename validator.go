package mq

import (
	"fmt"
	"net"
	"unicode"
)

// isValidHost reports whether s is a non-empty, ≤253-byte hostname or a
// parseable IPv4/IPv6 literal.
func isValidHost(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	if net.ParseIP(s) != nil {
		return true
	}
	// Bare hostname validation: labels separated by '.', each
	// alphanumeric/hyphen, not starting/ending with '-'.
	for _, label := range splitLabels(s) {
		if !isValidHostLabel(label) {
			return false
		}
	}
	return true
}

func splitLabels(s string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			labels = append(labels, s[start:i])
			start = i + 1
		}
	}
	labels = append(labels, s[start:])
	return labels
}

func isValidHostLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
			return false
		}
	}
	return true
}

// isValidPort reports whether n is in the valid TCP port range [1, 65535].
func isValidPort(n int) bool {
	return n >= 1 && n <= 65535
}

// isValidQoS reports whether n is one of the three MQTT QoS levels.
func isValidQoS(n int) bool {
	return n == 0 || n == 1 || n == 2
}

// isValidClientID reports whether s is a non-empty, printable client
// identifier within the wire length limit.
func isValidClientID(s string) bool {
	if s == "" || len(s) > MaxClientIDLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// validateClientConfig aggregates every violation in cfg and returns a
// single InvalidConfig error, or nil if cfg is sound.
func validateClientConfig(cfg *ClientConfig) error {
	var reasons []string

	if !isValidHost(cfg.Host) {
		reasons = append(reasons, fmt.Sprintf("host %q is not a valid hostname or IP address", cfg.Host))
	}
	if !isValidPort(cfg.Port) {
		reasons = append(reasons, fmt.Sprintf("port %d must be between 1 and 65535", cfg.Port))
	}
	if cfg.KeepAlive < 0 {
		reasons = append(reasons, "keepAlive must be >= 0")
	}
	if cfg.ProtocolLevel != 4 && cfg.ProtocolLevel != 5 {
		reasons = append(reasons, fmt.Sprintf("protocolLevel %d must be 4 (v3.1.1) or 5 (v5.0)", cfg.ProtocolLevel))
	}
	if cfg.ClientID != "" && !isValidClientID(cfg.ClientID) {
		reasons = append(reasons, fmt.Sprintf("clientId %q is not valid", cfg.ClientID))
	}
	if cfg.Will != nil {
		if err := IsValidTopicName(cfg.Will.Topic, 0); err != nil {
			reasons = append(reasons, fmt.Sprintf("will topic invalid: %v", err))
		}
		if !isValidQoS(int(cfg.Will.QoS)) {
			reasons = append(reasons, fmt.Sprintf("will qos %d must be 0, 1, or 2", cfg.Will.QoS))
		}
	}

	if len(reasons) > 0 {
		return NewInvalidConfigErrors(reasons)
	}
	return nil
}

// validateTopicConfig aggregates every violation in cfg and returns a
// single InvalidConfig error, or nil if cfg is sound.
func validateTopicConfig(cfg TopicConfig) error {
	var reasons []string

	if err := IsValidTopicFilter(cfg.Topic, 0); err != nil {
		reasons = append(reasons, err.Error())
	}
	if !isValidQoS(int(cfg.QoS)) {
		reasons = append(reasons, fmt.Sprintf("qos %d must be 0, 1, or 2", cfg.QoS))
	}
	if cfg.EnableMultiSub && cfg.MultiSubNum < 1 {
		reasons = append(reasons, "multiSubNum must be >= 1 when enableMultiSub is true")
	}
	if cfg.EnableShareTopic && !cfg.EnableQueueTopic && len(cfg.ShareTopic.GroupName) == 0 {
		reasons = append(reasons, "shareTopic.groupName must be non-empty when enableShareTopic is true")
	}
	if cfg.RetainHandling > 2 {
		reasons = append(reasons, fmt.Sprintf("retainHandling %d must be 0, 1, or 2", cfg.RetainHandling))
	}

	if len(reasons) > 0 {
		return NewInvalidConfigErrors(reasons)
	}
	return nil
}

// validatePoolConfig aggregates every violation in cfg and returns a single
// InvalidConfig error, or nil if cfg is sound.
func validatePoolConfig(cfg *PoolConfig) error {
	var reasons []string

	if cfg.MinConnections < 0 {
		reasons = append(reasons, "minConnections must be >= 0")
	}
	effectiveMax := cfg.MaxConnections
	if effectiveMax < 1 {
		effectiveMax = 1
	}
	if effectiveMax < cfg.MinConnections {
		reasons = append(reasons, "maxConnections must be >= minConnections")
	}
	if cfg.ConnectTimeout <= 0 {
		reasons = append(reasons, "connectTimeoutSec must be > 0")
	}
	if cfg.WaitTimeout <= 0 {
		reasons = append(reasons, "waitTimeoutSec must be > 0")
	}
	if cfg.MaxIdleTimeSec < 0 {
		reasons = append(reasons, "maxIdleTimeSec must be >= 0")
	}

	if len(reasons) > 0 {
		return NewInvalidConfigErrors(reasons)
	}
	return nil
}
