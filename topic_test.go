package mq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseShareTopic(t *testing.T) {
	wire, err := GenerateShareTopic("sensors/#", "A")
	require.NoError(t, err)
	require.Equal(t, "$share/A/sensors/#", wire)

	parsed, err := ParseTopic(wire)
	require.NoError(t, err)
	require.Equal(t, ParsedTopic{Kind: TopicKindShared, BaseTopic: "sensors/#", GroupName: "A"}, parsed)
}

func TestGenerateAndParseQueueTopic(t *testing.T) {
	wire := GenerateQueueTopic("sensors/#")
	require.Equal(t, "$queue/sensors/#", wire)

	parsed, err := ParseTopic(wire)
	require.NoError(t, err)
	require.Equal(t, ParsedTopic{Kind: TopicKindQueue, BaseTopic: "sensors/#"}, parsed)
}

func TestGenerateShareTopicRejectsBadGroup(t *testing.T) {
	_, err := GenerateShareTopic("x", "has a space")
	require.Error(t, err)
}

func TestParseTopicRegular(t *testing.T) {
	parsed, err := ParseTopic("a/b/c")
	require.NoError(t, err)
	require.Equal(t, ParsedTopic{Kind: TopicKindRegular, BaseTopic: "a/b/c"}, parsed)
}

func TestMatchTopicWildcards(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"sport/tennis/player1", "sport/tennis/player1", true},
		{"sport/+/player1", "sport/tennis/player1", true},
		{"sport/+/player1", "sport/tennis/player1/ranking", false},
		{"sport/#", "sport/tennis/player1", true},
		{"sport/#", "sport", true},
		{"+/+", "a/b", true},
		{"+", "a/b", false},
		{"#", "$SYS/stats", false},
		{"+/stats", "$SYS/stats", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, matchTopic(c.filter, c.topic), "filter=%s topic=%s", c.filter, c.topic)
	}
}

func TestIsValidTopicNameRejectsWildcards(t *testing.T) {
	require.Error(t, IsValidTopicName("a/+/b", 0))
	require.Error(t, IsValidTopicName("a/#", 0))
	require.Error(t, IsValidTopicName("", 0))
	require.NoError(t, IsValidTopicName("a/b/c", 0))
}

func TestIsValidTopicFilterHashMustBeLast(t *testing.T) {
	require.Error(t, IsValidTopicFilter("a/#/b", 0))
	require.NoError(t, IsValidTopicFilter("a/#", 0))
	require.Error(t, IsValidTopicFilter("a/b+", 0))
	require.NoError(t, IsValidTopicFilter("a/+/c", 0))
}
