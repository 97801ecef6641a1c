package mq

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecordErrorAccumulates(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError(KindConnectionFailure, "mqtt.publish", errors.New("boom"))
	m.RecordError(KindConnectionFailure, "mqtt.publish", errors.New("boom again"))

	snap := m.Snapshot()
	rec := snap.Errors[KindConnectionFailure.String()]
	require.Equal(t, int64(2), rec.Count)
	require.Equal(t, "boom again", rec.LastError)
	require.Equal(t, int64(2), rec.Operations["mqtt.publish"])
}

func TestMetricsRecordValidation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordValidation("topicConfig", true, "")
	m.RecordValidation("topicConfig", false, "bad qos")

	snap := m.Snapshot()
	rec := snap.Validation["topicConfig"]
	require.Equal(t, int64(1), rec.Success)
	require.Equal(t, int64(1), rec.Failure)
	require.Equal(t, "bad qos", rec.LastMessage)
}

func TestMetricsRecordOperationLatencyPercentiles(t *testing.T) {
	m := newTestMetrics(t)

	for i := 1; i <= 100; i++ {
		m.RecordOperationLatency("mqtt.publish", time.Duration(i)*time.Millisecond)
	}

	snap := m.Snapshot()
	rec := snap.Performance["mqtt.publish"]
	require.Equal(t, int64(100), rec.Count)
	require.Equal(t, int64(1*int64(time.Millisecond)), rec.MinNs)
	require.Equal(t, int64(100*int64(time.Millisecond)), rec.MaxNs)
	require.InDelta(t, 50*int64(time.Millisecond), rec.P50Ns, float64(2*time.Millisecond))
}

func TestPercentileEmptySamples(t *testing.T) {
	require.Equal(t, int64(0), percentile(nil, 0.5))
}
