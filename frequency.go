package mq

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FrequencySnapshot reports a pool's connect-attempt activity. It is purely
// observational: nothing in this package consults it to gate acquire
// (SPEC_FULL §9 Open Question decision).
type FrequencySnapshot struct {
	TotalAttempts int64
	LastAttempt   time.Time
}

// FrequencyTracker records connect-attempt frequency per pool, advisory only.
// rate.Sometimes throttles the accompanying log line to once per second so a
// pool cycling connections under load doesn't flood logs with one line per
// attempt.
type FrequencyTracker struct {
	mu        sync.Mutex
	total     int64
	last      time.Time
	sometimes rate.Sometimes
	logger    *slog.Logger
	poolName  string
}

// NewFrequencyTracker constructs an empty tracker for poolName.
func NewFrequencyTracker(poolName string, logger *slog.Logger) *FrequencyTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrequencyTracker{
		sometimes: rate.Sometimes{Interval: time.Second},
		logger:    logger,
		poolName:  poolName,
	}
}

// RecordAttempt notes one connect attempt.
func (f *FrequencyTracker) RecordAttempt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total++
	f.last = time.Now()
	f.sometimes.Do(func() {
		f.logger.Debug("mqrt: connect attempts", "pool", f.poolName, "total", f.total)
	})
}

// Snapshot returns the current counters.
func (f *FrequencyTracker) Snapshot() FrequencySnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FrequencySnapshot{TotalAttempts: f.total, LastAttempt: f.last}
}
