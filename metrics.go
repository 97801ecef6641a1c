package mq

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorSnapshot is a point-in-time view of errors recorded for one error kind.
type ErrorSnapshot struct {
	Count         int64
	LastError     string
	LastTimestamp time.Time
	Operations    map[string]int64
}

// PerformanceSnapshot is a point-in-time view of latency statistics for one operation.
type PerformanceSnapshot struct {
	Count   int64
	TotalNs int64
	MinNs   int64
	MaxNs   int64
	P50Ns   int64
	P95Ns   int64
	P99Ns   int64
}

// ValidationSnapshot is a point-in-time view of validation outcomes for one validation kind.
type ValidationSnapshot struct {
	Success     int64
	Failure     int64
	LastMessage string
}

// MetricsSnapshot is the full metrics surface exposed to callers (SPEC_FULL §6).
type MetricsSnapshot struct {
	Errors      map[string]ErrorSnapshot
	Performance map[string]PerformanceSnapshot
	Validation  map[string]ValidationSnapshot
	Breakers    map[string]string
}

type errorRecord struct {
	count         int64
	lastError     string
	lastTimestamp time.Time
	operations    map[string]int64
}

type performanceRecord struct {
	count   int64
	totalNs int64
	minNs   int64
	maxNs   int64
	samples []int64 // recent latencies, used to estimate percentiles
}

type validationRecord struct {
	success     int64
	failure     int64
	lastMessage string
}

const maxPerformanceSamples = 1000

// Metrics is the process-wide, thread-safe metrics store: ErrorMetrics,
// PerformanceMetrics, and ValidationMetrics from SPEC_FULL §3, dual-recorded
// into both an in-process snapshot and Prometheus collectors (SPEC_FULL §2B),
// grounded on gsoultan-Hermod's promauto Counter/Histogram/GaugeVec idiom.
type Metrics struct {
	mu          sync.Mutex
	errors      map[string]*errorRecord
	performance map[string]*performanceRecord
	validation  map[string]*validationRecord

	promErrors     *prometheus.CounterVec
	promValidation *prometheus.CounterVec
	promLatency    *prometheus.HistogramVec
	promBreaker    *prometheus.GaugeVec
}

// NewMetrics constructs a Metrics store and registers its Prometheus
// collectors against reg. Pass prometheus.NewRegistry() for test isolation,
// or nil to use the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		errors:      make(map[string]*errorRecord),
		performance: make(map[string]*performanceRecord),
		validation:  make(map[string]*validationRecord),

		promErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqrt_errors_total",
			Help: "Total errors observed by error kind and operation.",
		}, []string{"kind", "operation"}),

		promValidation: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqrt_validation_total",
			Help: "Total validation outcomes by kind and result.",
		}, []string{"kind", "result"}),

		promLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqrt_operation_latency_seconds",
			Help:    "Operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		promBreaker: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqrt_circuit_breaker_state",
			Help: "Circuit breaker state per operation (0=closed, 1=half-open, 2=open).",
		}, []string{"operation"}),
	}
}

// RecordError records a failure of the given kind for operation op.
func (m *Metrics) RecordError(kind ErrorKind, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := kind.String()
	rec, ok := m.errors[key]
	if !ok {
		rec = &errorRecord{operations: make(map[string]int64)}
		m.errors[key] = rec
	}
	rec.count++
	rec.lastTimestamp = time.Now()
	if err != nil {
		rec.lastError = err.Error()
	}
	rec.operations[op]++

	m.promErrors.WithLabelValues(key, op).Inc()
}

// RecordOperationLatency records how long operation op took.
func (m *Metrics) RecordOperationLatency(op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.performance[op]
	if !ok {
		rec = &performanceRecord{minNs: int64(d)}
		m.performance[op] = rec
	}
	ns := int64(d)
	rec.count++
	rec.totalNs += ns
	if rec.minNs == 0 || ns < rec.minNs {
		rec.minNs = ns
	}
	if ns > rec.maxNs {
		rec.maxNs = ns
	}
	rec.samples = append(rec.samples, ns)
	if len(rec.samples) > maxPerformanceSamples {
		rec.samples = rec.samples[len(rec.samples)-maxPerformanceSamples:]
	}

	m.promLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordValidation records a validation success or failure for the given kind.
func (m *Metrics) RecordValidation(kind string, success bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.validation[kind]
	if !ok {
		rec = &validationRecord{}
		m.validation[kind] = rec
	}
	result := "failure"
	if success {
		rec.success++
		result = "success"
	} else {
		rec.failure++
		rec.lastMessage = message
	}

	m.promValidation.WithLabelValues(kind, result).Inc()
}

// recordBreakerState mirrors a breaker transition into the Prometheus gauge.
func (m *Metrics) recordBreakerState(op string, state breakerState) {
	var v float64
	switch state {
	case breakerClosed:
		v = 0
	case breakerHalfOpen:
		v = 1
	case breakerOpen:
		v = 2
	}
	m.promBreaker.WithLabelValues(op).Set(v)
}

// Snapshot returns a point-in-time copy of all recorded metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Errors:      make(map[string]ErrorSnapshot, len(m.errors)),
		Performance: make(map[string]PerformanceSnapshot, len(m.performance)),
		Validation:  make(map[string]ValidationSnapshot, len(m.validation)),
	}

	for k, rec := range m.errors {
		ops := make(map[string]int64, len(rec.operations))
		for op, c := range rec.operations {
			ops[op] = c
		}
		snap.Errors[k] = ErrorSnapshot{
			Count:         rec.count,
			LastError:     rec.lastError,
			LastTimestamp: rec.lastTimestamp,
			Operations:    ops,
		}
	}

	for op, rec := range m.performance {
		snap.Performance[op] = PerformanceSnapshot{
			Count:   rec.count,
			TotalNs: rec.totalNs,
			MinNs:   rec.minNs,
			MaxNs:   rec.maxNs,
			P50Ns:   percentile(rec.samples, 0.50),
			P95Ns:   percentile(rec.samples, 0.95),
			P99Ns:   percentile(rec.samples, 0.99),
		}
	}

	for k, rec := range m.validation {
		snap.Validation[k] = ValidationSnapshot{
			Success:     rec.success,
			Failure:     rec.failure,
			LastMessage: rec.lastMessage,
		}
	}

	return snap
}

// percentile estimates the p-th percentile (0 < p < 1) of samples using
// nearest-rank on a sorted copy. Returns 0 for an empty input.
func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
