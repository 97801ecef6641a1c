package mq

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy overrides the default retry behavior for one operation name.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelayMs  int
}

const defaultMaxRetries = 3
const defaultBaseDelayMs = 1000
const breakerMapTrimSize = 10

// ErrorHandlerOption mutates an ErrorHandler under construction.
type ErrorHandlerOption func(*ErrorHandler)

// WithMemoryLimitBytes configures the process memory ceiling used by
// checkMemoryPressure. When Go's heap usage exceeds 80% of this limit, the
// ErrorHandler hints the GC and truncates its circuit-breaker map.
func WithMemoryLimitBytes(limit uint64) ErrorHandlerOption {
	return func(h *ErrorHandler) { h.memoryLimitBytes = limit }
}

// WithHandlerLogger overrides the ErrorHandler's logger.
func WithHandlerLogger(l *slog.Logger) ErrorHandlerOption {
	return func(h *ErrorHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// ErrorHandler wraps outward operations with retry + circuit-breaker
// semantics and feeds the Metrics store (SPEC_FULL §4.5).
type ErrorHandler struct {
	metrics *Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	breakers  map[string]*circuitBreaker
	retryPol  map[string]RetryPolicy
	breakerOrder []string // insertion order, for memory-pressure trimming

	memoryLimitBytes uint64
}

// NewErrorHandler constructs an ErrorHandler backed by metrics.
func NewErrorHandler(metrics *Metrics, opts ...ErrorHandlerOption) *ErrorHandler {
	h := &ErrorHandler{
		metrics:  metrics,
		logger:   slog.Default(),
		breakers: make(map[string]*circuitBreaker),
		retryPol: make(map[string]RetryPolicy),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetRetryPolicy overrides the retry policy for operation op.
func (h *ErrorHandler) SetRetryPolicy(op string, maxRetries int, baseDelayMs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if baseDelayMs <= 0 {
		baseDelayMs = defaultBaseDelayMs
	}
	h.retryPol[op] = RetryPolicy{MaxRetries: maxRetries, BaseDelayMs: baseDelayMs}
}

func (h *ErrorHandler) policyFor(op string) RetryPolicy {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.retryPol[op]; ok {
		return p
	}
	return RetryPolicy{MaxRetries: defaultMaxRetries, BaseDelayMs: defaultBaseDelayMs}
}

func (h *ErrorHandler) breakerFor(op string) *circuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.breakers[op]
	if !ok {
		b = &circuitBreaker{}
		h.breakers[op] = b
		h.breakerOrder = append(h.breakerOrder, op)
	}
	return b
}

// wrapOperation executes op, retrying retryable failures with exponential
// backoff + jitter up to the operation's configured maxRetries, consulting
// and updating op's circuit breaker throughout (SPEC_FULL §4.5).
func wrapOperation[T any](ctx context.Context, h *ErrorHandler, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	breaker := h.breakerFor(name)
	policy := h.policyFor(name)

	if !breaker.allow() {
		h.metrics.RecordError(KindBreakerOpen, name, nil)
		return zero, NewBreakerOpenError(name)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(policy.BaseDelayMs) * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = 0 // attempt count, not elapsed time, bounds the loop
	bo.Reset()            // start from the configured InitialInterval

	attempt := 1
	exhaustionFailures := 0
	for {
		result, err := op(ctx)
		if err == nil {
			h.metrics.RecordOperationLatency(name, time.Since(start))
			breaker.recordSuccess()
			h.metrics.recordBreakerState(name, breaker.snapshot())
			return result, nil
		}

		kind := KindOf(err)

		if kind == KindInvalidConfig {
			h.metrics.RecordError(kind, name, err)
			h.metrics.RecordOperationLatency(name, time.Since(start))
			return zero, err
		}

		h.metrics.RecordError(kind, name, err)

		// recordFailure may itself trip the breaker open, but the call that
		// trips it still reports its own error kind — only a call that finds
		// the breaker already open at entry (the allow() check above) ever
		// returns BreakerOpenError.
		if kind.CountsAgainstBreaker() {
			breaker.recordFailure()
			h.metrics.recordBreakerState(name, breaker.snapshot())
		}

		if kind == KindResourceExhaustion {
			exhaustionFailures++
			h.checkMemoryPressure()
		}

		maxRetries := policy.MaxRetries
		if !kind.Retryable() || attempt >= maxRetries || exhaustionFailures > 1 {
			h.metrics.RecordOperationLatency(name, time.Since(start))
			return zero, err
		}

		delay := bo.NextBackOff()
		h.logger.Warn("mqrt: operation failed, retrying", "operation", name, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			h.metrics.RecordOperationLatency(name, time.Since(start))
			return zero, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

// checkMemoryPressure hints the GC and truncates the circuit-breaker map to
// the most recently created breakerMapTrimSize entries once heap usage
// exceeds 80% of the configured memory limit (SPEC_FULL §4.5).
func (h *ErrorHandler) checkMemoryPressure() {
	if h.memoryLimitBytes == 0 {
		return
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc < (h.memoryLimitBytes*80)/100 {
		return
	}

	h.logger.Warn("mqrt: memory pressure detected, trimming circuit breaker state")
	runtime.GC()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.breakerOrder) <= breakerMapTrimSize {
		return
	}
	drop := h.breakerOrder[:len(h.breakerOrder)-breakerMapTrimSize]
	h.breakerOrder = h.breakerOrder[len(h.breakerOrder)-breakerMapTrimSize:]
	for _, op := range drop {
		delete(h.breakers, op)
	}
}
