package mq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapOperationRetriesRetryableFailures(t *testing.T) {
	h := NewErrorHandler(newTestMetrics(t))
	h.SetRetryPolicy("test.op", 3, 1)

	attempts := 0
	_, err := wrapOperation(context.Background(), h, "test.op", func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, NewConnectionFailureError("test.op", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWrapOperationInvalidConfigNeverRetries(t *testing.T) {
	h := NewErrorHandler(newTestMetrics(t))

	attempts := 0
	_, err := wrapOperation(context.Background(), h, "test.invalid", func(ctx context.Context) (int, error) {
		attempts++
		return 0, NewInvalidConfigError("host", "bad host")
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, KindInvalidConfig, KindOf(err))
}

// TestWrapOperationBreakerOpensAndFastFails covers SPEC_FULL §8 scenario 5:
// after breakerFailureThreshold consecutive connection failures, the breaker
// opens and the next call fast-fails as BreakerOpen without invoking op.
func TestWrapOperationBreakerOpensAndFastFails(t *testing.T) {
	h := NewErrorHandler(newTestMetrics(t))
	h.SetRetryPolicy("test.breaker", 1, 1) // no retries, one attempt per call

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := wrapOperation(context.Background(), h, "test.breaker", func(ctx context.Context) (int, error) {
			return 0, NewConnectionFailureError("test.breaker", nil)
		})
		require.Error(t, err)
		// Even the call that itself trips the breaker open still reports its
		// own failure kind, not BreakerOpen.
		require.Equal(t, KindConnectionFailure, KindOf(err))
	}

	calls := 0
	_, err := wrapOperation(context.Background(), h, "test.breaker", func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})

	require.Error(t, err)
	require.Equal(t, 0, calls)
	require.Equal(t, KindBreakerOpen, KindOf(err))
}

func TestWrapOperationNonRetryableStopsImmediately(t *testing.T) {
	h := NewErrorHandler(newTestMetrics(t))

	attempts := 0
	_, err := wrapOperation(context.Background(), h, "test.poolTimeout", func(ctx context.Context) (int, error) {
		attempts++
		return 0, NewPoolTimeoutError("default", nil)
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
