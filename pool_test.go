package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, poolCfg *PoolConfig) *Pool {
	t.Helper()
	clientCfg, err := NewClientConfig("broker.local", 1883, WithClientID("p"), WithKeepAlive(0))
	require.NoError(t, err)
	factory := NewClientFactory("default", clientCfg, newFakeBrokerDialer(), nil, nil)
	return NewPool("default", poolCfg, factory, nil)
}

// TestPoolLiveConnectionsBounded covers SPEC_FULL §8 invariant 2: the number
// of live connections never exceeds maxConnections.
func TestPoolLiveConnectionsBounded(t *testing.T) {
	pool := newTestPool(t, NewPoolConfig(WithMaxConnections(2), WithWaitTimeout(1)))

	c1, err := pool.acquire(context.Background())
	require.NoError(t, err)
	c2, err := pool.acquire(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, pool.total)

	pool.release(c1)
	pool.release(c2)
}

// TestPoolAcquireReusesReleasedConnection checks that a released connection
// is handed back out instead of creating a new one.
func TestPoolAcquireReusesReleasedConnection(t *testing.T) {
	pool := newTestPool(t, NewPoolConfig(WithMaxConnections(1), WithWaitTimeout(1)))

	conn, err := pool.acquire(context.Background())
	require.NoError(t, err)
	pool.release(conn)

	conn2, err := pool.acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pool.total)
	pool.release(conn2)
}

// TestPoolAcquireTimesOut covers SPEC_FULL §8 scenario 6: with maxConnections
// exhausted, a second acquire fails as PoolTimeout once waitTimeoutSec elapses.
func TestPoolAcquireTimesOut(t *testing.T) {
	pool := newTestPool(t, NewPoolConfig(WithMaxConnections(1), WithWaitTimeout(0.2)))

	conn, err := pool.acquire(context.Background())
	require.NoError(t, err)
	defer pool.release(conn)

	start := time.Now()
	_, err = pool.acquire(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	require.Equal(t, KindPoolTimeout, re.Kind)
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	pool := newTestPool(t, NewPoolConfig(WithMaxConnections(2), WithWaitTimeout(1)))

	conn, err := pool.acquire(context.Background())
	require.NoError(t, err)
	pool.release(conn)

	pool.Close()
	pool.Close()

	_, err = pool.acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolEvictIdleNoOpWhenMaxIdleTimeZero(t *testing.T) {
	pool := newTestPool(t, NewPoolConfig(WithMinConnections(1), WithMaxConnections(2), WithWaitTimeout(1), WithMaxIdleTime(0)))

	c1, err := pool.acquire(context.Background())
	require.NoError(t, err)
	c2, err := pool.acquire(context.Background())
	require.NoError(t, err)
	pool.release(c1)
	pool.release(c2)

	// maxIdleTimeSec=0 disables the eviction check entirely (evictIdle no-ops).
	pool.evictIdle()
	require.Equal(t, 2, pool.total)
}
