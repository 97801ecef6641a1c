package mq

import (
	"context"
	"sync"
	"time"
)

// Connection is a pool-managed wrapper around a ClientProxy: reconnect,
// health check, and last-use tracking (SPEC_FULL §4.4).
type Connection struct {
	poolName string
	factory  *ClientFactory
	maxIdle  time.Duration

	mu          sync.Mutex
	proxy       *ClientProxy
	lastUseTime time.Time
	closeOnce   sync.Once
}

// newConnection constructs a Connection bound to factory; it is not yet
// connected, callers must call getActiveConnection before first use.
func newConnection(poolName string, factory *ClientFactory, maxIdle time.Duration) *Connection {
	return &Connection{poolName: poolName, factory: factory, maxIdle: maxIdle}
}

// check reports whether the underlying proxy is live and has not sat idle
// beyond maxIdleTimeSec.
func (c *Connection) check() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proxy == nil || c.proxy.IsClosed() {
		return false
	}
	if c.maxIdle > 0 && time.Since(c.lastUseTime) > c.maxIdle {
		return false
	}
	return true
}

// getActiveConnection returns a live proxy, reconnecting first if necessary.
func (c *Connection) getActiveConnection(ctx context.Context) (*ClientProxy, error) {
	if c.check() {
		c.mu.Lock()
		p := c.proxy
		c.mu.Unlock()
		return p, nil
	}
	return c.reconnect(ctx)
}

// reconnect builds a fresh ClientProxy via the ClientFactory, closing any
// stale proxy first.
func (c *Connection) reconnect(ctx context.Context) (*ClientProxy, error) {
	c.mu.Lock()
	stale := c.proxy
	c.mu.Unlock()
	if stale != nil {
		_ = stale.Close(ctx)
	}

	proxy, err := c.factory.Connect(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.proxy = proxy
	c.lastUseTime = time.Now()
	c.mu.Unlock()

	return proxy, nil
}

// resetLastUseTime stamps the connection as just-released, used by Pool when
// returning it to the idle set.
func (c *Connection) resetLastUseTime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUseTime = time.Now()
}

// close stops the proxy and clears last-use tracking. Idempotent.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		p := c.proxy
		c.mu.Unlock()
		if p != nil {
			_ = p.Close(context.Background())
		}
		c.mu.Lock()
		c.lastUseTime = time.Time{}
		c.mu.Unlock()
	})
}
