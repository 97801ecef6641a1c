package mq

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool is a bounded, concurrency-safe pool of MQTT connections for one named
// broker target (SPEC_FULL §4.6). Acquisition defaults to idle-first LIFO
// reuse; construct with a PoolConfig built via WithRoundRobinAcquisition for
// the round-robin alternative.
type Pool struct {
	name    string
	cfg     *PoolConfig
	factory *ClientFactory
	logger  *slog.Logger
	freq    *FrequencyTracker

	mu        sync.Mutex
	cond      *sync.Cond
	idle      []*Connection
	total     int
	closed    bool
	rrCounter int
}

// NewPool constructs a Pool named name, bounded by cfg, creating connections
// through factory.
func NewPool(name string, cfg *PoolConfig, factory *ClientFactory, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		name:    name,
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		freq:    NewFrequencyTracker(name, logger),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Frequency returns this pool's advisory connect-attempt tracker.
func (p *Pool) Frequency() *FrequencyTracker {
	return p.freq
}

// acquire returns a ready Connection, waiting up to cfg.WaitTimeout for one
// to become available if the pool is at capacity.
func (p *Pool) acquire(ctx context.Context) (*Connection, error) {
	deadline := time.Now().Add(time.Duration(p.cfg.WaitTimeout * float64(time.Second)))
	acqCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := p.takeOrCreate(acqCtx)
	if err != nil {
		return nil, err
	}

	p.freq.RecordAttempt()

	active, err := conn.getActiveConnection(acqCtx)
	if err != nil {
		p.discard(conn)
		return nil, NewConnectionFailureError("pool.acquire", err)
	}
	_ = active

	return conn, nil
}

// takeOrCreate pops an idle connection (LIFO or round-robin per cfg),
// creates a new one if under capacity, or waits on the idle notifier up to
// acqCtx's deadline.
func (p *Pool) takeOrCreate(acqCtx context.Context) (*Connection, error) {
	p.mu.Lock()

	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if len(p.idle) > 0 {
			var conn *Connection
			if p.cfg.RoundRobin {
				idx := p.rrCounter % len(p.idle)
				p.rrCounter++
				conn = p.idle[idx]
				p.idle = append(p.idle[:idx], p.idle[idx+1:]...)
			} else {
				last := len(p.idle) - 1
				conn = p.idle[last]
				p.idle = p.idle[:last]
			}
			p.mu.Unlock()
			return conn, nil
		}

		if p.total < p.cfg.MaxConnections {
			p.total++
			p.mu.Unlock()
			return newConnection(p.name, p.factory, time.Duration(p.cfg.MaxIdleTimeSec)*time.Second), nil
		}

		if acqCtx.Err() != nil {
			p.mu.Unlock()
			return nil, NewPoolTimeoutError(p.name, acqCtx.Err())
		}

		// A sibling goroutine broadcasts once acqCtx expires, waking every
		// waiter (including this one) so it re-checks acqCtx.Err() below. It
		// never unlocks p.mu itself and stops as soon as stop closes, so it
		// can't leak past this call.
		stop := make(chan struct{})
		go func() {
			select {
			case <-acqCtx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-stop:
			}
		}()

		p.cond.Wait()
		close(stop)
	}
}

// release returns conn to the idle set, unless it has failed its health
// check, in which case it is closed and its slot freed for a new connection.
func (p *Pool) release(conn *Connection) {
	if !conn.check() {
		p.discard(conn)
		return
	}

	conn.resetLastUseTime()

	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		conn.close()
		p.cond.Broadcast()
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// discard closes conn and frees its slot without returning it to the idle set.
func (p *Pool) discard(conn *Connection) {
	conn.close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.cond.Broadcast()
}

// evictIdle closes idle connections that have exceeded MaxIdleTimeSec beyond
// MinConnections, intended to be driven by a caller-owned ticker at
// HeartbeatSec (SPEC_FULL §4.6); HeartbeatSec == -1 disables the tick but
// does not prevent callers from invoking this directly.
func (p *Pool) evictIdle() {
	maxIdle := time.Duration(p.cfg.MaxIdleTimeSec) * time.Second
	if maxIdle <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.idle[:0]
	for _, conn := range p.idle {
		if len(kept) < p.cfg.MinConnections || conn.check() {
			kept = append(kept, conn)
			continue
		}
		conn.close()
		p.total--
	}
	p.idle = kept
}

// Close closes every idle connection and marks the pool closed; in-use
// connections close on their next release.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		conn.close()
	}
	p.cond.Broadcast()
}
