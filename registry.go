package mq

import (
	"sync"
)

// PoolRegistry resolves pool names to Pools for the Facade (SPEC_FULL §9:
// an explicitly constructed registry passed to the Facade, replacing the
// teacher's process-wide singleton Container lookup).
type PoolRegistry struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewPoolRegistry constructs an empty registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{pools: make(map[string]*Pool)}
}

// Register builds and stores a Pool named name from clientCfg/poolCfg,
// dialing through the WithDialer option (DefaultDialer when unset) and
// routing proxy events to the WithEvents bus (no event dispatch when unset).
func (r *PoolRegistry) Register(name string, clientCfg *ClientConfig, poolCfg *PoolConfig, opts ...RegisterOption) *Pool {
	reg := registerOptions{}
	for _, o := range opts {
		o(&reg)
	}

	factory := NewClientFactory(name, clientCfg, reg.dialer, reg.idProvider, reg.events)
	pool := NewPool(name, poolCfg, factory, clientCfg.Logger)

	r.mu.Lock()
	r.pools[name] = pool
	r.mu.Unlock()

	return pool
}

// RegisterOption customizes a Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	dialer     Dialer
	idProvider ClientIdProvider
	events     *EventBus
}

// WithDialer overrides the Dialer a registered pool's connections use.
func WithDialer(d Dialer) RegisterOption {
	return func(o *registerOptions) { o.dialer = d }
}

// WithClientIdProvider overrides the ClientIdProvider a registered pool's
// connections use.
func WithClientIdProvider(p ClientIdProvider) RegisterOption {
	return func(o *registerOptions) { o.idProvider = p }
}

// WithEvents routes a registered pool's connection lifecycle events to bus.
func WithEvents(bus *EventBus) RegisterOption {
	return func(o *registerOptions) { o.events = bus }
}

// Get looks up a previously registered pool by name.
func (r *PoolRegistry) Get(name string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[name]
	return p, ok
}

// Close closes every registered pool.
func (r *PoolRegistry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		p.Close()
	}
}
