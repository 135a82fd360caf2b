package realtime

import "sync"

// Registry holds the process-wide hub.
type Registry struct {
	mu  sync.Mutex
	hub *Hub
}

// Init creates the hub on first call and returns the existing one on every
// later call; opts are ignored after the first call.
func (r *Registry) Init(opts ...Option) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hub == nil {
		r.hub = NewHub(opts...)
	}
	return r.hub
}

// Hub returns the initialized hub.
func (r *Registry) Hub() (*Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hub == nil {
		return nil, ErrNotInitialized
	}
	return r.hub, nil
}

var defaultRegistry Registry

// Init initializes the process-wide hub.
func Init(opts ...Option) *Hub {
	return defaultRegistry.Init(opts...)
}

// Default returns the process-wide hub, or ErrNotInitialized.
func Default() (*Hub, error) {
	return defaultRegistry.Hub()
}
