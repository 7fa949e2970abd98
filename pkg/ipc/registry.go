package ipc

import (
	"context"
	"sync"
)

// Handler processes one inbound request. data is the decoded envelope
// payload, nil when the request carried none. A non-empty result on a
// nonce-carrying request is published back to the caller as the reply;
// returning nil (or an empty value) suppresses the reply.
type Handler func(ctx context.Context, data JSON) (JSON, error)

// handlerRegistry maps operation names to handlers. It is guarded because
// callers may mutate it while the dispatch loop and handler goroutines read
// from it.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newHandlerRegistry(seed map[string]Handler) *handlerRegistry {
	r := &handlerRegistry{handlers: make(map[string]Handler, len(seed))}
	for name, h := range seed {
		r.handlers[name] = h
	}
	return r
}

// register inserts or overwrites the mapping; last writer wins.
func (r *handlerRegistry) register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// unregister removes the mapping, ErrHandlerNotFound when absent.
func (r *handlerRegistry) unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; !ok {
		return ErrHandlerNotFound
	}
	delete(r.handlers, name)
	return nil
}

// lookup returns the handler for name, or nil for unknown operations. It
// never errors; the dispatch loop drops unroutable requests.
func (r *handlerRegistry) lookup(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// attach merges every handler the router exposes into the registry under
// its declared name. Collisions follow the same last-writer-wins rule as
// register.
func (r *handlerRegistry) attach(router Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, h := range router.Handlers() {
		r.handlers[name] = h
	}
}

func (r *handlerRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
