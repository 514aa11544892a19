package cont

import (
	"sync"

	"github.com/wippyai/ctrl/errors"
)

// Resolver recovers the handler of a procedure from its owner identity.
type Resolver interface {
	Resolve(owner string) (Handler, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(owner string) (Handler, bool)

// Resolve calls r(owner).
func (r ResolverFunc) Resolve(owner string) (Handler, bool) {
	return r(owner)
}

// Registry maps owner identities to handlers. It is safe for concurrent use.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering an owner twice is an error.
func (r *Registry) Register(owner string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[owner]; ok {
		return errors.New(errors.PhaseRuntime, errors.KindAlreadyDefined).
			Detail("handler %q already registered", owner).Build()
	}
	r.handlers[owner] = h
	return nil
}

// Resolve implements Resolver.
func (r *Registry) Resolve(owner string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[owner]
	return h, ok
}

var defaultRegistry = NewRegistry()

// Register adds a handler to the process-wide registry and panics on
// duplicates. Go-native resumable code registers itself from init.
func Register(owner string, h Handler) {
	if err := defaultRegistry.Register(owner, h); err != nil {
		panic(err)
	}
}

// Lookup resolves an owner in the process-wide registry.
func Lookup(owner string) (Handler, bool) {
	return defaultRegistry.Resolve(owner)
}

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}
