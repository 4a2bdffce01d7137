package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/aetherlab/ai-hub/internal/router"
)

// ProviderFactory builds a Provider bound to a concrete model id.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry maps the router's closed provider enum to factories. The set of
// providers the router can select and the set we can dispatch to stay in sync
// by construction.
type Registry struct {
	mu        sync.RWMutex
	factories map[router.Provider]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[router.Provider]ProviderFactory)}
}

func (r *Registry) Register(p router.Provider, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

func (r *Registry) Get(ctx context.Context, p router.Provider, model string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ai: no provider registered for %s", p)
	}
	return f(ctx, model)
}
