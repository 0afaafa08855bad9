package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory creates a provider from settings.
type Factory func(ctx context.Context, s Settings) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register binds a provider name to its factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New returns a provider instance by name.
func New(ctx context.Context, name string, s Settings) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider not found: %s (registered: %v)", name, Names())
	}
	return f(ctx, s)
}

// Names lists registered providers.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
