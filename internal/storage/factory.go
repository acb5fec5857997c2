package storage

import (
	"fmt"
	"sort"
	"sync"

	"routemate/internal/config"
)

// FactoryFunc builds a backend from configuration.
type FactoryFunc func(config.Config) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register makes a backend available under name.
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the backend selected by cfg.Storage.Backend.
func New(cfg config.Config) (Storage, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Storage.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (registered: %v)", cfg.Storage.Backend, Backends())
	}
	return factory(cfg)
}
