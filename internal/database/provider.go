package database

import (
	"fmt"
	"slices"
	"sync"

	"github.com/kozaktomas/facegate/internal/config"
)

// DriverMemory selects the in-process MemoryStore.
const DriverMemory = "memory"

// Opener connects to a backend and prepares its schema.
type Opener func(cfg *config.DatabaseConfig) (PersonStore, error)

var (
	backends   = map[string]Opener{}
	backendsMu sync.RWMutex
)

// RegisterBackend registers a person store backend under a driver name.
// This is called by the postgres and mariadb packages to avoid import cycles.
func RegisterBackend(driver string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[driver] = open
}

// Drivers returns the registered driver names, memory included.
func Drivers() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := []string{DriverMemory}
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open returns the person store selected by cfg.Driver.
func Open(cfg *config.DatabaseConfig) (PersonStore, error) {
	if cfg.Driver == DriverMemory {
		return NewMemoryStore(), nil
	}

	backendsMu.RLock()
	open, ok := backends[cfg.Driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (available: %v)", cfg.Driver, Drivers())
	}

	store, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s person store: %w", cfg.Driver, err)
	}
	return store, nil
}
