package environment

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a driver instance from options.
type Factory func(opts Options) (Environment, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver available under name. Drivers call it from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// New builds an environment with the named driver.
func New(name string, opts Options) (Environment, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown environment %q (available: %s)", name, strings.Join(Drivers(), ", "))
	}
	return f(opts)
}

// Drivers lists registered driver names in sorted order.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
