package devices

import (
	"sort"
	"sync"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// Registry resolves device drivers by array system type.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]engine.DeviceDriver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]engine.DeviceDriver)}
}

// Register binds driver to systemType, replacing any previous driver.
func (r *Registry) Register(systemType string, driver engine.DeviceDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[systemType] = driver
}

// Device implements engine.DeviceRegistry.
func (r *Registry) Device(systemType string) (engine.DeviceDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, ok := r.drivers[systemType]
	if !ok {
		return nil, engine.NewNotFoundError("device driver", systemType)
	}
	return driver, nil
}

// SystemTypes returns the registered system types in sorted order.
func (r *Registry) SystemTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.drivers))
	for t := range r.drivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
