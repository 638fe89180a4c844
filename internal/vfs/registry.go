package vfs

import (
	"fmt"
	"sync"
)

// DriverFactory creates a filesystem from its driver-specific config section.
type DriverFactory func(cfg map[string]any) (Filesystem, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// Register registers a driver factory by name.
// This is typically called from init() in driver packages.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// NewFromConfig creates a filesystem for the named driver, passing it the
// matching section from the [filesystem.drivers] config table.
func NewFromConfig(driver string, driverCfgs map[string]map[string]any) (Filesystem, error) {
	driversMu.RLock()
	factory, ok := drivers[driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown filesystem driver: %s", driver)
	}

	return factory(driverCfgs[driver])
}

// AvailableDrivers returns the list of registered driver names.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}
