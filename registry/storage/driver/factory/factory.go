// Package factory maintains the registry of storage driver constructors. Driver packages register
// themselves on import, mirroring database/sql driver registration.
package factory

import (
	"fmt"

	storagedriver "github.com/deploys-app/registry/registry/storage/driver"
)

// DriverFactory constructs a StorageDriver from a parameter map.
type DriverFactory interface {
	Create(parameters map[string]interface{}) (storagedriver.StorageDriver, error)
}

var driverFactories = make(map[string]DriverFactory)

// Register makes a DriverFactory available by name. It panics when called twice with the same name
// or with a nil factory, which always indicates a programming error during init.
func Register(name string, factory DriverFactory) {
	if factory == nil {
		panic("factory: Register factory is nil")
	}
	if _, registered := driverFactories[name]; registered {
		panic(fmt.Sprintf("factory: Register called twice for driver %q", name))
	}
	driverFactories[name] = factory
}

// Create builds a new StorageDriver with the given name and parameters.
func Create(name string, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	factory, ok := driverFactories[name]
	if !ok {
		return nil, InvalidStorageDriverError{name}
	}
	return factory.Create(parameters)
}

// InvalidStorageDriverError records an attempt to construct an unregistered storage driver.
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("storage driver not registered: %s", err.Name)
}
