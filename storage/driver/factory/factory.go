package factory

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/reststorage/reststorage"
)

var driverFactories = make(map[string]StorageDriverFactory)

// StorageDriverFactory builds a backend from the free form parameters of the
// storage section of the configuration. Backends register one from init, so
// a binary selects its backends by blank importing their packages.
type StorageDriverFactory interface {
	Create(ctx context.Context, parameters map[string]interface{}) (reststorage.Storage, error)
}

// Register makes factory available under name. It panics on a nil factory or
// a name registered twice, and must not be called concurrently with Create.
func Register(name string, factory StorageDriverFactory) {
	if factory == nil {
		panic("storage factory " + name + " is nil")
	}
	if _, dup := driverFactories[name]; dup {
		panic(fmt.Sprintf("storage factory %s registered twice", name))
	}
	driverFactories[name] = factory
}

// Create builds the backend registered under name and checks that it can read
// the root collection. Unknown names yield InvalidStorageDriverError.
func Create(ctx context.Context, name string, parameters map[string]interface{}) (reststorage.Storage, error) {
	driverFactory, ok := driverFactories[name]
	if !ok {
		return nil, InvalidStorageDriverError{name}
	}
	d, err := driverFactory.Create(ctx, parameters)
	if err != nil {
		return nil, err
	}
	if err := verify(ctx, d); err != nil {
		return nil, fmt.Errorf("unable to read the root collection on storage type %q: %w", name, err)
	}
	return d, nil
}

// verify ensures the configured backend answers a read of the root
// collection, retrying briefly for backends that come up slowly.
func verify(ctx context.Context, driver reststorage.Storage) error {
	max := 3 * time.Second
	duration := 10 * time.Millisecond

	for {
		_, err := driver.Get(ctx, reststorage.RootPath, reststorage.AllItems())
		if err == nil {
			return nil
		}
		if !reststorage.IsBackendUnavailable(err) || duration >= max {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(duration):
		}
		duration = backOffSeconds(duration)
	}
}

func backOffSeconds(d time.Duration) time.Duration {
	d *= 2
	d += time.Microsecond * time.Duration(rand.Int63n(1000))
	return d
}

// InvalidStorageDriverError names a backend that no package registered.
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("storage backend not registered: %s", err.Name)
}
