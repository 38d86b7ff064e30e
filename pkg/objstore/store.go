// Package objstore abstracts the object-storage backends artifacts and
// manifest pointers are published to. Keys are forward-slash paths
// relative to the store root; the backend choice is runtime configuration.
package objstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("objstore: key not found")

// Store is one storage backend. Implementations are safe for concurrent
// use and shared across requests.
type Store interface {
	// Put writes data unconditionally. Used for mutable pointer objects.
	Put(ctx context.Context, key string, data []byte) error
	// PutIfAbsent writes data only when the key does not exist, the
	// If-None-Match: * discipline for immutable artifacts. created is
	// false when the key was already present.
	PutIfAbsent(ctx context.Context, key string, data []byte) (created bool, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// URI returns the fully qualified location of a key, suitable for
	// manifest rows and pointer payloads.
	URI(key string) string
}
