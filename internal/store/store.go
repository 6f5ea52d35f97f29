// Package store provides the durable local key/value store that the sync
// engine uses to survive process restarts. Values are opaque serialized
// collections owned by the caller.
package store

import (
	"context"
	"fmt"
)

// Store is a durable key/value store.
type Store interface {
	// Get returns the value for key. The second return is false if the key
	// is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	Close() error
}

// PersistenceError wraps a store read/write failure. Callers log it and keep
// their in-memory bookkeeping going; it never aborts a sync pass.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
