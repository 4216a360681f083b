// Package statestore defines the durable key-value store used to persist the
// updater's reconciliation state and scheduled reminders.
package statestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("not found")

// Store is a durable key-value store.
// Values are JSON-serializable documents. Writes replace the stored value
// atomically. Implementations must be safe for concurrent use; callers
// serialize read-modify-write cycles per key themselves.
type Store interface {
	// Get unmarshals the value stored under key into dest.
	// It returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string, dest any) error
	// Put stores val under key, replacing any existing value.
	Put(ctx context.Context, key string, val any) error
	// Delete removes the value stored under key.
	// Deleting a non-existing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
