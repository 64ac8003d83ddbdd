// Package store defines the TTL-capable field store challenge sessions live
// in, and the registry of backends that implement it.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrBadConfig is returned when a backend is given unusable parameters.
	ErrBadConfig = errors.New("store: configuration is invalid")

	// ErrNoFields is returned when SetFields is called with nothing to write.
	ErrNoFields = errors.New("store: no fields to write")

	// ErrConflict is returned by SetFieldsIf when the guard field no longer
	// holds the expected value.
	ErrConflict = errors.New("store: guard field changed")
)

// Interface is the contract every store backend satisfies.
//
// Expired keys are indistinguishable from absent keys for every method.
type Interface interface {
	// SetFields writes fields into the hash at key and resets its expiry, as
	// one atomic step. Fields not named are left untouched.
	SetFields(ctx context.Context, key string, fields map[string]string, expiry time.Duration) error

	// SetFieldsIf behaves like SetFields, but only writes when field of the
	// live key still equals want. The comparison and the write happen as one
	// atomic step. It returns ErrNotFound when the key is absent and
	// ErrConflict when field holds anything else.
	SetFieldsIf(ctx context.Context, key, field, want string, fields map[string]string, expiry time.Duration) error

	// GetFields returns every field of key. It returns ErrNotFound when the key
	// is absent. Reads never extend the lifetime of a key.
	GetFields(ctx context.Context, key string) (map[string]string, error)

	// Delete atomically removes key. A nil error means this call removed a
	// live key, and no other concurrent Delete of the same key can also see
	// nil. ErrNotFound means nothing was removed. Any other error leaves the
	// outcome unknown.
	Delete(ctx context.Context, key string) error

	// IsPersistent reports whether stored data outlives the process.
	IsPersistent() bool
}
