// Package store defines the secure persistence boundary for serialized
// credential records. Implementations must survive process restart.
package store

import (
	"github.com/pkg/errors"
)

var (
	// ErrItemNotFound is returned by Load and Delete when no record
	// exists under the key. Callers treat this as an empty slot,
	// not a failure.
	ErrItemNotFound = errors.New("item not found")

	// ErrUnexpectedData is returned when a record exists but cannot
	// be read back as it was written.
	ErrUnexpectedData = errors.New("unexpected data in store")
)

// Store is a key-value slot for serialized credentials. Writes are
// last-write-wins; all writes for a given process originate from the
// single-owner credential cache so no further coordination is needed.
type Store interface {
	Save(data []byte, key string) error
	Load(key string) ([]byte, error)
	Delete(key string) error
}
