// Package store provides the embedded per-generation byte store and the
// dual-generation pair the engine serves from.
//
// A generation is one dated bucket directory under the cache root, holding a
// single bbolt database. Exactly two generations are live at a time:
// "current" (accepts writes, sole read target for the request path) and
// "previous" (read-only for requests; exclusive input to synchronization and
// drift detection). The Generations type owns both handles; no other
// component opens or closes the underlying storage.
package store

import "errors"

// ErrClosed is returned by operations against a store whose handle has been
// closed, typically a drain racing a rotation that the job guard should have
// prevented.
var ErrClosed = errors.New("store: closed")

// Store is a minimal byte store for one generation. Implementations must be
// safe for concurrent use and byte-for-byte transparent: Get returns exactly
// the bytes previously passed to PutPair.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(key string) ([]byte, bool, error)

	// PutPair stores value under both keys atomically. A concurrent reader
	// observes either both entries updated or neither.
	PutPair(idKey, emailKey string, value []byte) error

	// Scan iterates all entries in key order. The value slice is only valid
	// for the duration of fn; copy it to retain.
	Scan(fn func(key string, value []byte) error) error

	// Remove deletes the given keys (missing keys are not an error).
	Remove(keys ...string) error

	// Close releases the underlying storage handle.
	Close() error

	// Dir returns the generation's bucket directory.
	Dir() string
}
