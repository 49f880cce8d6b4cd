package identicache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
)

var (
	// ErrNotFound means no record exists in cache or backend. On the
	// authenticate path this is a hard failure; resolveOrCreate turns the
	// same condition into record creation instead.
	ErrNotFound = errors.New("identicache: record not found")

	// ErrUnsupportedApp means the request carried an application tag outside
	// the closed set.
	ErrUnsupportedApp = errors.New("identicache: unsupported application")
)

// ValidationError reports missing or malformed request input. Always a
// client-facing failure.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "identicache: invalid request: " + e.Msg
}

// BackendError wraps a failed call to a specific backing store. Recoverable:
// the record stays pending and the next scheduled sync retries; the read
// path never retries inline beyond the immediate attempt.
type BackendError struct {
	App  identity.App
	Kind backend.Kind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("identicache: backend %s (%s) %s: %v", e.Kind, e.App, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// SyncPartialError reports a drain in which one or more records failed their
// upsert. The batch continued past them; failed records remain in the
// previous generation for the next pass.
type SyncPartialError struct {
	Synced int
	Failed int
}

func (e *SyncPartialError) Error() string {
	return fmt.Sprintf("identicache: sync partial failure: %d synced, %d failed (failed records remain pending)", e.Synced, e.Failed)
}

// RotationError reports a storage-open failure during rotation. The
// previously active generations remain authoritative and the process keeps
// serving; the next trigger retries.
type RotationError struct {
	Err error
}

func (e *RotationError) Error() string {
	return "identicache: rotation failed: " + e.Err.Error()
}

func (e *RotationError) Unwrap() error { return e.Err }
