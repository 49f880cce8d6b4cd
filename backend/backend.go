// Package backend defines the adapter contract for the external systems of
// record and the registry that routes an application tag to its adapter.
//
// Adapters must be safe for concurrent use; connections are long-lived and
// shared (pooled where the client supports pooling). Upserts are idempotent,
// keyed by user id: the synchronization engine may replay a record after a
// partial failure.
package backend

import (
	"context"

	"github.com/unkn0wn-root/identicache/identity"
)

// Kind names a backing store family. It is the "source" value reported by
// existence checks.
type Kind string

const (
	KindMongo    Kind = "mongodb"
	KindMySQL    Kind = "mysql"
	KindYugabyte Kind = "yugabyte"
	KindScylla   Kind = "scylla"
	KindKeyval   Kind = "keyval"
)

// Backend is one external system of record.
type Backend interface {
	Kind() Kind

	// FindByID returns (record, true, nil) on hit; (zero, false, nil) on miss.
	FindByID(ctx context.Context, userID string) (identity.Record, bool, error)

	// FindByEmail is the secondary-key lookup used by authentication and
	// existence checks.
	FindByEmail(ctx context.Context, email string) (identity.Record, bool, error)

	// Upsert inserts or updates the record keyed by its user id.
	Upsert(ctx context.Context, rec identity.Record) error

	// Close releases the underlying client when the adapter owns it.
	Close(ctx context.Context) error
}

// Registry maps each application tag to exactly one adapter. Registration
// order is preserved; untagged existence probes sweep backends in that
// order.
type Registry struct {
	order []identity.App
	m     map[identity.App]Backend
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[identity.App]Backend)}
}

// Register binds an application tag to its adapter. Re-registering a tag
// replaces the binding but keeps its position.
func (r *Registry) Register(app identity.App, b Backend) {
	if _, exists := r.m[app]; !exists {
		r.order = append(r.order, app)
	}
	r.m[app] = b
}

// For returns the adapter owning the given application's data.
func (r *Registry) For(app identity.App) (Backend, bool) {
	b, ok := r.m[app]
	return b, ok
}

// Apps returns the registered tags in registration order.
func (r *Registry) Apps() []identity.App {
	out := make([]identity.App, len(r.order))
	copy(out, r.order)
	return out
}

// Close closes every registered adapter, returning the first error.
func (r *Registry) Close(ctx context.Context) error {
	var first error
	for _, app := range r.order {
		if err := r.m[app].Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
