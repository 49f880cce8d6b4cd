// Package identity holds the record type shared by the cache engine and the
// backend adapters, plus the closed set of application tags that route a
// record to its owning store.
package identity

import (
	"strings"
	"time"
)

// App identifies which backing store owns a record. The set is closed: every
// tag maps to exactly one backend kind and unknown tags are rejected at the
// engine boundary.
type App string

const (
	// AppRivas is the document-store application (MongoDB).
	AppRivas App = "rivas"
	// AppEcommerce is the relational application (MySQL).
	AppEcommerce App = "ecommerce"
	// AppFastStore is the distributed-SQL application (YugabyteDB).
	AppFastStore App = "fast-store"
	// AppScylla is the wide-column application (ScyllaDB).
	AppScylla App = "scyllaapp"
	// AppAeroStore is the key-value application (Redis).
	AppAeroStore App = "aerostore"
)

// Apps lists every known tag in routing order. Exists probes follow this
// order when no tag is supplied.
func Apps() []App {
	return []App{AppRivas, AppEcommerce, AppFastStore, AppScylla, AppAeroStore}
}

// ParseApp validates a raw tag against the closed set.
func ParseApp(s string) (App, bool) {
	switch App(s) {
	case AppRivas, AppEcommerce, AppFastStore, AppScylla, AppAeroStore:
		return App(s), true
	}
	return "", false
}

// AppFromUserID is the legacy compatibility rule for records written before
// the app tag existed: user ids are conventionally "<app>-<suffix>", so the
// prefix names the owner. Returns false when the prefix is not a known tag.
// This is an explicit fallback for sync-time routing only, not a general
// inference mechanism.
func AppFromUserID(userID string) (App, bool) {
	i := strings.IndexByte(userID, '-')
	if i <= 0 {
		return "", false
	}
	// "fast-store" ids ("fast-store-xyz") split at the first dash; try the
	// longer prefix before the short one.
	if app, ok := ParseApp(userID[:i]); ok {
		return app, true
	}
	if j := strings.IndexByte(userID[i+1:], '-'); j >= 0 {
		if app, ok := ParseApp(userID[:i+1+j]); ok {
			return app, true
		}
	}
	return "", false
}

// Record is the unit of caching and synchronization. A nil LastSyncedAt
// means the record was created or modified in cache but has not been
// persisted to its backend yet.
type Record struct {
	UserID       string     `json:"userId" msgpack:"userId" bson:"userId"`
	Email        string     `json:"email" msgpack:"email" bson:"email"`
	Name         string     `json:"name" msgpack:"name" bson:"name"`
	Age          int        `json:"age" msgpack:"age" bson:"age"`
	Balance      float64    `json:"balance" msgpack:"balance" bson:"balance"`
	App          App        `json:"app,omitempty" msgpack:"app,omitempty" bson:"app,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt" msgpack:"lastSyncedAt" bson:"lastSyncedAt"`
}

// Equal reports full structural equality, the comparison drift detection
// uses between a cached record and the live backend row.
func (r Record) Equal(o Record) bool {
	if r.UserID != o.UserID ||
		r.Email != o.Email ||
		r.Name != o.Name ||
		r.Age != o.Age ||
		r.Balance != o.Balance ||
		r.App != o.App {
		return false
	}
	switch {
	case r.LastSyncedAt == nil && o.LastSyncedAt == nil:
		return true
	case r.LastSyncedAt == nil || o.LastSyncedAt == nil:
		return false
	}
	return r.LastSyncedAt.Equal(*o.LastSyncedAt)
}
