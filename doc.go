// Package identicache implements an identity-resolution cache that fronts
// several heterogeneous backing stores. Lookups hit a local embedded
// generational cache first and fall back to whichever backend owns the
// application's data; pending writes are drained to the backends by a
// batched synchronization job, with a drift detector forcing an out-of-band
// drain on staleness.
//
// Components:
//   - store.Generations: two dated bbolt stores, "current" (request path)
//     and "previous" (sync input), rotated daily.
//   - backend.Registry: one adapter per application tag (document,
//     relational, distributed SQL, wide-column, key-value).
//   - Codec[Record]: pluggable serialization (msgpack default).
//
// Every record lives under two cache keys, user:<id> and email:<email>,
// written atomically. The engine guarantees bounded staleness, not strong
// consistency: cache and backends reconcile on the sync schedule.
//
// Read-through pattern:
//
//	rec, created, err := eng.ResolveOrCreate(ctx, identity.AppEcommerce, partial)
//	rec, err = eng.Authenticate(ctx, identity.AppEcommerce, "a@x.com")
package identicache
