package identicache

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/codec"
	"github.com/unkn0wn-root/identicache/identity"
	"github.com/unkn0wn-root/identicache/internal/keys"
)

// seedPrevious writes records into the current generation and rotates, so
// they land in the previous generation as pending sync input.
func seedPrevious(t *testing.T, env *testEnv, recs ...identity.Record) {
	t.Helper()
	c := codec.Msgpack[identity.Record]{}
	for _, rec := range recs {
		raw, err := c.Encode(rec)
		if err != nil {
			t.Fatalf("encode seed %s: %v", rec.UserID, err)
		}
		if err := env.gens.PutPair(keys.User(rec.UserID), keys.Email(rec.Email), raw); err != nil {
			t.Fatalf("seed %s: %v", rec.UserID, err)
		}
	}
	if _, err := env.gens.Rotate(testNow.Add(13 * time.Hour)); err != nil { // 23:00 same day
		t.Fatalf("Rotate: %v", err)
	}
}

func pendingIDs(t *testing.T, env *testEnv) []string {
	t.Helper()
	rows, err := env.eng.SyncedRecords()
	if err != nil {
		t.Fatalf("SyncedRecords: %v", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	return ids
}

// TestFullSyncDrains: K pending entries with batch size N < K produce exactly
// K synced lines, K backend upserts, and an empty previous generation.
func TestFullSyncDrains(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	recs := make([]identity.Record, 5)
	for i := range recs {
		id := string(rune('a' + i))
		recs[i] = identity.Record{
			UserID: "u" + id, Email: id + "@x.com", App: identity.AppEcommerce,
		}
	}
	seedPrevious(t, env, recs...)

	report, err := env.eng.FullSync(ctx, 2)
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if report.Synced != 5 || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Lines) != 5 {
		t.Fatalf("got %d audit lines, want 5", len(report.Lines))
	}
	for _, l := range report.Lines {
		if !strings.HasPrefix(l, "[SYNCED] ") {
			t.Fatalf("malformed audit line %q", l)
		}
	}
	if fb.upsertCalls != 5 {
		t.Fatalf("upserts = %d, want 5", fb.upsertCalls)
	}
	if ids := pendingIDs(t, env); len(ids) != 0 {
		t.Fatalf("previous generation not drained: %v", ids)
	}

	// Every committed row carries a sync stamp.
	for _, rec := range recs {
		got, ok := fb.rows[rec.UserID]
		if !ok || got.LastSyncedAt == nil {
			t.Fatalf("record %s not stamped: %+v", rec.UserID, got)
		}
	}

	// The durable audit block: start stamp, one line per record, summary.
	raw, err := os.ReadFile(env.logPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	log := string(raw)
	if n := strings.Count(log, "[SYNCED] "); n != 5 {
		t.Fatalf("audit log has %d synced lines, want 5:\n%s", n, log)
	}
	if !strings.Contains(log, "[SYNC COMPLETE]") {
		t.Fatalf("audit log missing summary:\n%s", log)
	}
}

// TestFullSyncPartialFailure: one bad record never halts the drain. The
// others commit and drop out; the failed one stays pending for the next pass.
func TestFullSyncPartialFailure(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	fb.failUpsert["u2"] = true
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	seedPrevious(t, env,
		identity.Record{UserID: "u1", Email: "a@x.com", App: identity.AppEcommerce},
		identity.Record{UserID: "u2", Email: "b@x.com", App: identity.AppEcommerce},
		identity.Record{UserID: "u3", Email: "c@x.com", App: identity.AppEcommerce},
	)

	report, err := env.eng.FullSync(ctx, 0)
	var perr *SyncPartialError
	if !errors.As(err, &perr) {
		t.Fatalf("expected SyncPartialError, got %v", err)
	}
	if report.Synced != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if fb.upsertCalls != 3 {
		t.Fatalf("upserts = %d, want 3 (failure must not abort the pass)", fb.upsertCalls)
	}

	ids := pendingIDs(t, env)
	if len(ids) != 1 || ids[0] != "u2" {
		t.Fatalf("pending after partial sync = %v, want [u2]", ids)
	}
	// The failed entry keeps both of its keys.
	emailKeyKept := false
	err = env.gens.ScanPrevious(func(key string, _ []byte) error {
		if key == keys.Email("b@x.com") {
			emailKeyKept = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ScanPrevious: %v", err)
	}
	if !emailKeyKept {
		t.Fatalf("failed entry lost its email key")
	}
}

// TestFullSyncRouting: untagged records route by id prefix, unroutable ones
// fall back to the relational default.
func TestFullSyncRouting(t *testing.T) {
	ctx := context.Background()
	mongoFb := newFakeBackend(backend.KindMongo)
	mysqlFb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{
		identity.AppRivas:     mongoFb,
		identity.AppEcommerce: mysqlFb,
	})

	seedPrevious(t, env,
		identity.Record{UserID: "rivas-7", Email: "r@x.com"},   // legacy prefix
		identity.Record{UserID: "opaque99", Email: "o@x.com"},  // no prefix, default
	)

	if _, err := env.eng.FullSync(ctx, 0); err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if _, ok := mongoFb.rows["rivas-7"]; !ok {
		t.Fatalf("prefixed record did not route to its backend")
	}
	if _, ok := mysqlFb.rows["opaque99"]; !ok {
		t.Fatalf("unroutable record did not fall back to the default backend")
	}
}

func TestSyncedRecordsListsPending(t *testing.T) {
	fb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	seedPrevious(t, env,
		identity.Record{UserID: "u1", Email: "a@x.com", App: identity.AppEcommerce},
		identity.Record{UserID: "u2", Email: "b@x.com", App: identity.AppEcommerce},
	)

	rows, err := env.eng.SyncedRecords()
	if err != nil {
		t.Fatalf("SyncedRecords: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (email keys must not double-count)", len(rows))
	}
	for _, r := range rows {
		if r.LastSyncedAt != nil {
			t.Fatalf("pending record %s already stamped", r.UserID)
		}
	}
}
