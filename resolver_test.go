package identicache

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
	"github.com/unkn0wn-root/identicache/internal/keys"
	"github.com/unkn0wn-root/identicache/store"
)

// testNow is a mid-day instant well before the 22:30 rotation trigger.
var testNow = time.Date(2026, time.August, 1, 10, 0, 0, 0, time.UTC)

type fakeBackend struct {
	kind backend.Kind

	mu     sync.Mutex
	rows   map[string]identity.Record // by user id
	emails map[string]string          // email -> user id

	findByIDCalls    int
	findByEmailCalls int
	upsertCalls      int

	failUpsert map[string]bool // user ids whose upsert fails
	findErr    error           // returned by both finds when set
}

var _ backend.Backend = (*fakeBackend)(nil)

func newFakeBackend(kind backend.Kind) *fakeBackend {
	return &fakeBackend{
		kind:       kind,
		rows:       make(map[string]identity.Record),
		emails:     make(map[string]string),
		failUpsert: make(map[string]bool),
	}
}

func (f *fakeBackend) seed(rec identity.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[rec.UserID] = rec
	f.emails[rec.Email] = rec.UserID
}

func (f *fakeBackend) Kind() backend.Kind { return f.kind }

func (f *fakeBackend) FindByID(_ context.Context, userID string) (identity.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findByIDCalls++
	if f.findErr != nil {
		return identity.Record{}, false, f.findErr
	}
	rec, ok := f.rows[userID]
	return rec, ok, nil
}

func (f *fakeBackend) FindByEmail(_ context.Context, email string) (identity.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findByEmailCalls++
	if f.findErr != nil {
		return identity.Record{}, false, f.findErr
	}
	id, ok := f.emails[email]
	if !ok {
		return identity.Record{}, false, nil
	}
	return f.rows[id], true, nil
}

func (f *fakeBackend) Upsert(_ context.Context, rec identity.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.failUpsert[rec.UserID] {
		return errors.New("simulated upsert failure")
	}
	f.rows[rec.UserID] = rec
	f.emails[rec.Email] = rec.UserID
	return nil
}

func (f *fakeBackend) Close(context.Context) error { return nil }

func (f *fakeBackend) finds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findByIDCalls + f.findByEmailCalls
}

type testEnv struct {
	eng     *Engine
	gens    *store.Generations
	logPath string
}

func newTestEnv(t *testing.T, backends map[identity.App]backend.Backend) *testEnv {
	t.Helper()
	gens, err := store.Open(store.Config{
		Root:         t.TempDir(),
		Location:     time.UTC,
		RotateHour:   22,
		RotateMinute: 30,
	}, testNow)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = gens.Close() })

	reg := backend.NewRegistry()
	for _, app := range identity.Apps() {
		if b, ok := backends[app]; ok {
			reg.Register(app, b)
		}
	}

	logPath := filepath.Join(t.TempDir(), "sync_logs.txt")
	eng, err := New(Options{
		Generations: gens,
		Backends:    reg,
		SyncLogPath: logPath,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{eng: eng, gens: gens, logPath: logPath}
}

// ==============================
// Resolve-or-create
// ==============================

// TestResolveOrCreateSynthesizes covers the end-to-end miss path: total miss
// creates a record (balance 0, not yet synced), and a following authenticate
// serves it from cache without a backend call.
func TestResolveOrCreateSynthesizes(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	rec, created, err := env.eng.ResolveOrCreate(ctx, identity.AppEcommerce, identity.Record{
		UserID: "u1", Email: "a@x.com",
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected created signal on total miss")
	}
	if rec.UserID != "u1" || rec.Email != "a@x.com" || rec.Balance != 0 || rec.LastSyncedAt != nil {
		t.Fatalf("synthesized record wrong: %+v", rec)
	}
	if rec.App != identity.AppEcommerce {
		t.Fatalf("synthesized record not tagged: %+v", rec)
	}

	findsBefore := fb.finds()
	got, err := env.eng.Authenticate(ctx, identity.AppEcommerce, "a@x.com")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !got.Equal(rec) {
		t.Fatalf("Authenticate = %+v, want %+v", got, rec)
	}
	if fb.finds() != findsBefore {
		t.Fatalf("cache hit still called the backend")
	}
}

// TestDualKeyConsistency: both cache keys must hold bit-identical values.
func TestDualKeyConsistency(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	if _, _, err := env.eng.ResolveOrCreate(ctx, identity.AppEcommerce, identity.Record{
		UserID: "u1", Email: "a@x.com", Name: "Ada",
	}); err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}

	byID, ok, err := env.gens.Get(keys.User("u1"))
	if err != nil || !ok {
		t.Fatalf("id key missing: ok=%v err=%v", ok, err)
	}
	byEmail, ok, err := env.gens.Get(keys.Email("a@x.com"))
	if err != nil || !ok {
		t.Fatalf("email key missing: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(byID, byEmail) {
		t.Fatalf("dual keys hold different bytes")
	}
}

// TestReadThroughIdempotence: the second resolve after a backend hit must be
// a pure cache hit with zero additional backend calls.
func TestReadThroughIdempotence(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMongo)
	fb.seed(identity.Record{UserID: "rivas-1", Email: "b@x.com", Name: "Grace", App: identity.AppRivas})
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppRivas: fb})

	first, created, err := env.eng.ResolveOrCreate(ctx, identity.AppRivas, identity.Record{UserID: "rivas-1"})
	if err != nil || created {
		t.Fatalf("ResolveOrCreate: created=%v err=%v", created, err)
	}
	findsAfterFirst := fb.finds()
	if findsAfterFirst == 0 {
		t.Fatalf("first resolve should have hit the backend")
	}

	second, created, err := env.eng.ResolveOrCreate(ctx, identity.AppRivas, identity.Record{UserID: "rivas-1"})
	if err != nil || created {
		t.Fatalf("second ResolveOrCreate: created=%v err=%v", created, err)
	}
	if !second.Equal(first) {
		t.Fatalf("records differ across resolves: %+v vs %+v", first, second)
	}
	if fb.finds() != findsAfterFirst {
		t.Fatalf("second resolve called the backend")
	}
}

func TestResolveOrCreateGeneratesUserID(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	rec, created, err := env.eng.ResolveOrCreate(ctx, identity.AppEcommerce, identity.Record{Email: "c@x.com"})
	if err != nil || !created {
		t.Fatalf("ResolveOrCreate: created=%v err=%v", created, err)
	}
	app, ok := identity.AppFromUserID(rec.UserID)
	if !ok || app != identity.AppEcommerce {
		t.Fatalf("generated id %q does not carry the app prefix", rec.UserID)
	}
}

func TestResolveOrCreateValidation(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	var verr *ValidationError
	_, _, err := env.eng.ResolveOrCreate(ctx, identity.AppEcommerce, identity.Record{})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	_, _, err = env.eng.ResolveOrCreate(ctx, identity.App("warehouse"), identity.Record{UserID: "u1"})
	if !errors.Is(err, ErrUnsupportedApp) {
		t.Fatalf("expected ErrUnsupportedApp, got %v", err)
	}
}

// ==============================
// Authenticate
// ==============================

func TestAuthenticateNotFound(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	_, err := env.eng.Authenticate(ctx, identity.AppEcommerce, "ghost@x.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthenticateBackendHitPopulatesCache(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	fb.seed(identity.Record{UserID: "u9", Email: "d@x.com", App: identity.AppEcommerce})
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	if _, err := env.eng.Authenticate(ctx, identity.AppEcommerce, "d@x.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	// Both keys populated from the backend hit.
	if _, ok, _ := env.gens.Get(keys.User("u9")); !ok {
		t.Fatalf("id key not populated")
	}
	if _, ok, _ := env.gens.Get(keys.Email("d@x.com")); !ok {
		t.Fatalf("email key not populated")
	}
}

// TestAuthenticateTimeoutIsNotFound: a timed-out backend is an absent
// backend for the current operation, never retried inline.
func TestAuthenticateTimeoutIsNotFound(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindMySQL)
	fb.findErr = context.DeadlineExceeded
	env := newTestEnv(t, map[identity.App]backend.Backend{identity.AppEcommerce: fb})

	_, err := env.eng.Authenticate(ctx, identity.AppEcommerce, "a@x.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on timeout, got %v", err)
	}
}

// ==============================
// Exists
// ==============================

func TestExistsSources(t *testing.T) {
	ctx := context.Background()
	mysqlFb := newFakeBackend(backend.KindMySQL)
	mongoFb := newFakeBackend(backend.KindMongo)
	mysqlFb.seed(identity.Record{UserID: "u2", Email: "sql@x.com", App: identity.AppEcommerce})
	env := newTestEnv(t, map[identity.App]backend.Backend{
		identity.AppRivas:     mongoFb,
		identity.AppEcommerce: mysqlFb,
	})

	// Backend-sourced hit via the untagged sweep.
	exists, source, err := env.eng.Exists(ctx, "", "sql@x.com")
	if err != nil || !exists || source != string(backend.KindMySQL) {
		t.Fatalf("Exists = %v, %q, %v", exists, source, err)
	}

	// Cache-sourced hit after a resolve populated the current generation.
	if _, _, err := env.eng.ResolveOrCreate(ctx, identity.AppEcommerce, identity.Record{
		UserID: "u3", Email: "cached@x.com",
	}); err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	exists, source, err = env.eng.Exists(ctx, "", "cached@x.com")
	if err != nil || !exists || source != SourceCache {
		t.Fatalf("Exists = %v, %q, %v", exists, source, err)
	}

	// Total miss.
	exists, source, err = env.eng.Exists(ctx, "", "nobody@x.com")
	if err != nil || exists || source != "" {
		t.Fatalf("Exists = %v, %q, %v", exists, source, err)
	}

	// Tagged check consults only that backend.
	mongoBefore := mongoFb.finds()
	if _, _, err := env.eng.Exists(ctx, identity.AppEcommerce, "sql@x.com"); err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if mongoFb.finds() != mongoBefore {
		t.Fatalf("tagged existence check probed an unrelated backend")
	}
}
