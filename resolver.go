package identicache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
	"github.com/unkn0wn-root/identicache/internal/keys"
)

// SourceCache is the source reported by Exists when the current generation
// answered; otherwise the source is the answering backend's kind.
const SourceCache = "cache"

// ResolveOrCreate is the read-through/write-through entry point of the
// signup path. It checks the current generation by id key then email key; on
// miss it asks the owning backend; on total miss it synthesizes a new record
// (balance 0, not yet synced) and caches it. created reports whether the
// record was synthesized rather than found.
func (e *Engine) ResolveOrCreate(ctx context.Context, app identity.App, partial identity.Record) (rec identity.Record, created bool, err error) {
	b, ok := e.backends.For(app)
	if !ok {
		return identity.Record{}, false, fmt.Errorf("%w: %q", ErrUnsupportedApp, app)
	}
	if partial.UserID == "" && partial.Email == "" {
		return identity.Record{}, false, &ValidationError{Msg: "userId or email is required"}
	}

	if partial.UserID != "" {
		if cached, ok := e.cacheGet(keys.User(partial.UserID)); ok {
			return cached, false, nil
		}
	}
	if partial.Email != "" {
		if cached, ok := e.cacheGet(keys.Email(partial.Email)); ok {
			return cached, false, nil
		}
	}

	found, foundRec, err := e.backendFind(ctx, app, b, partial)
	if err != nil {
		return identity.Record{}, false, err
	}
	if found {
		if err := e.cachePut(foundRec); err != nil {
			return identity.Record{}, false, err
		}
		return foundRec, false, nil
	}

	rec = partial
	rec.App = app
	rec.LastSyncedAt = nil
	if rec.UserID == "" {
		rec.UserID = newUserID(app)
	}
	if rec.Email == "" {
		return identity.Record{}, false, &ValidationError{Msg: "email is required to create a record"}
	}
	if err := e.cachePut(rec); err != nil {
		return identity.Record{}, false, err
	}
	return rec, true, nil
}

// Authenticate is the login path: cache by email key, then the owning
// backend. A total miss is a hard ErrNotFound; the login path never creates.
func (e *Engine) Authenticate(ctx context.Context, app identity.App, email string) (identity.Record, error) {
	b, ok := e.backends.For(app)
	if !ok {
		return identity.Record{}, fmt.Errorf("%w: %q", ErrUnsupportedApp, app)
	}
	if email == "" {
		return identity.Record{}, &ValidationError{Msg: "email is required"}
	}

	if cached, ok := e.cacheGet(keys.Email(email)); ok {
		return cached, nil
	}

	fctx, cancel := e.backendCtx(ctx)
	rec, found, err := b.FindByEmail(fctx, email)
	cancel()
	if err != nil {
		if timedOut(err) {
			// A timed-out backend is an absent backend for this operation.
			e.log.Warn("authenticate: backend timed out", Fields{"app": app, "email": email})
			return identity.Record{}, ErrNotFound
		}
		return identity.Record{}, &BackendError{App: app, Kind: b.Kind(), Op: "find by email", Err: err}
	}
	if !found {
		return identity.Record{}, ErrNotFound
	}
	if err := e.cachePut(rec); err != nil {
		return identity.Record{}, err
	}
	return rec, nil
}

// Exists is the pre-signup duplicate check. With an app tag it asks that
// backend only; with no tag it sweeps the registered backends in order. The
// returned source names who answered: "cache" or a backend kind.
func (e *Engine) Exists(ctx context.Context, app identity.App, email string) (bool, string, error) {
	if email == "" {
		return false, "", &ValidationError{Msg: "email is required"}
	}
	if _, ok := e.cacheGet(keys.Email(email)); ok {
		return true, SourceCache, nil
	}

	apps := e.backends.Apps()
	if app != "" {
		if _, ok := e.backends.For(app); !ok {
			return false, "", fmt.Errorf("%w: %q", ErrUnsupportedApp, app)
		}
		apps = []identity.App{app}
	}

	for _, a := range apps {
		b, _ := e.backends.For(a)
		fctx, cancel := e.backendCtx(ctx)
		_, found, err := b.FindByEmail(fctx, email)
		cancel()
		if err != nil {
			if timedOut(err) {
				e.log.Warn("exists: backend timed out", Fields{"app": a})
				continue
			}
			return false, "", &BackendError{App: a, Kind: b.Kind(), Op: "find by email", Err: err}
		}
		if found {
			return true, string(b.Kind()), nil
		}
	}
	return false, "", nil
}

// cacheGet reads one key from the current generation. Undecodable entries
// are treated as misses; the read-through fill overwrites them.
func (e *Engine) cacheGet(key string) (identity.Record, bool) {
	raw, ok, err := e.gens.Get(key)
	if err != nil || !ok {
		if err != nil {
			e.log.Warn("cache read failed", Fields{"key": key, "err": err})
		}
		return identity.Record{}, false
	}
	rec, err := e.codec.Decode(raw)
	if err != nil {
		e.log.Warn("cache entry corrupt, treating as miss", Fields{"key": key, "err": err})
		return identity.Record{}, false
	}
	return rec, true
}

// cachePut writes the record under both of its keys atomically.
func (e *Engine) cachePut(rec identity.Record) error {
	if rec.UserID == "" || rec.Email == "" {
		return &ValidationError{Msg: "record must carry both userId and email"}
	}
	raw, err := e.codec.Encode(rec)
	if err != nil {
		return err
	}
	return e.gens.PutPair(keys.User(rec.UserID), keys.Email(rec.Email), raw)
}

func (e *Engine) backendFind(ctx context.Context, app identity.App, b backend.Backend, partial identity.Record) (bool, identity.Record, error) {
	fctx, cancel := e.backendCtx(ctx)
	defer cancel()

	var (
		rec   identity.Record
		found bool
		err   error
	)
	if partial.UserID != "" {
		rec, found, err = b.FindByID(fctx, partial.UserID)
	} else {
		rec, found, err = b.FindByEmail(fctx, partial.Email)
	}
	if err != nil {
		if timedOut(err) {
			e.log.Warn("resolve: backend timed out, treating as miss", Fields{"app": app})
			return false, identity.Record{}, nil
		}
		return false, identity.Record{}, &BackendError{App: app, Kind: b.Kind(), Op: "find", Err: err}
	}
	return found, rec, nil
}

func (e *Engine) backendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.backendTimeout)
}

func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// newUserID follows the storefront convention for generated ids:
// "<app>-<base36 unix millis>". The prefix doubles as the legacy routing
// hint for records that predate the app tag.
func newUserID(app identity.App) string {
	return string(app) + "-" + strconv.FormatInt(time.Now().UnixMilli(), 36)
}
