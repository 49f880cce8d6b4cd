package identicache

import (
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/codec"
	"github.com/unkn0wn-root/identicache/identity"
	"github.com/unkn0wn-root/identicache/store"
)

// Options tune the engine. Generations and Backends are required; the rest
// have sensible defaults.
type Options struct {
	// Required
	Generations *store.Generations
	Backends    *backend.Registry

	Codec          codec.Codec[identity.Record] // nil => msgpack
	Logger         Logger                       // nil => NopLogger
	BackendTimeout time.Duration                // bound on adapter calls; 0 => 5s
	SyncBatchSize  int                          // default drain batch; 0 => 100
	SyncLogPath    string                       // audit log file; "" => sync_logs.txt
	Location       *time.Location               // timestamps in the audit log; nil => UTC
}

// Engine is the identity-resolution cache: read-through resolver, batched
// synchronization, drift detection, and the rotation entry point.
//
// Request-path methods (ResolveOrCreate, Authenticate, Exists,
// SyncedRecords) are safe for concurrent use and lock-free apart from the
// generation pair's read lock. FullSync, DriftCheck, and Rotate serialize
// through one job guard: one drain or rotation at a time, never overlapping.
type Engine struct {
	gens     *store.Generations
	backends *backend.Registry
	codec    codec.Codec[identity.Record]
	log      Logger

	backendTimeout time.Duration
	batchSize      int
	syncLogPath    string
	loc            *time.Location

	// jobMu serializes background jobs. A rotation swapping the handle pair
	// under a running drain would dereference a closed handle.
	jobMu sync.Mutex
}

func New(opts Options) (*Engine, error) {
	if opts.Generations == nil {
		return nil, fmt.Errorf("identicache: generations store is required")
	}
	if opts.Backends == nil {
		return nil, fmt.Errorf("identicache: backend registry is required")
	}

	e := &Engine{
		gens:     opts.Generations,
		backends: opts.Backends,
		codec:    opts.Codec,
	}
	if e.codec == nil {
		e.codec = codec.Msgpack[identity.Record]{}
	}
	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.backendTimeout = coalesce[time.Duration](opts.BackendTimeout, 5*time.Second)
	e.batchSize = coalesce[int](opts.SyncBatchSize, 100)
	e.syncLogPath = coalesce[string](opts.SyncLogPath, "sync_logs.txt")
	e.loc = opts.Location
	if e.loc == nil {
		e.loc = time.UTC
	}
	return e, nil
}

// Rotate advances the generation pair at the daily trigger. Failures leave
// the old pair serving and are reported for the caller to log; the serving
// process must not treat them as fatal.
func (e *Engine) Rotate(now time.Time) error {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()

	res, err := e.gens.Rotate(now)
	if err != nil {
		return &RotationError{Err: err}
	}
	if res.DeleteErr != nil {
		// Stale directories accumulate but never break the contract.
		e.log.Warn("rotation: could not delete expired bucket", Fields{
			"dir": res.DeletedDir, "err": res.DeleteErr,
		})
	}
	e.log.Info("rotation complete", Fields{
		"current": res.CurrentDir, "previous": res.PreviousDir, "deleted": res.DeletedDir,
	})
	return nil
}

// Close releases the generation handles. Backend adapters are owned by the
// registry and closed separately by whoever built it.
func (e *Engine) Close() error {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()
	return e.gens.Close()
}
