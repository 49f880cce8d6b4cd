package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DirPrefix names generation bucket directories: gen_YYYY-MM-DD.
const DirPrefix = "gen_"

// Config describes where generations live and when the daily rotation
// boundary falls.
type Config struct {
	// Root is the directory holding one bucket directory per calendar day.
	Root string
	// Location is the timezone the calendar buckets are computed in.
	Location *time.Location
	// RotateHour/RotateMinute is the daily wall-clock rotation trigger.
	// Initialization uses the same trigger to decide which buckets a process
	// restarted mid-day should attach to.
	RotateHour   int
	RotateMinute int
}

// RotationResult reports what a rotation did. DeleteErr is the best-effort
// removal failure of the expired bucket, logged by the caller and otherwise
// ignored; stale directories accumulate but never violate the read/write
// contract.
type RotationResult struct {
	CurrentDir  string
	PreviousDir string
	DeletedDir  string
	DeleteErr   error
}

// Generations owns the two live generation handles. All access goes through
// its methods; the handle pair is swapped atomically by Rotate under the
// write lock, so readers never observe a half-swapped pair or a closed
// handle.
type Generations struct {
	cfg Config

	mu          sync.RWMutex
	current     Store
	previous    Store
	currentDay  time.Time
	previousDay time.Time
}

// BucketDir returns the deterministic directory for a calendar day.
func BucketDir(root string, day time.Time) string {
	return filepath.Join(root, DirPrefix+day.Format("2006-01-02"))
}

// Open reconstructs the generation pair a continuously running process would
// be holding at the given wall-clock time: after today's rotation trigger the
// current bucket is tomorrow's, before it the current bucket is today's.
func Open(cfg Config, now time.Time) (*Generations, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("store: cache root is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	local := now.In(cfg.Location)
	today := startOfDay(local)

	var currentDay, previousDay time.Time
	if afterTrigger(local, cfg) {
		currentDay = today.AddDate(0, 0, 1)
		previousDay = today
	} else {
		currentDay = today
		previousDay = today.AddDate(0, 0, -1)
	}

	current, err := OpenBolt(BucketDir(cfg.Root, currentDay))
	if err != nil {
		return nil, fmt.Errorf("store: open current generation: %w", err)
	}
	previous, err := OpenBolt(BucketDir(cfg.Root, previousDay))
	if err != nil {
		_ = current.Close()
		return nil, fmt.Errorf("store: open previous generation: %w", err)
	}

	return &Generations{
		cfg:         cfg,
		current:     current,
		previous:    previous,
		currentDay:  currentDay,
		previousDay: previousDay,
	}, nil
}

// Get reads from the current generation only. Records sitting in previous
// awaiting sync are invisible here; that is observed behavior carried over
// deliberately (see DESIGN.md).
func (g *Generations) Get(key string) ([]byte, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current.Get(key)
}

// PutPair writes both cache keys to the current generation atomically.
func (g *Generations) PutPair(idKey, emailKey string, value []byte) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current.PutPair(idKey, emailKey, value)
}

// ScanPrevious iterates the previous generation. Used only by the
// synchronization engine, the drift detector, and the synced-records
// listing; the rotation guard keeps the handle stable for jobs, and the
// read lock held for the scan's duration covers ad hoc listings.
func (g *Generations) ScanPrevious(fn func(key string, value []byte) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.previous.Scan(fn)
}

// RemovePrevious marks entries as drained by deleting them from previous.
func (g *Generations) RemovePrevious(keys ...string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.previous.Remove(keys...)
}

// Dirs returns the current and previous bucket directories.
func (g *Generations) Dirs() (current, previous string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current.Dir(), g.previous.Dir()
}

// Rotate advances the pair at a day boundary: a fresh current bound to
// tomorrow's bucket, previous rebound to today's (the bucket that was
// current during the just-ending day, its handle is reused rather than
// reopened since bbolt holds an exclusive file lock), the old previous
// closed, and yesterday's bucket deleted best-effort.
//
// Open failures abort the rotation and leave the old pair serving; the next
// trigger retries. Callers must hold the job guard so a rotation never swaps
// handles out from under a running drain.
func (g *Generations) Rotate(now time.Time) (RotationResult, error) {
	local := now.In(g.cfg.Location)
	today := startOfDay(local)
	tomorrow := today.AddDate(0, 0, 1)
	yesterday := today.AddDate(0, 0, -1)

	var res RotationResult

	g.mu.RLock()
	alreadyRotated := g.currentDay.Equal(tomorrow)
	g.mu.RUnlock()
	if alreadyRotated {
		// Double-fired trigger; the pair is already where this rotation
		// would put it.
		cur, prev := g.Dirs()
		return RotationResult{CurrentDir: cur, PreviousDir: prev}, nil
	}

	newCurrent, err := OpenBolt(BucketDir(g.cfg.Root, tomorrow))
	if err != nil {
		return res, fmt.Errorf("store: rotate: open current generation: %w", err)
	}

	g.mu.Lock()
	var newPrevious Store
	if g.currentDay.Equal(today) {
		newPrevious = g.current
	} else {
		// Process missed one or more triggers (clock jump, long suspend);
		// today's bucket was never current here, open it fresh.
		np, err := OpenBolt(BucketDir(g.cfg.Root, today))
		if err != nil {
			g.mu.Unlock()
			_ = newCurrent.Close()
			return res, fmt.Errorf("store: rotate: open previous generation: %w", err)
		}
		newPrevious = np
		_ = g.current.Close()
	}

	oldPrevious := g.previous
	g.current = newCurrent
	g.previous = newPrevious
	g.currentDay = tomorrow
	g.previousDay = today
	g.mu.Unlock()

	if oldPrevious != nil {
		_ = oldPrevious.Close()
	}

	deleted := BucketDir(g.cfg.Root, yesterday)
	res = RotationResult{
		CurrentDir:  newCurrent.Dir(),
		PreviousDir: newPrevious.Dir(),
		DeletedDir:  deleted,
	}
	if err := os.RemoveAll(deleted); err != nil {
		res.DeleteErr = err
	}
	return res, nil
}

// Close releases both generation handles.
func (g *Generations) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	if g.current != nil {
		if err := g.current.Close(); err != nil {
			first = err
		}
		g.current = nil
	}
	if g.previous != nil {
		if err := g.previous.Close(); err != nil && first == nil {
			first = err
		}
		g.previous = nil
	}
	return first
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func afterTrigger(local time.Time, cfg Config) bool {
	return local.Hour() > cfg.RotateHour ||
		(local.Hour() == cfg.RotateHour && local.Minute() >= cfg.RotateMinute)
}
