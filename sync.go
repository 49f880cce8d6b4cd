package identicache

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/unkn0wn-root/identicache/identity"
	"github.com/unkn0wn-root/identicache/internal/keys"
)

// SyncedRecord is one row of the synced-records listing: the previous
// generation's id-keyed entries with their sync stamps.
type SyncedRecord struct {
	UserID       string     `json:"userId"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

// SyncReport summarizes one drain pass.
type SyncReport struct {
	// Lines are the audit lines appended to the sync log, one per synced
	// record.
	Lines   []string
	Synced  int
	Failed  int
	Skipped int
	Elapsed time.Duration
}

// SyncedRecords lists the previous generation's pending entries.
func (e *Engine) SyncedRecords() ([]SyncedRecord, error) {
	out := []SyncedRecord{}
	err := e.gens.ScanPrevious(func(key string, value []byte) error {
		if !keys.IsUser(key) {
			return nil
		}
		rec, err := e.codec.Decode(value)
		if err != nil {
			e.log.Warn("synced-records: undecodable entry", Fields{"key": key, "err": err})
			return nil
		}
		out = append(out, SyncedRecord{UserID: rec.UserID, LastSyncedAt: rec.LastSyncedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FullSync drains the previous generation into the backends in batches.
// batchSize <= 0 uses the configured default. Returns the report and, when
// one or more records failed their upsert, a SyncPartialError; failed
// records remain pending for the next pass. Only scan and audit-log failures
// are fatal to the drain itself.
func (e *Engine) FullSync(ctx context.Context, batchSize int) (*SyncReport, error) {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()
	return e.fullSyncLocked(ctx, batchSize)
}

type pendingEntry struct {
	key string
	rec identity.Record
}

// fullSyncLocked is the drain body. Callers must hold jobMu: the previous
// handle must stay stable for the whole pass.
func (e *Engine) fullSyncLocked(ctx context.Context, batchSize int) (*SyncReport, error) {
	if batchSize <= 0 {
		batchSize = e.batchSize
	}
	start := time.Now().In(e.loc)
	e.log.Info("sync started", Fields{"at": start.Format(time.RFC3339), "batchSize": batchSize})

	// Snapshot the pending entries up front; removals below mutate the
	// generation while we iterate.
	var entries []pendingEntry
	report := &SyncReport{}
	err := e.gens.ScanPrevious(func(key string, value []byte) error {
		if !keys.IsUser(key) {
			return nil
		}
		rec, err := e.codec.Decode(value)
		if err != nil {
			e.log.Warn("sync: undecodable entry left pending", Fields{"key": key, "err": err})
			report.Skipped++
			return nil
		}
		entries = append(entries, pendingEntry{key: key, rec: rec})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("identicache: sync: scan previous generation: %w", err)
	}

	for i := 0; i < len(entries); i += batchSize {
		end := i + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		for _, en := range entries[i:end] {
			e.syncOne(ctx, en, report)
		}
	}

	elapsed := time.Since(start)
	report.Elapsed = elapsed
	summary := fmt.Sprintf("[SYNC COMPLETE] %s (%dms elapsed, %d synced, %d failed, %d skipped)",
		time.Now().In(e.loc).Format(time.RFC3339), elapsed.Milliseconds(),
		report.Synced, report.Failed, report.Skipped)
	e.log.Info("sync finished", Fields{
		"synced": report.Synced, "failed": report.Failed,
		"skipped": report.Skipped, "elapsedMs": elapsed.Milliseconds(),
	})

	if err := e.appendSyncLog(start, report.Lines, summary); err != nil {
		return report, fmt.Errorf("identicache: sync: append audit log: %w", err)
	}
	if report.Failed > 0 {
		return report, &SyncPartialError{Synced: report.Synced, Failed: report.Failed}
	}
	return report, nil
}

// syncOne commits a single record: route, stamp, upsert, remove both keys.
// Failures are logged and leave the record pending; one bad record never
// halts the drain.
func (e *Engine) syncOne(ctx context.Context, en pendingEntry, report *SyncReport) {
	app := e.appFor(en.rec)
	b, ok := e.backends.For(app)
	if !ok {
		e.log.Warn("sync: no backend for record, left pending", Fields{
			"userId": en.rec.UserID, "app": app,
		})
		report.Skipped++
		return
	}

	rec := en.rec
	now := time.Now().In(e.loc)
	rec.LastSyncedAt = &now

	uctx, cancel := e.backendCtx(ctx)
	err := b.Upsert(uctx, rec)
	cancel()
	if err != nil {
		e.log.Warn("sync: upsert failed, record remains pending", Fields{
			"userId": rec.UserID, "app": app, "backend": b.Kind(), "err": err,
		})
		report.Failed++
		return
	}

	if err := e.gens.RemovePrevious(en.key, keys.Email(rec.Email)); err != nil {
		// The backend write committed; the entry will be re-upserted (an
		// idempotent no-op) on the next pass.
		e.log.Warn("sync: drained entry removal failed", Fields{"userId": rec.UserID, "err": err})
		report.Failed++
		return
	}

	report.Lines = append(report.Lines, "[SYNCED] "+rec.UserID)
	report.Synced++
}

// appFor resolves a record's owning application: the tag when present, else
// the legacy id-prefix rule, else the relational default.
func (e *Engine) appFor(rec identity.Record) identity.App {
	if rec.App != "" {
		return rec.App
	}
	if app, ok := identity.AppFromUserID(rec.UserID); ok {
		return app
	}
	return identity.AppEcommerce
}

// appendSyncLog writes one block to the durable audit log: the start stamp,
// a line per synced record, and the closing summary.
func (e *Engine) appendSyncLog(start time.Time, lines []string, summary string) error {
	f, err := os.OpenFile(e.syncLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var sb strings.Builder
	sb.WriteString(start.Format(time.RFC3339))
	sb.WriteByte('\n')
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	sb.WriteString(summary)
	sb.WriteString("\n\n")

	if _, err := f.WriteString(sb.String()); err != nil {
		return err
	}
	return f.Sync()
}
