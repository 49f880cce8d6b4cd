package identicache

import (
	"context"

	"github.com/unkn0wn-root/identicache/internal/keys"
)

// DriftCheck samples the previous generation for staleness: each pending
// entry is compared to the live backend row by full structural equality. The
// first mismatch (including "backend has no such record yet", the normal
// pending case) triggers exactly one full sync and stops the scan.
//
// This is a trip-wire, not a reconciliation engine: detected drift is
// resolved by the same drain logic as scheduled sync, never by divergent
// repair.
func (e *Engine) DriftCheck(ctx context.Context) error {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()

	var pending []pendingEntry
	err := e.gens.ScanPrevious(func(key string, value []byte) error {
		if !keys.IsUser(key) {
			return nil
		}
		rec, err := e.codec.Decode(value)
		if err != nil {
			e.log.Warn("drift: undecodable entry", Fields{"key": key, "err": err})
			return nil
		}
		pending = append(pending, pendingEntry{key: key, rec: rec})
		return nil
	})
	if err != nil {
		return err
	}

	for _, en := range pending {
		app := e.appFor(en.rec)
		b, ok := e.backends.For(app)
		if !ok {
			continue
		}

		fctx, cancel := e.backendCtx(ctx)
		live, found, err := b.FindByID(fctx, en.rec.UserID)
		cancel()
		if err != nil {
			// An unreachable backend is not drift; the sync schedule owns
			// retries.
			e.log.Warn("drift: backend check failed", Fields{
				"userId": en.rec.UserID, "app": app, "err": err,
			})
			continue
		}

		if !found || !live.Equal(en.rec) {
			e.log.Info("drift detected, resync required", Fields{"userId": en.rec.UserID, "app": app})
			_, err := e.fullSyncLocked(ctx, e.batchSize)
			return err
		}
	}
	return nil
}
