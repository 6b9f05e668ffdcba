// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// cleanupLockName serializes garbage collection with any other
// background metadata work, across every process sharing the database.
const cleanupLockName = "cleanup"

// Cleanup deletes the objects behind deleted-block tombstones older than
// grace. A tombstone whose UID has meanwhile gained a live referrer (a
// concurrent backup deduplicated onto it) is a false positive and is
// left alone by the candidate scan; an object already gone from storage
// is treated as deleted (RemoveBlock tolerates not-found) and its
// tombstone consumed, never re-enqueued. Such vanished UIDs are not
// logged or reported separately; they count toward the "deleted" total.
func (e *Engine) Cleanup(ctx context.Context, grace time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)

	unlock, err := e.lock(ctx, cleanupLockName, "cleanup", false)
	if err != nil {
		return err
	}
	defer unlock()

	candidates, err := e.meta.GetDeleteCandidates(ctx, grace)
	if err != nil {
		return err
	}

	for storageName, uids := range candidates {
		store, serr := e.storage(storageName)
		if serr != nil {
			// The storage was removed from this node's configuration; its
			// tombstones stay until a configured node collects them.
			e.log.Warn("skipping delete candidates for unconfigured storage",
				zap.String("storage", storageName), zap.Int("count", len(uids)))
			continue
		}
		deleted := 0
		for _, uid := range uids {
			if rerr := store.RemoveBlock(ctx, uid); rerr != nil {
				return rerr
			}
			deleted++
		}
		if cerr := e.meta.ConsumeTombstones(ctx, storageName, uids); cerr != nil {
			return cerr
		}
		e.log.Info("cleanup pass complete", zap.String("storage", storageName), zap.Int("deleted", deleted))
	}
	return nil
}
