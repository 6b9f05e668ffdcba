// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadata

import (
	"context"
	"time"

	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/metadata/filter"
)

// Store is the metadata index contract: atomic multi-row updates,
// dedup lookup, cascade delete, the filter language, the locking
// sublayer, and the delete-candidate scan. The Postgres and SQLite
// adapters both implement it identically.
type Store interface {
	// CreateVersion inserts v as StatusIncomplete and assigns v.ID and
	// v.UID. blocks are inserted as v's initial block sequence (cloned
	// from a base version, or all-sparse) in the same transaction.
	CreateVersion(ctx context.Context, v *Version, blocks []Block) error

	// ImportVersion inserts v exactly as given — preserving v.UID, status,
	// stats, labels, and every block's explicit UID/checksum — assigning
	// only a fresh numeric id. It fails if a version with v.UID already
	// exists. Used by the metadata import path, where the UID must survive
	// a round trip through an export document.
	ImportVersion(ctx context.Context, v *Version, blocks []Block) error

	// GetVersion returns the version identified by uid.
	GetVersion(ctx context.Context, uid string) (*Version, error)

	// GetBlocks returns every block of the version identified by uid, in
	// index order.
	GetBlocks(ctx context.Context, uid string) ([]Block, error)

	// SetBlock upserts a single block row for the version identified by
	// versionID.
	SetBlock(ctx context.Context, versionID int64, block Block) error

	// SetBlocks upserts many block rows in one transaction, used by the
	// Engine's commit-every-N-blocks batching during large backups.
	SetBlocks(ctx context.Context, versionID int64, blocks []Block) error

	// FindByChecksum looks up an existing, valid block in storageName
	// whose checksum and size match, for dedup. ok is false on a miss.
	FindByChecksum(ctx context.Context, checksum string, size int64, storageName string) (uid blockuid.UID, ok bool, err error)

	// SetStatus transitions a version's status, optionally recording
	// final statistics (stats may be nil).
	SetStatus(ctx context.Context, uid string, status Status, stats *Stats) error

	// InvalidateBlock marks every block row referencing blockUID as
	// invalid and transitions every version owning one of those rows to
	// StatusInvalid, all in one transaction — the cascade the
	// scrub/deep-scrub and envelope-checksum-mismatch paths require.
	// affectedVersions reports every version UID transitioned.
	InvalidateBlock(ctx context.Context, blockUID blockuid.UID) (affectedVersions []string, err error)

	// PromoteIfFullyVerified transitions an invalid version back to
	// valid, but only if every one of its non-sparse blocks is currently
	// marked valid (the "clean 100% deep-scrub" promotion rule; a caller
	// performing a sampled or shallow scrub must not call this).
	PromoteIfFullyVerified(ctx context.Context, uid string) (promoted bool, err error)

	// RemoveVersion deletes the version identified by uid and cascades to
	// its blocks and labels, recording a tombstone under the version's
	// storage for every distinct non-sparse block-UID the version referenced that the
	// delete left with zero remaining referrers. If force is false,
	// removal of a protected version fails; if force is true, protection
	// and an existing lock belonging to a different holder are both
	// tolerated: the version is removed regardless, as retention
	// enforcement requires.
	RemoveVersion(ctx context.Context, uid string, force bool) error

	// ListVersions returns every version matching expr, optionally
	// restricted to volume (empty matches all volumes).
	ListVersions(ctx context.Context, expr filter.Expr, volume string) ([]Version, error)

	// SetProtection sets or clears a version's protected flag. A
	// protected version is never removed by retention enforcement and
	// refuses non-forced removal.
	SetProtection(ctx context.Context, uid string, protected bool) error

	// SetLabel upserts a label on the version identified by uid.
	SetLabel(ctx context.Context, uid string, name, value string) error

	// RemoveLabel deletes a label from the version identified by uid, if
	// present.
	RemoveLabel(ctx context.Context, uid string, name string) error

	// Lock acquires a named lock for holder/processID with reason. If the
	// lock is already held by a different processID, Lock fails with an
	// AlreadyLocked error unless override is true, in which case the
	// foreign holder is evicted. Locking by the same processID that
	// already holds the lock is idempotent (re-entrant); overriding a
	// lock this process itself holds is a usage error, since it would
	// trample the caller's own running operation.
	Lock(ctx context.Context, name, host, processID, reason string, override bool) error

	// Unlock releases a named lock iff held by processID.
	Unlock(ctx context.Context, name, processID string) error

	// GetDeleteCandidates returns every distinct block-UID, grouped by
	// storage, whose tombstone is older than grace and which no live
	// block row currently references. A UID with a live referrer (a
	// concurrent backup deduplicated onto it after the tombstone was
	// written) is discarded as a false positive and not returned.
	GetDeleteCandidates(ctx context.Context, grace time.Duration) (map[string][]blockuid.UID, error)

	// ConsumeTombstones deletes the tombstone rows for the given
	// storage/UID pairs, called after their objects have been deleted.
	ConsumeTombstones(ctx context.Context, storageName string, uids []blockuid.UID) error

	// EnsureStorage returns the stable id for storageName, creating the
	// row if it doesn't exist yet.
	EnsureStorage(ctx context.Context, storageName string) (int64, error)

	// Close releases the store's underlying connections.
	Close() error
}
