// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lifecycle defines the explicit callback hooks the Engine
// invokes around a backup's source-consistency window. A typed,
// two-method interface is deliberately preferred over a generic pub/sub
// dispatcher: the only events a consistent backup actually needs are
// "before the snapshot is taken" and "after the snapshot is taken or
// snapshotting failed".
package lifecycle

import "context"

// Lifecycle receives the two event points a filesystem- or
// application-consistent backup needs around the moment a point-in-time
// snapshot of volume is taken.
type Lifecycle interface {
	// PreSnapshot is called immediately before the snapshot backing this
	// backup is taken, so a caller can quiesce writes (e.g. issue an
	// application-level FREEZE or flush). Returning an error aborts the
	// backup before any snapshot is taken.
	PreSnapshot(ctx context.Context, volume string) error

	// PostSnapshot is called when the backup returns, whether or not it
	// succeeded, provided PreSnapshot returned nil: snapshotErr is the
	// backup's terminal error, or nil. A caller uses this to thaw/unquiesce
	// regardless of outcome. An error returned here is logged but does not
	// override a nil snapshotErr into a failure, and does not mask a
	// non-nil snapshotErr — the backup's ultimate success is judged by
	// snapshotErr alone.
	PostSnapshot(ctx context.Context, volume string, snapshotErr error) error
}

// NoOp is a Lifecycle that does nothing, for callers with no
// consistency requirements to enforce around the snapshot boundary.
type NoOp struct{}

func (NoOp) PreSnapshot(ctx context.Context, volume string) error { return nil }

func (NoOp) PostSnapshot(ctx context.Context, volume string, snapshotErr error) error { return nil }
