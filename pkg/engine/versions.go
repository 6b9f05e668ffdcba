// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"

	"go.uber.org/zap"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/filter"
)

// RemoveVersion deletes a version, its blocks and labels, and its
// exported metadata object, recording tombstones for every block UID the
// removal left unreferenced. overrideLock evicts a lock held by another
// process; a lock held by this process is a usage error either way,
// since it means this process is itself still operating on the version.
func (e *Engine) RemoveVersion(ctx context.Context, uid string, force, overrideLock bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	unlock, err := e.lockVersion(ctx, uid, "remove", overrideLock)
	if err != nil {
		return err
	}
	defer unlock()

	v, err := e.meta.GetVersion(ctx, uid)
	if err != nil {
		if benjierrs.IsNotFound(err) && force {
			return nil
		}
		return err
	}
	if err := e.meta.RemoveVersion(ctx, uid, force); err != nil {
		return err
	}

	if store, serr := e.storage(v.Storage); serr == nil {
		if rerr := store.RemoveVersion(ctx, uid); rerr != nil {
			e.log.Warn("removing exported version metadata failed",
				zap.String("version", uid), zap.Error(rerr))
		}
	}
	e.log.Info("version removed", zap.String("version", uid), zap.String("volume", v.Volume))
	return nil
}

// Protect sets or clears a version's protected flag. Protected versions
// survive retention enforcement and refuse non-forced removal.
func (e *Engine) Protect(ctx context.Context, uid string, protected bool) (err error) {
	defer mon.Task()(&ctx)(&err)
	return e.meta.SetProtection(ctx, uid, protected)
}

// ListVersions returns every version matching filterExpr (empty matches
// everything), optionally restricted to one volume.
func (e *Engine) ListVersions(ctx context.Context, filterExpr, volume string) (_ []metadata.Version, err error) {
	defer mon.Task()(&ctx)(&err)

	var expr filter.Expr
	if filterExpr != "" {
		expr, err = filter.Parse(filterExpr)
		if err != nil {
			return nil, benjierrs.Usage.Wrap(err)
		}
	}
	return e.meta.ListVersions(ctx, expr, volume)
}

// ExportMetadata serializes the named versions into one export document.
func (e *Engine) ExportMetadata(ctx context.Context, uids []string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	var versions []*metadata.Version
	var blocks [][]metadata.Block
	for _, uid := range uids {
		v, gerr := e.meta.GetVersion(ctx, uid)
		if gerr != nil {
			return "", gerr
		}
		b, gerr := e.meta.GetBlocks(ctx, uid)
		if gerr != nil {
			return "", gerr
		}
		versions = append(versions, v)
		blocks = append(blocks, b)
	}
	return metadata.Export(versions, blocks)
}

// ImportMetadata recreates the versions of an export document in the
// metadata store, preserving their UIDs and block references.
func (e *Engine) ImportMetadata(ctx context.Context, text string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)
	return metadata.Import(ctx, e.meta, text)
}
