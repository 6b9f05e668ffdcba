// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/filter"
	"storj.io/benji/pkg/metadata/retention"
)

// EnforceRequest describes one retention-enforcement run.
type EnforceRequest struct {
	// Filter selects the candidate versions; empty selects everything.
	Filter string
	// Rules is the retention rule spec, e.g. "latest3,hours24,days30".
	Rules string
	// GroupLabel, if set, expands every dismissal to all versions sharing
	// the dismissed version's value for this label, so that versions
	// backed up together (e.g. the disks of one VM) expire together.
	GroupLabel string
	// DryRun reports what would be removed without removing anything.
	DryRun bool
}

type retainedVersion struct {
	metadata.Version
}

func (r retainedVersion) RetentionKey() string     { return r.UID }
func (r retainedVersion) RetentionTime() time.Time { return r.CreatedAt }

// EnforceRetention applies a retention policy per volume: protected and
// still-incomplete versions are never touched, the newest versions named
// by "latest" are reserved, the rest fall into time buckets of which
// only the oldest member survives. Dismissed versions are removed with
// force, tolerating versions that are locked by another operation or
// already gone. It returns the UIDs actually removed (or, in a dry run,
// the UIDs that would be).
func (e *Engine) EnforceRetention(ctx context.Context, req EnforceRequest) (removed []string, err error) {
	defer mon.Task()(&ctx)(&err)

	policy, err := retention.ParsePolicy(req.Rules)
	if err != nil {
		return nil, benjierrs.Usage.Wrap(err)
	}
	var expr filter.Expr
	if req.Filter != "" {
		expr, err = filter.Parse(req.Filter)
		if err != nil {
			return nil, benjierrs.Usage.Wrap(err)
		}
	}

	versions, err := e.meta.ListVersions(ctx, expr, "")
	if err != nil {
		return nil, err
	}

	byVolume := make(map[string][]metadata.Version)
	for _, v := range versions {
		byVolume[v.Volume] = append(byVolume[v.Volume], v)
	}

	now := time.Now()
	dismissSet := make(map[string]metadata.Version)
	for _, volumeVersions := range byVolume {
		var candidates []retainedVersion
		for _, v := range volumeVersions {
			if v.Protected || v.Status == metadata.StatusIncomplete {
				continue
			}
			candidates = append(candidates, retainedVersion{v})
		}

		dismissed := retention.Filter(policy, candidates, now)
		for _, d := range dismissed {
			dismissSet[d.UID] = d.Version
		}

		if req.GroupLabel == "" {
			continue
		}
		for _, d := range dismissed {
			value, ok := d.Labels[req.GroupLabel]
			if !ok {
				continue
			}
			for _, c := range candidates {
				if v, ok := c.Labels[req.GroupLabel]; ok && v == value {
					dismissSet[c.UID] = c.Version
				}
			}
		}
	}

	for uid := range dismissSet {
		removed = append(removed, uid)
	}
	if req.DryRun {
		return removed, nil
	}

	removed = removed[:0]
	for uid := range dismissSet {
		rmErr := e.RemoveVersion(ctx, uid, true, false)
		switch {
		case rmErr == nil:
			removed = append(removed, uid)
		case benjierrs.AlreadyLocked.Has(rmErr) || benjierrs.IsNotFound(rmErr):
			e.log.Warn("skipping dismissed version", zap.String("version", uid), zap.Error(rmErr))
		default:
			return removed, rmErr
		}
	}
	e.log.Info("retention enforcement complete",
		zap.String("rules", req.Rules), zap.Int("removed", len(removed)))
	return removed, nil
}
