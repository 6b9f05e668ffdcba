// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockhash"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/ioadapter"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/objectstore"
)

// BlockUIDHistory remembers which block UIDs have already been verified
// on which storage during a scrubbing session, so that a batch of scrubs
// over many versions sharing deduplicated blocks verifies each object
// only once. Safe for concurrent use.
type BlockUIDHistory struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewBlockUIDHistory returns an empty history.
func NewBlockUIDHistory() *BlockUIDHistory {
	return &BlockUIDHistory{seen: make(map[string]map[string]struct{})}
}

// Add records uid as verified on storage.
func (h *BlockUIDHistory) Add(storage string, uid blockuid.UID) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.seen[storage]
	if !ok {
		m = make(map[string]struct{})
		h.seen[storage] = m
	}
	m[uid.String()] = struct{}{}
}

// Contains reports whether uid was already verified on storage.
func (h *BlockUIDHistory) Contains(storage string, uid blockuid.UID) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.seen[storage][uid.String()]
	return ok
}

// ScrubRequest describes one scrub or deep-scrub operation.
type ScrubRequest struct {
	// Version is the UID of the version to scrub.
	Version string
	// Source, for deep-scrub only, is an I/O adapter URL of the original
	// source; each verified block is additionally compared against it. A
	// source mismatch is reported but does not mark the backup invalid —
	// the source is the suspect there, not the backup.
	Source string
	// Percentile samples that percentage of the version's blocks. 0 and
	// 100 both scrub everything. The first block is always included.
	Percentile int
	// History, if non-nil, skips blocks already verified on this storage
	// during the same session and records the ones verified now.
	History *BlockUIDHistory
}

// Scrub verifies existence and envelope integrity of every (sampled)
// non-sparse block of a version without reading payloads: the envelope's
// HMAC, its declared size against the recorded block size, and its
// checksum against the recorded block checksum. A failure marks the
// block and all referencing versions invalid; the scrub continues to
// completion and then reports. A clean shallow scrub never promotes an
// invalid version back to valid.
func (e *Engine) Scrub(ctx context.Context, req ScrubRequest) (err error) {
	defer mon.Task()(&ctx)(&err)
	if req.Source != "" {
		return benjierrs.Usage.New("a source comparison requires a deep scrub")
	}
	return e.scrub(ctx, req, false)
}

// DeepScrub additionally reads every (sampled) block's payload,
// decapsulates it, rehashes it, and compares against the recorded
// checksum. A clean deep-scrub over 100% of blocks restores a previously
// invalid version to valid.
func (e *Engine) DeepScrub(ctx context.Context, req ScrubRequest) (err error) {
	defer mon.Task()(&ctx)(&err)
	return e.scrub(ctx, req, true)
}

func (e *Engine) scrub(ctx context.Context, req ScrubRequest, deep bool) error {
	reason := "scrub"
	if deep {
		reason = "deep-scrub"
	}
	unlock, err := e.lockVersion(ctx, req.Version, reason, false)
	if err != nil {
		return err
	}
	defer unlock()

	v, err := e.meta.GetVersion(ctx, req.Version)
	if err != nil {
		return err
	}
	blocks, err := e.meta.GetBlocks(ctx, req.Version)
	if err != nil {
		return err
	}
	store, err := e.storage(v.Storage)
	if err != nil {
		return err
	}

	var source ioadapter.Target
	if req.Source != "" {
		source, err = ioadapter.Open(ctx, req.Source, ioadapter.ModeRead)
		if err != nil {
			return err
		}
		defer func() { _ = source.Close() }()
	}

	readJobs := make(chan metadata.Block, e.cfg.SimultaneousStorageReads)
	readDone := make(chan storeReadResult, e.cfg.SimultaneousStorageReads)
	readers := startWorkers(e.cfg.SimultaneousStorageReads, readJobs, readDone, func(b metadata.Block) storeReadResult {
		ref := objectstore.BlockRef{UID: b.UID, Size: b.Size, Checksum: b.Checksum}
		data, env, rerr := store.ReadBlock(ctx, ref, !deep)
		return storeReadResult{block: b, data: data, env: env, err: rerr}
	})

	var reads tally
	var opErr error
	var integrityErrs []string
	var sourceMismatches []int
	sampled := 0

	handle := func(r storeReadResult) {
		if opErr != nil {
			return
		}
		if r.err != nil {
			if benjierrs.Scrubbing.Has(r.err) || benjierrs.IsNotFound(r.err) {
				e.invalidate(ctx, r.block, &integrityErrs, r.err)
			} else {
				opErr = r.err
			}
			return
		}
		dataLen := int64(-1)
		if deep {
			dataLen = int64(len(r.data))
		}
		if cerr := store.CheckMetadata(objectstore.BlockRef{UID: r.block.UID, Size: r.block.Size, Checksum: r.block.Checksum}, r.env, dataLen); cerr != nil {
			e.invalidate(ctx, r.block, &integrityErrs, cerr)
			return
		}
		if deep {
			checksum, herr := blockhash.Digest(e.cfg.Hash, r.data)
			if herr != nil {
				opErr = herr
				return
			}
			if checksum != r.block.Checksum {
				e.invalidate(ctx, r.block, &integrityErrs,
					benjierrs.Scrubbing.New("block %d (uid %s) hash mismatch", r.block.Idx, r.block.UID))
				return
			}
			if !r.block.Valid {
				// The payload re-verified clean; lift the block-level
				// invalid mark so a full pass can promote the version.
				row := r.block
				row.Valid = true
				if serr := e.meta.SetBlock(ctx, v.ID, row); serr != nil {
					opErr = serr
					return
				}
			}
			if source != nil {
				buf := make([]byte, r.block.Size)
				if _, serr := source.ReadAt(ctx, buf, int64(r.block.Idx)*v.BlockSize); serr != nil {
					opErr = serr
					return
				}
				if !bytes.Equal(buf, r.data) {
					// The backup verified clean; the source disagrees. The
					// source is suspect, so nothing is marked invalid.
					sourceMismatches = append(sourceMismatches, r.block.Idx)
					e.log.Warn("source differs from verified backup block",
						zap.String("version", v.UID), zap.Int("block", r.block.Idx))
				}
			}
		}
		req.History.Add(v.Storage, r.block.UID)
	}

	for _, b := range blocks {
		if opErr != nil {
			break
		}
		if b.UID.IsSparse() {
			continue
		}
		if !sampledBlock(b.Idx, req.Percentile) {
			continue
		}
		if req.History.Contains(v.Storage, b.UID) {
			continue
		}
		sampled++
		submitted := false
		for !submitted {
			select {
			case readJobs <- b:
				reads.submitted++
				submitted = true
			case r := <-readDone:
				reads.completed++
				handle(r)
			}
		}
	}
	close(readJobs)
	for reads.completed < reads.submitted {
		r := <-readDone
		reads.completed++
		handle(r)
	}
	_ = readers.Wait()

	if opErr != nil {
		return opErr
	}
	if !reads.balanced() {
		return benjierrs.Internal.New("submit/complete imbalance at end of scrub: reads %d/%d", reads.submitted, reads.completed)
	}

	if len(integrityErrs) > 0 {
		return benjierrs.Scrubbing.New("scrub of %s found %d bad blocks: %s",
			v.UID, len(integrityErrs), strings.Join(integrityErrs, "; "))
	}
	if len(sourceMismatches) > 0 {
		return benjierrs.Scrubbing.New("deep-scrub of %s is clean but the source differs at blocks %v", v.UID, sourceMismatches)
	}

	// Only a complete, payload-verified pass is evidence enough to
	// promote an invalid version back to valid.
	if deep && fullCoverage(req.Percentile) && v.Status == metadata.StatusInvalid {
		promoted, perr := e.meta.PromoteIfFullyVerified(ctx, v.UID)
		if perr != nil {
			return perr
		}
		if promoted {
			e.log.Info("version restored to valid after clean deep-scrub", zap.String("version", v.UID))
		}
	}
	return nil
}

func fullCoverage(percentile int) bool {
	return percentile <= 0 || percentile >= 100
}

// sampledBlock decides deterministically whether idx is part of a
// percentile-sampled scrub, spreading picks evenly over the index space.
// The first block is always included.
func sampledBlock(idx, percentile int) bool {
	if idx == 0 || fullCoverage(percentile) {
		return true
	}
	return (idx*percentile)%100 < percentile
}
