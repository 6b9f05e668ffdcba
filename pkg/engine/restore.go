// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockhash"
	"storj.io/benji/pkg/ioadapter"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/objectstore"
)

// RestoreRequest describes one restore operation.
type RestoreRequest struct {
	// Version is the UID of the version to restore.
	Version string
	// Target is the I/O adapter URL to write the image to.
	Target string
	// Sparse skips writing sparse blocks, leaving holes, instead of
	// writing zeros. The target must have been pre-discarded or be a
	// fresh file for the result to be bit-identical.
	Sparse bool
	// Force allows overwriting an existing target.
	Force bool
}

type storeReadResult struct {
	block metadata.Block
	data  []byte
	env   objectstore.Envelope
	err   error
}

type targetWriteJob struct {
	off  int64
	data []byte
}

type targetWriteResult struct {
	err error
}

// Restore writes the version's image to the target. Every block read
// from storage is verified against its envelope and rehashed before it
// is written; an integrity failure marks the block and its referencing
// versions invalid, and the restore proceeds to completion before
// reporting the failure.
func (e *Engine) Restore(ctx context.Context, req RestoreRequest) (err error) {
	defer mon.Task()(&ctx)(&err)

	unlock, err := e.lockVersion(ctx, req.Version, "restore", false)
	if err != nil {
		return err
	}
	defer unlock()

	v, err := e.meta.GetVersion(ctx, req.Version)
	if err != nil {
		return err
	}
	if v.Status == metadata.StatusInvalid {
		e.log.Warn("restoring an invalid version; the result may be corrupt", zap.String("version", v.UID))
	}
	blocks, err := e.meta.GetBlocks(ctx, req.Version)
	if err != nil {
		return err
	}
	store, err := e.storage(v.Storage)
	if err != nil {
		return err
	}

	targetURL, err := writeTargetURL(req.Target, v.Size, req.Force, req.Sparse)
	if err != nil {
		return err
	}
	target, err := ioadapter.Open(ctx, targetURL, ioadapter.ModeWrite)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := target.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	readJobs := make(chan metadata.Block, e.cfg.SimultaneousStorageReads)
	readDone := make(chan storeReadResult, e.cfg.SimultaneousStorageReads)
	writeJobs := make(chan targetWriteJob, e.cfg.SimultaneousWrites)
	writeDone := make(chan targetWriteResult, e.cfg.SimultaneousWrites)

	readers := startWorkers(e.cfg.SimultaneousStorageReads, readJobs, readDone, func(b metadata.Block) storeReadResult {
		ref := objectstore.BlockRef{UID: b.UID, Size: b.Size, Checksum: b.Checksum}
		data, env, rerr := store.ReadBlock(ctx, ref, false)
		return storeReadResult{block: b, data: data, env: env, err: rerr}
	})
	writers := startWorkers(e.cfg.SimultaneousWrites, writeJobs, writeDone, func(j targetWriteJob) targetWriteResult {
		_, werr := target.WriteAt(ctx, j.data, j.off)
		return targetWriteResult{err: werr}
	})

	var reads, writes tally
	var opErr error
	var integrityErrs []string
	var backlogReads []storeReadResult

	submitWrite := func(j targetWriteJob) {
		for {
			select {
			case writeJobs <- j:
				writes.submitted++
				return
			case w := <-writeDone:
				writes.completed++
				if w.err != nil && opErr == nil {
					opErr = w.err
				}
			case r := <-readDone:
				reads.completed++
				backlogReads = append(backlogReads, r)
			}
		}
	}

	handleRead := func(r storeReadResult) {
		if opErr != nil {
			return
		}
		if r.err != nil {
			if benjierrs.Scrubbing.Has(r.err) {
				e.invalidate(ctx, r.block, &integrityErrs, r.err)
				return
			}
			opErr = r.err
			return
		}
		if cerr := store.CheckMetadata(objectstore.BlockRef{UID: r.block.UID, Size: r.block.Size, Checksum: r.block.Checksum}, r.env, int64(len(r.data))); cerr != nil {
			e.invalidate(ctx, r.block, &integrityErrs, cerr)
			return
		}
		checksum, herr := blockhash.Digest(e.cfg.Hash, r.data)
		if herr != nil {
			opErr = herr
			return
		}
		if checksum != r.block.Checksum {
			e.invalidate(ctx, r.block, &integrityErrs,
				benjierrs.Scrubbing.New("block %d (uid %s) hash mismatch after read", r.block.Idx, r.block.UID))
			return
		}
		submitWrite(targetWriteJob{off: int64(r.block.Idx) * v.BlockSize, data: r.data})
	}

	process := func() {
		for len(backlogReads) > 0 {
			r := backlogReads[0]
			backlogReads = backlogReads[1:]
			handleRead(r)
		}
	}

	var zeros []byte
	for _, b := range blocks {
		if opErr != nil {
			break
		}
		if b.UID.IsSparse() {
			if req.Sparse {
				continue
			}
			if zeros == nil {
				zeros = make([]byte, v.BlockSize)
			}
			submitWrite(targetWriteJob{off: int64(b.Idx) * v.BlockSize, data: zeros[:b.Size]})
			process()
			continue
		}
		submitted := false
		for !submitted {
			select {
			case readJobs <- b:
				reads.submitted++
				submitted = true
			case w := <-writeDone:
				writes.completed++
				if w.err != nil && opErr == nil {
					opErr = w.err
				}
			case r := <-readDone:
				reads.completed++
				backlogReads = append(backlogReads, r)
			}
		}
		process()
	}
	close(readJobs)

	for reads.completed < reads.submitted || writes.completed < writes.submitted {
		select {
		case r := <-readDone:
			reads.completed++
			backlogReads = append(backlogReads, r)
		case w := <-writeDone:
			writes.completed++
			if w.err != nil && opErr == nil {
				opErr = w.err
			}
		}
		process()
	}
	close(writeJobs)
	_ = readers.Wait()
	_ = writers.Wait()

	if opErr != nil {
		return opErr
	}
	if !reads.balanced() || !writes.balanced() {
		return benjierrs.Internal.New(
			"submit/complete imbalance at end of restore: reads %d/%d, writes %d/%d",
			reads.submitted, reads.completed, writes.submitted, writes.completed)
	}
	if len(integrityErrs) > 0 {
		return benjierrs.Scrubbing.New("restore of %s completed with %d corrupt blocks: %s",
			v.UID, len(integrityErrs), strings.Join(integrityErrs, "; "))
	}
	e.log.Info("restore complete", zap.String("version", v.UID), zap.String("target", req.Target))
	return nil
}

// invalidate marks a block's UID invalid, cascading to every version
// that references it, and records the failure for the operation's final
// report without stopping the operation.
func (e *Engine) invalidate(ctx context.Context, b metadata.Block, report *[]string, cause error) {
	affected, invErr := e.meta.InvalidateBlock(context.WithoutCancel(ctx), b.UID)
	if invErr != nil {
		e.log.Error("marking block invalid failed", zap.String("uid", b.UID.String()), zap.Error(invErr))
	}
	e.log.Error("block integrity failure",
		zap.Int("block", b.Idx),
		zap.String("uid", b.UID.String()),
		zap.Strings("affected_versions", affected),
		zap.Error(cause))
	*report = append(*report, cause.Error())
}

// writeTargetURL re-encodes rawURL with the write-side options the
// adapter needs: the target size plus the force and sparse flags.
func writeTargetURL(rawURL string, size int64, force, sparse bool) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", benjierrs.Usage.New("invalid target URL %q: %v", rawURL, err)
	}
	q := ref.Query()
	q.Set("size", strconv.FormatInt(size, 10))
	if force {
		q.Set("force", "true")
	}
	if sparse {
		q.Set("sparse", "true")
	}
	ref.RawQuery = q.Encode()
	return ref.String(), nil
}
