// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockhash"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/ioadapter"
	"storj.io/benji/pkg/lifecycle"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/objectstore"
)

// BackupRequest describes one backup operation.
type BackupRequest struct {
	Volume   string
	Snapshot string
	// Source is the I/O adapter URL of the snapshot to read, e.g.
	// "file:/dev/mapper/snap" or "rbd:pool/image@snap".
	Source string
	// Hints is the change list from an external diff tool. nil means no
	// hints are available and every block is read; a non-nil empty slice
	// means "no changes" and nothing is read.
	Hints []Hint
	// Base is the UID of the version to back up differentially against,
	// or empty for a full backup.
	Base string
	// Storage, BlockSize, and Labels apply to the new version. Storage
	// and BlockSize must be left empty/zero when Base is set, or match
	// the base version's values.
	Storage   string
	BlockSize int64
	Labels    map[string]string
	// Hooks receives the pre/post snapshot-window callbacks; nil means no
	// consistency hooks.
	Hooks lifecycle.Lifecycle
}

type srcReadResult struct {
	block metadata.Block
	data  []byte
	err   error
}

type storeWriteJob struct {
	block metadata.Block
	data  []byte
}

type storeWriteResult struct {
	block metadata.Block
	size  int64
	err   error
}

// Backup creates a new version of req.Volume from req.Source. With a
// base version it reuses unchanged blocks; with hints it reads only the
// changed ranges; freshly read blocks are deduplicated by content hash
// against the destination storage before anything is written. On success
// the version is transitioned to valid and its metadata exported to the
// storage's versions/ namespace for database-less restore.
func (e *Engine) Backup(ctx context.Context, req BackupRequest) (_ *metadata.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	start := time.Now()

	hooks := req.Hooks
	if hooks == nil {
		hooks = lifecycle.NoOp{}
	}
	if hookErr := hooks.PreSnapshot(ctx, req.Volume); hookErr != nil {
		return nil, benjierrs.InputData.New("pre-snapshot hook failed: %v", hookErr)
	}
	defer func() {
		if hookErr := hooks.PostSnapshot(context.WithoutCancel(ctx), req.Volume, err); hookErr != nil {
			e.log.Warn("post-snapshot hook failed", zap.String("volume", req.Volume), zap.Error(hookErr))
		}
	}()

	var baseVersion *metadata.Version
	var baseBlocks []metadata.Block
	if req.Base != "" {
		unlockBase, lockErr := e.lockVersion(ctx, req.Base, "differential backup base", false)
		if lockErr != nil {
			return nil, lockErr
		}
		defer unlockBase()

		baseVersion, err = e.meta.GetVersion(ctx, req.Base)
		if err != nil {
			return nil, err
		}
		if baseVersion.Status != metadata.StatusValid {
			return nil, benjierrs.Usage.New("base version %s has status %q, need %q", req.Base, baseVersion.Status, metadata.StatusValid)
		}
		baseBlocks, err = e.meta.GetBlocks(ctx, req.Base)
		if err != nil {
			return nil, err
		}
	}

	storageName, blockSize, err := e.resolveBackupTarget(req, baseVersion)
	if err != nil {
		return nil, err
	}
	store, err := e.storage(storageName)
	if err != nil {
		return nil, err
	}
	zeroDigest, err := blockhash.ZeroDigest(e.cfg.Hash, int(blockSize))
	if err != nil {
		return nil, err
	}

	src, err := ioadapter.Open(ctx, req.Source, ioadapter.ModeRead)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	size, err := src.Size(ctx)
	if err != nil {
		return nil, err
	}

	blocks := planBlocks(size, blockSize, baseBlocks)

	v := &metadata.Version{
		Volume:    req.Volume,
		Snapshot:  req.Snapshot,
		Size:      size,
		BlockSize: blockSize,
		Storage:   storageName,
		CreatedAt: time.Now(),
		Labels:    req.Labels,
	}
	if err := e.meta.CreateVersion(ctx, v, blocks); err != nil {
		return nil, err
	}
	unlock, err := e.lockVersion(ctx, v.UID, "backup", false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	readSet, sparseSet := resolveHints(req.Hints, blockSize, len(blocks))

	if baseVersion != nil && len(req.Hints) > 0 {
		if err := e.sanityCheck(ctx, src, blocks, blockSize, readSet, sparseSet); err != nil {
			if rmErr := e.meta.RemoveVersion(context.WithoutCancel(ctx), v.UID, true); rmErr != nil {
				e.log.Error("rollback of aborted version failed", zap.String("version", v.UID), zap.Error(rmErr))
			}
			return nil, err
		}
	}

	stats, err := e.runBackupLoop(ctx, src, store, v, blocks, readSet, sparseSet, storageName, blockSize, zeroDigest)
	if err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)

	if err := e.meta.SetStatus(ctx, v.UID, metadata.StatusValid, stats); err != nil {
		return nil, err
	}

	final, err := e.meta.GetVersion(ctx, v.UID)
	if err != nil {
		return nil, err
	}
	finalBlocks, err := e.meta.GetBlocks(ctx, v.UID)
	if err != nil {
		return nil, err
	}
	export, err := metadata.ExportOne(final, finalBlocks)
	if err != nil {
		return nil, err
	}
	if err := store.WriteVersion(ctx, v.UID, export, true); err != nil {
		return nil, err
	}

	e.log.Info("backup complete",
		zap.String("version", v.UID),
		zap.String("volume", req.Volume),
		zap.Int64("bytes_read", stats.BytesRead),
		zap.Int64("bytes_written", stats.BytesWritten),
		zap.Int64("bytes_deduplicated", stats.BytesDeduplicated),
		zap.Int64("bytes_sparse", stats.BytesSparse),
		zap.Duration("duration", stats.Duration))
	return final, nil
}

func (e *Engine) resolveBackupTarget(req BackupRequest, base *metadata.Version) (storageName string, blockSize int64, err error) {
	storageName = req.Storage
	blockSize = req.BlockSize
	if base != nil {
		if storageName == "" {
			storageName = base.Storage
		} else if storageName != base.Storage {
			return "", 0, benjierrs.Usage.New("a differential backup must use its base version's storage %q, not %q", base.Storage, storageName)
		}
		if blockSize == 0 {
			blockSize = base.BlockSize
		} else if blockSize != base.BlockSize {
			return "", 0, benjierrs.Usage.New("a differential backup must use its base version's block size %d, not %d", base.BlockSize, blockSize)
		}
	}
	if storageName == "" {
		storageName = e.cfg.DefaultStorage
	}
	if blockSize == 0 {
		blockSize = e.cfg.BlockSize
	}
	if blockSize <= 0 {
		return "", 0, benjierrs.Usage.New("block size must be positive")
	}
	return storageName, blockSize, nil
}

// planBlocks materializes a new version's initial block sequence: cloned
// from the base version where a block of the same expected size exists,
// sparse otherwise. A cloned block whose size no longer matches (the new
// version is a different size) is forced to be reread.
func planBlocks(size, blockSize int64, baseBlocks []metadata.Block) []metadata.Block {
	count := int((size + blockSize - 1) / blockSize)
	blocks := make([]metadata.Block, count)
	for i := range blocks {
		expected := blockSize
		if i == count-1 && size%blockSize != 0 {
			expected = size % blockSize
		}
		b := metadata.Block{Idx: i, Size: expected, Valid: true}
		if i < len(baseBlocks) {
			bb := baseBlocks[i]
			if bb.Size == expected {
				b.UID = bb.UID
				b.Checksum = bb.Checksum
				b.Valid = bb.Valid
			} else {
				b.Valid = false
			}
		}
		blocks[i] = b
	}
	return blocks
}

// resolveHints turns the request's hint list into the two index sets the
// main loop consumes. Absent hints (nil) read everything; a present but
// empty hint list reads nothing.
func resolveHints(hints []Hint, blockSize int64, blockCount int) (readSet, sparseSet map[int]struct{}) {
	if hints == nil {
		readSet = make(map[int]struct{}, blockCount)
		for i := 0; i < blockCount; i++ {
			readSet[i] = struct{}{}
		}
		return readSet, map[int]struct{}{}
	}
	return blocksFromHints(hints, blockSize)
}

// sanityCheck samples blocks outside both hint sets, rereads them from
// the source, and compares against the inherited checksum. A mismatch
// means the hints are wrong or the source drifted since the diff was
// taken; continuing would silently corrupt the backup.
func (e *Engine) sanityCheck(ctx context.Context, src ioadapter.Target, blocks []metadata.Block, blockSize int64, readSet, sparseSet map[int]struct{}) error {
	var candidates []metadata.Block
	for _, b := range blocks {
		if _, ok := readSet[b.Idx]; ok {
			continue
		}
		if _, ok := sparseSet[b.Idx]; ok {
			continue
		}
		if b.Valid && b.Checksum != "" && !b.UID.IsSparse() {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sample := len(candidates) / 1000
	if sample > 10 {
		sample = 10
	}
	if sample == 0 {
		sample = 1
	}

	step := len(candidates) / sample
	for i := 0; i < sample; i++ {
		b := candidates[i*step]
		buf := make([]byte, b.Size)
		if _, err := src.ReadAt(ctx, buf, int64(b.Idx)*blockSize); err != nil {
			return err
		}
		checksum, err := blockhash.Digest(e.cfg.Hash, buf)
		if err != nil {
			return err
		}
		if checksum != b.Checksum {
			return benjierrs.InputData.New(
				"source changed outside the hinted ranges at block %d; refusing to trust the hints", b.Idx)
		}
	}
	return nil
}

func (e *Engine) runBackupLoop(ctx context.Context, src ioadapter.Target, store BlockStore, v *metadata.Version,
	blocks []metadata.Block, readSet, sparseSet map[int]struct{}, storageName string, blockSize int64, zeroDigest string) (*metadata.Stats, error) {

	readJobs := make(chan metadata.Block, e.cfg.SimultaneousReads)
	readDone := make(chan srcReadResult, e.cfg.SimultaneousReads)
	writeJobs := make(chan storeWriteJob, e.cfg.SimultaneousStorageWrites)
	writeDone := make(chan storeWriteResult, e.cfg.SimultaneousStorageWrites)

	readers := startWorkers(e.cfg.SimultaneousReads, readJobs, readDone, func(b metadata.Block) srcReadResult {
		buf := make([]byte, b.Size)
		_, rerr := src.ReadAt(ctx, buf, int64(b.Idx)*blockSize)
		return srcReadResult{block: b, data: buf, err: rerr}
	})
	writers := startWorkers(e.cfg.SimultaneousStorageWrites, writeJobs, writeDone, func(j storeWriteJob) storeWriteResult {
		ref := objectstore.BlockRef{UID: j.block.UID, Size: j.block.Size, Checksum: j.block.Checksum}
		return storeWriteResult{block: j.block, size: int64(len(j.data)), err: store.WriteBlock(ctx, ref, j.data)}
	})

	var stats metadata.Stats
	var reads, writes tally
	var opErr error
	var pendingRows []metadata.Block
	var backlogReads []srcReadResult
	var backlogWrites []storeWriteResult

	flushRows := func(force bool) {
		if opErr != nil || len(pendingRows) == 0 {
			return
		}
		if !force && len(pendingRows) < e.cfg.CommitEveryNBlocks {
			return
		}
		if err := e.meta.SetBlocks(ctx, v.ID, pendingRows); err != nil {
			opErr = err
			return
		}
		pendingRows = pendingRows[:0]
	}
	appendRow := func(row metadata.Block) {
		pendingRows = append(pendingRows, row)
		flushRows(false)
	}

	submitWrite := func(j storeWriteJob) {
		for {
			select {
			case writeJobs <- j:
				writes.submitted++
				return
			case w := <-writeDone:
				writes.completed++
				backlogWrites = append(backlogWrites, w)
			case r := <-readDone:
				reads.completed++
				backlogReads = append(backlogReads, r)
			}
		}
	}

	handleWrite := func(w storeWriteResult) {
		if opErr != nil {
			return
		}
		if w.err != nil {
			opErr = w.err
			return
		}
		stats.BytesWritten += w.size
		appendRow(w.block)
	}

	handleRead := func(r srcReadResult) {
		if opErr != nil {
			return
		}
		if r.err != nil {
			opErr = r.err
			return
		}
		stats.BytesRead += int64(len(r.data))

		checksum, herr := blockhash.Digest(e.cfg.Hash, r.data)
		if herr != nil {
			opErr = herr
			return
		}
		if checksum == zeroDigest && r.block.Size == blockSize {
			stats.BytesSparse += r.block.Size
			appendRow(metadata.Block{Idx: r.block.Idx, UID: blockuid.Sparse, Size: r.block.Size, Valid: true})
			return
		}

		existing, hit, derr := e.meta.FindByChecksum(ctx, checksum, r.block.Size, storageName)
		if derr != nil {
			opErr = derr
			return
		}
		if hit {
			stats.BytesDeduplicated += r.block.Size
			appendRow(metadata.Block{Idx: r.block.Idx, UID: existing, Size: r.block.Size, Valid: true, Checksum: checksum})
			return
		}

		row := metadata.Block{Idx: r.block.Idx, UID: blockuid.New(v.ID, r.block.Idx), Size: r.block.Size, Valid: true, Checksum: checksum}
		submitWrite(storeWriteJob{block: row, data: r.data})
	}

	process := func() {
		for len(backlogReads) > 0 || len(backlogWrites) > 0 {
			if len(backlogWrites) > 0 {
				w := backlogWrites[0]
				backlogWrites = backlogWrites[1:]
				handleWrite(w)
				continue
			}
			r := backlogReads[0]
			backlogReads = backlogReads[1:]
			handleRead(r)
		}
	}

	for i := range blocks {
		if opErr != nil {
			break
		}
		b := blocks[i]
		_, inRead := readSet[i]
		_, inSparse := sparseSet[i]
		switch {
		case inRead || !b.Valid:
			// Submit with opportunistic draining so a full pool never
			// deadlocks against its own completions.
			submitted := false
			for !submitted {
				select {
				case readJobs <- b:
					reads.submitted++
					submitted = true
				case w := <-writeDone:
					writes.completed++
					backlogWrites = append(backlogWrites, w)
				case r := <-readDone:
					reads.completed++
					backlogReads = append(backlogReads, r)
				}
			}
		case inSparse:
			stats.BytesSparse += b.Size
			appendRow(metadata.Block{Idx: b.Idx, UID: blockuid.Sparse, Size: b.Size, Valid: true})
		default:
			// Inherited unchanged from the base version.
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
			backlogWrites = append(backlogWrites, w)
		}
		process()
	}
	close(writeJobs)
	_ = readers.Wait()
	_ = writers.Wait()

	flushRows(true)
	if opErr != nil {
		return nil, opErr
	}
	if !reads.balanced() || !writes.balanced() {
		return nil, benjierrs.Internal.New(
			"submit/complete imbalance at end of backup: reads %d/%d, writes %d/%d",
			reads.submitted, reads.completed, writes.submitted, writes.completed)
	}
	return &stats, nil
}
