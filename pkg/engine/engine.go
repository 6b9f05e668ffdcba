// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package engine orchestrates backup, restore, scrub, cleanup, and
// retention enforcement across the metadata store, the object storages,
// and the source/target I/O adapters. It owns the concurrency fabric:
// bounded worker pools per I/O direction, a single coordinating
// goroutine per operation draining completions in arbitrary order, and
// database-backed version locks serializing operations on the same
// version across processes.
package engine

import (
	"context"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockhash"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/objectstore"
)

var mon = monkit.Package()

// BlockStore is the object-storage surface the engine drives. Both
// *objectstore.Store and *objectstore.CachedStore satisfy it.
type BlockStore interface {
	WriteBlock(ctx context.Context, block objectstore.BlockRef, data []byte) error
	ReadBlock(ctx context.Context, block objectstore.BlockRef, metadataOnly bool) ([]byte, objectstore.Envelope, error)
	CheckMetadata(block objectstore.BlockRef, env objectstore.Envelope, dataLen int64) error
	RemoveBlock(ctx context.Context, uid blockuid.UID) error
	ListBlocks(ctx context.Context) ([]blockuid.UID, error)
	WriteVersion(ctx context.Context, uid string, text string, overwrite bool) error
	ReadVersion(ctx context.Context, uid string) (string, error)
	RemoveVersion(ctx context.Context, uid string) error
}

// Config carries the engine's tunables. Zero values select the defaults
// applied by New.
type Config struct {
	// Hash names the content-digest algorithm used for dedup lookup and
	// post-read verification.
	Hash string
	// BlockSize is the default block size for backups that neither name
	// one nor inherit one from a base version.
	BlockSize int64
	// DefaultStorage names the storage used when a backup doesn't name
	// one and has no base version to inherit from.
	DefaultStorage string
	// SimultaneousReads and SimultaneousWrites bound the source-read and
	// target-write worker pools of one operation.
	SimultaneousReads  int
	SimultaneousWrites int
	// SimultaneousStorageReads and SimultaneousStorageWrites bound the
	// object-storage worker pools of one operation.
	SimultaneousStorageReads  int
	SimultaneousStorageWrites int
	// CommitEveryNBlocks amortizes metadata commit cost during large
	// backups: block rows are flushed to the store in batches of this size.
	CommitEveryNBlocks int
	// Host identifies this machine in lock rows; defaults to os.Hostname.
	Host string
}

const (
	defaultBlockSize   = 4 * 1024 * 1024
	defaultWorkers     = 3
	defaultCommitEvery = 32
)

// Engine coordinates all operations against one metadata store and a set
// of named object storages.
type Engine struct {
	log       *zap.Logger
	meta      metadata.Store
	storages  map[string]BlockStore
	cfg       Config
	host      string
	processID string
}

// New validates cfg and builds an Engine. Every process gets a fresh
// UUID identifying it as a lock holder; locks left behind by a crashed
// process therefore never match a live one and can be overridden.
func New(log *zap.Logger, meta metadata.Store, storages map[string]BlockStore, cfg Config) (*Engine, error) {
	if cfg.Hash == "" {
		cfg.Hash = "sha256"
	}
	if !blockhash.Supported(cfg.Hash) {
		return nil, benjierrs.Configuration.New("unknown hash algorithm %q", cfg.Hash)
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = defaultBlockSize
	}
	if cfg.SimultaneousReads <= 0 {
		cfg.SimultaneousReads = defaultWorkers
	}
	if cfg.SimultaneousWrites <= 0 {
		cfg.SimultaneousWrites = defaultWorkers
	}
	if cfg.SimultaneousStorageReads <= 0 {
		cfg.SimultaneousStorageReads = defaultWorkers
	}
	if cfg.SimultaneousStorageWrites <= 0 {
		cfg.SimultaneousStorageWrites = defaultWorkers
	}
	if cfg.CommitEveryNBlocks <= 0 {
		cfg.CommitEveryNBlocks = defaultCommitEvery
	}
	host := cfg.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	return &Engine{
		log:       log,
		meta:      meta,
		storages:  storages,
		cfg:       cfg,
		host:      host,
		processID: uuid.NewString(),
	}, nil
}

// ProcessID returns this engine's stable per-process lock-holder identity.
func (e *Engine) ProcessID() string { return e.processID }

func (e *Engine) storage(name string) (BlockStore, error) {
	store, ok := e.storages[name]
	if !ok {
		return nil, benjierrs.Usage.New("unknown storage %q", name)
	}
	return store, nil
}

// lock acquires the named database lock and returns its release
// function. The release function never fails the caller: an unlock error
// is logged and swallowed, since by that point the operation's own
// outcome is already decided.
func (e *Engine) lock(ctx context.Context, name, reason string, override bool) (func(), error) {
	if err := e.meta.Lock(ctx, name, e.host, e.processID, reason, override); err != nil {
		return nil, err
	}
	return func() {
		// Release must succeed even when the operation's context is
		// already cancelled.
		if err := e.meta.Unlock(context.WithoutCancel(ctx), name, e.processID); err != nil {
			e.log.Warn("unlock failed", zap.String("lock", name), zap.Error(err))
		}
	}, nil
}

// lockVersion acquires the per-version lock, named by the version UID.
func (e *Engine) lockVersion(ctx context.Context, uid, reason string, override bool) (func(), error) {
	return e.lock(ctx, uid, reason, override)
}
