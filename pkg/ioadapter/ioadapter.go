// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package ioadapter defines the uniform block-device/file transport the
// Engine reads backups from and writes restores to, dispatched by URL
// scheme ("file:", "rbd:", "iscsi:").
package ioadapter

import (
	"context"
	"net/url"
	"sync"

	"storj.io/benji/pkg/benjierrs"
)

// Target is an open, block-addressable source or sink: a volume, snapshot,
// or plain file. All methods must be safe for concurrent use by multiple
// goroutines at disjoint offsets, since the Engine drives reads and writes
// through a bounded worker pool rather than one goroutine at a time.
type Target interface {
	// Size returns the target's total addressable size in bytes.
	Size(ctx context.Context) (int64, error)

	// ReadAt reads len(p) bytes starting at off, like io.ReaderAt.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// WriteAt writes p starting at off, like io.WriterAt. Implementations
	// backing a sparse restore target may choose to skip writing runs of
	// zero bytes; callers that need bit-for-bit output must not rely on
	// that optimization being absent.
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)

	// Close releases the target's underlying resources.
	Close() error
}

// Mode selects whether Open prepares a target for reading (a backup
// source) or writing (a restore destination).
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Opener constructs a Target from a parsed URL reference. A write-mode
// opener may receive additional options (e.g. "force", "sparse") as
// query parameters on ref.
type Opener func(ctx context.Context, ref *url.URL, mode Mode) (Target, error)

var (
	mu        sync.RWMutex
	openersBy = map[string]Opener{}
)

// Register associates scheme (e.g. "file", "rbd", "iscsi") with opener. It
// is typically called from each scheme subpackage's init function.
func Register(scheme string, opener Opener) {
	mu.Lock()
	defer mu.Unlock()
	openersBy[scheme] = opener
}

// Open parses rawURL and dispatches to the opener registered for its
// scheme.
func Open(ctx context.Context, rawURL string, mode Mode) (Target, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return nil, benjierrs.Usage.New("invalid target URL %q: %v", rawURL, err)
	}
	mu.RLock()
	opener, ok := openersBy[ref.Scheme]
	mu.RUnlock()
	if !ok {
		return nil, benjierrs.Usage.New("no adapter registered for scheme %q", ref.Scheme)
	}
	return opener(ctx, ref, mode)
}
