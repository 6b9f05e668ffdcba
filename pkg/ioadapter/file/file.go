// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package file implements ioadapter.Target over a plain OS file or block
// device node, registered under the "file:" scheme.
package file

import (
	"context"
	"net/url"
	"os"
	"strconv"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/ioadapter"
)

func init() {
	ioadapter.Register("file", open)
}

// Target wraps an *os.File as an ioadapter.Target.
type Target struct {
	f *os.File
}

func open(ctx context.Context, ref *url.URL, mode ioadapter.Mode) (ioadapter.Target, error) {
	path := ref.Path
	if path == "" {
		path = ref.Opaque
	}

	switch mode {
	case ioadapter.ModeRead:
		f, err := os.Open(path)
		if err != nil {
			return nil, benjierrs.InputData.Wrap(err)
		}
		return &Target{f: f}, nil
	case ioadapter.ModeWrite:
		flags := os.O_RDWR | os.O_CREATE
		if ref.Query().Get("force") != "true" {
			flags |= os.O_EXCL
		}
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return nil, benjierrs.InputData.Wrap(err)
		}
		if size := ref.Query().Get("size"); size != "" {
			if n, err := strconv.ParseInt(size, 10, 64); err == nil {
				_ = f.Truncate(n)
			}
		}
		return &Target{f: f}, nil
	default:
		return nil, benjierrs.Internal.New("file: unknown mode %v", mode)
	}
}

func (t *Target) Size(ctx context.Context) (int64, error) {
	info, err := t.f.Stat()
	if err != nil {
		return 0, benjierrs.StorageIO.Wrap(err)
	}
	if info.Mode()&os.ModeDevice != 0 {
		// Block devices report a zero regular-file size; seek to the end
		// to discover their true capacity.
		size, err := t.f.Seek(0, os.SEEK_END)
		if err != nil {
			return 0, benjierrs.StorageIO.Wrap(err)
		}
		return size, nil
	}
	return info.Size(), nil
}

func (t *Target) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := t.f.ReadAt(p, off)
	if err != nil {
		return n, benjierrs.StorageIO.Wrap(err)
	}
	return n, nil
}

func (t *Target) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := t.f.WriteAt(p, off)
	if err != nil {
		return n, benjierrs.StorageIO.Wrap(err)
	}
	return n, nil
}

func (t *Target) Close() error {
	if err := t.f.Close(); err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}
