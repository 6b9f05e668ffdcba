// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package iscsi registers the "iscsi:" scheme. Like pkg/ioadapter/rbd,
// this is a faithful in-memory stand-in rather than a real initiator
// binding: transport-level volume attachment happens outside this
// module. It exists so
// the Engine's scheme-dispatch path and fixed-size-target contract are
// exercised for "iscsi:" URLs exactly as they would be for a real LUN.
package iscsi

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/ioadapter"
)

func init() {
	ioadapter.Register("iscsi", open)
}

var (
	mu       sync.Mutex
	registry = map[string][]byte{}
)

// Target is an in-memory stand-in for an attached iSCSI LUN.
type Target struct {
	key      string
	readOnly bool
}

func open(ctx context.Context, ref *url.URL, mode ioadapter.Mode) (ioadapter.Target, error) {
	key := ref.Host + ref.Path
	if key == "" {
		return nil, benjierrs.Usage.New("iscsi: URL must name a target IQN and LUN, got %q", ref.String())
	}

	mu.Lock()
	defer mu.Unlock()

	if _, ok := registry[key]; !ok {
		if mode == ioadapter.ModeRead {
			return nil, benjierrs.NewNotFound("iscsi: LUN %q does not exist", key)
		}
		size := int64(0)
		if s := ref.Query().Get("size"); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				size = n
			}
		}
		registry[key] = make([]byte, size)
	}

	return &Target{key: key, readOnly: mode == ioadapter.ModeRead}, nil
}

func (t *Target) Size(ctx context.Context) (int64, error) {
	mu.Lock()
	defer mu.Unlock()
	return int64(len(registry[t.key])), nil
}

func (t *Target) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	data := registry[t.key]
	if off >= int64(len(data)) {
		return 0, nil
	}
	n := copy(p, data[off:])
	return n, nil
}

func (t *Target) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if t.readOnly {
		return 0, benjierrs.Usage.New("iscsi: LUN %q was opened read-only", t.key)
	}
	mu.Lock()
	defer mu.Unlock()
	data := registry[t.key]
	if off+int64(len(p)) > int64(len(data)) {
		return 0, benjierrs.Usage.New("iscsi: write to %q at offset %d, length %d exceeds LUN size %d", t.key, off, len(p), len(data))
	}
	n := copy(data[off:], p)
	return n, nil
}

func (t *Target) Close() error {
	return nil
}
