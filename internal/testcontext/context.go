// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testcontext bundles the context, scratch directory, and
// timeout handling shared by this module's integration-style tests.
package testcontext

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const defaultTimeout = 3 * time.Minute

// Context is a context.Context with test helpers attached.
type Context struct {
	context.Context
	t      *testing.T
	cancel context.CancelFunc
	dir    string
}

// New returns a Context that is cancelled when the test ends or the
// default timeout elapses.
func New(t *testing.T) *Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	t.Cleanup(cancel)
	return &Context{Context: ctx, t: t, cancel: cancel, dir: t.TempDir()}
}

// Dir returns a subdirectory of the test's scratch space, created on
// first use.
func (ctx *Context) Dir(elem ...string) string {
	ctx.t.Helper()
	dir := filepath.Join(append([]string{ctx.dir}, elem...)...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ctx.t.Fatal(err)
	}
	return dir
}

// File returns a path inside the scratch space without creating it,
// ensuring its parent directory exists.
func (ctx *Context) File(elem ...string) string {
	ctx.t.Helper()
	path := filepath.Join(append([]string{ctx.dir}, elem...)...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		ctx.t.Fatal(err)
	}
	return path
}

// WriteFile creates a file with data inside the scratch space and
// returns its path.
func (ctx *Context) WriteFile(name string, data []byte) string {
	ctx.t.Helper()
	path := ctx.File(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		ctx.t.Fatal(err)
	}
	return path
}
