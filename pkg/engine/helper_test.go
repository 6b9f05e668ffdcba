// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/benji/internal/testcontext"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/engine"
	_ "storj.io/benji/pkg/ioadapter/file"
	"storj.io/benji/pkg/logging"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/sqlite"
	"storj.io/benji/pkg/objectstore"
	"storj.io/benji/pkg/objectstore/filestore"
	"storj.io/benji/pkg/transform"
)

const testBlockSize = 4096

type testEnv struct {
	ctx      *testcontext.Context
	eng      *engine.Engine
	meta     metadata.Store
	store    *objectstore.Store
	storeDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := testcontext.New(t)

	meta, err := sqlite.Open(filepath.Join(ctx.Dir("db"), "benji.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	registry, err := transform.NewRegistry()
	require.NoError(t, err)
	pipeline, err := transform.NewPipeline(registry, nil)
	require.NoError(t, err)

	storeDir := ctx.Dir("objects")
	store := objectstore.New(filestore.New(storeDir), objectstore.Config{
		Pipeline: pipeline,
		Registry: registry,
	})

	eng, err := engine.New(logging.Nop(), meta, map[string]engine.BlockStore{"default": store}, engine.Config{
		Hash:           "sha256",
		BlockSize:      testBlockSize,
		DefaultStorage: "default",
	})
	require.NoError(t, err)

	return &testEnv{ctx: ctx, eng: eng, meta: meta, store: store, storeDir: storeDir}
}

func (env *testEnv) sourceFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	return "file:" + env.ctx.WriteFile(name, data)
}

func (env *testEnv) objectCount(t *testing.T) int {
	t.Helper()
	uids, err := env.store.ListBlocks(env.ctx)
	require.NoError(t, err)
	return len(uids)
}

// payloadPath is where the filestore keeps a block's payload, for tests
// that corrupt objects in place.
func (env *testEnv) payloadPath(uid blockuid.UID) string {
	return filepath.Join(env.storeDir, "blocks", filepath.FromSlash(uid.Key()))
}

func (env *testEnv) corruptBlock(t *testing.T, uid blockuid.UID) {
	t.Helper()
	path := env.payloadPath(uid)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
