// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/objectstore"
	"storj.io/benji/pkg/objectstore/filestore"
	"storj.io/benji/pkg/transform"
)

func newStore(t *testing.T, cfg objectstore.Config) *objectstore.Store {
	t.Helper()
	raw := filestore.New(t.TempDir())
	return objectstore.New(raw, cfg)
}

func plainPipeline(t *testing.T) (transform.Pipeline, *transform.Registry) {
	t.Helper()
	registry, err := transform.NewRegistry()
	require.NoError(t, err)
	pipeline, err := transform.NewPipeline(registry, nil)
	require.NoError(t, err)
	return pipeline, registry
}

func TestWriteReadBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	pipeline, registry := plainPipeline(t)
	store := newStore(t, objectstore.Config{Pipeline: pipeline, Registry: registry})

	block := objectstore.BlockRef{UID: blockuid.New(1, 0), Size: 5, Checksum: "deadbeef"}
	require.NoError(t, store.WriteBlock(ctx, block, []byte("hello")))

	data, env, err := store.ReadBlock(ctx, block, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, int64(5), env.Size)
	assert.Equal(t, "deadbeef", env.Checksum)
}

func TestReadBlockMetadataOnly(t *testing.T) {
	ctx := context.Background()
	pipeline, registry := plainPipeline(t)
	store := newStore(t, objectstore.Config{Pipeline: pipeline, Registry: registry})

	block := objectstore.BlockRef{UID: blockuid.New(1, 0), Size: 5, Checksum: "deadbeef"}
	require.NoError(t, store.WriteBlock(ctx, block, []byte("hello")))

	data, env, err := store.ReadBlock(ctx, block, true)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, int64(5), env.Size)
}

func TestReadBlockNotFound(t *testing.T) {
	ctx := context.Background()
	pipeline, registry := plainPipeline(t)
	store := newStore(t, objectstore.Config{Pipeline: pipeline, Registry: registry})

	block := objectstore.BlockRef{UID: blockuid.New(99, 0)}
	_, _, err := store.ReadBlock(ctx, block, false)
	require.Error(t, err)
	assert.True(t, benjierrs.IsNotFound(err))
}

func TestRemoveBlockTolerant(t *testing.T) {
	ctx := context.Background()
	pipeline, registry := plainPipeline(t)
	store := newStore(t, objectstore.Config{Pipeline: pipeline, Registry: registry})

	err := store.RemoveBlock(ctx, blockuid.New(1, 0))
	assert.NoError(t, err)
}

func TestCheckMetadataDetectsMismatches(t *testing.T) {
	block := objectstore.BlockRef{UID: blockuid.New(1, 0), Size: 10, Checksum: "abc"}

	assert.NoError(t, (&objectstore.Store{}).CheckMetadata(block, objectstore.Envelope{Size: 10, Checksum: "abc"}, 10))
	assert.Error(t, (&objectstore.Store{}).CheckMetadata(block, objectstore.Envelope{Size: 9, Checksum: "abc"}, 9))
	assert.Error(t, (&objectstore.Store{}).CheckMetadata(block, objectstore.Envelope{Size: 10, Checksum: "xyz"}, 10))
	assert.Error(t, (&objectstore.Store{}).CheckMetadata(block, objectstore.Envelope{Size: 10, Checksum: "abc"}, 11))
}

func TestWriteVersionRequiresOverwriteFlag(t *testing.T) {
	ctx := context.Background()
	pipeline, registry := plainPipeline(t)
	store := newStore(t, objectstore.Config{Pipeline: pipeline, Registry: registry})

	require.NoError(t, store.WriteVersion(ctx, "V0000000001", `{"a":1}`, false))
	err := store.WriteVersion(ctx, "V0000000001", `{"a":2}`, false)
	assert.Error(t, err)
	assert.NoError(t, store.WriteVersion(ctx, "V0000000001", `{"a":2}`, true))

	text, err := store.ReadVersion(ctx, "V0000000001")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, text)
}

func TestListBlocks(t *testing.T) {
	ctx := context.Background()
	pipeline, registry := plainPipeline(t)
	store := newStore(t, objectstore.Config{Pipeline: pipeline, Registry: registry})

	u1 := blockuid.New(1, 0)
	u2 := blockuid.New(1, 1)
	require.NoError(t, store.WriteBlock(ctx, objectstore.BlockRef{UID: u1, Size: 1, Checksum: "a"}, []byte("a")))
	require.NoError(t, store.WriteBlock(ctx, objectstore.BlockRef{UID: u2, Size: 1, Checksum: "b"}, []byte("b")))

	uids, err := store.ListBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, uids, 2)
	found := map[string]bool{}
	for _, u := range uids {
		found[u.String()] = true
	}
	assert.True(t, found[u1.String()])
	assert.True(t, found[u2.String()])
}

func TestHMACMismatchIsScrubbingError(t *testing.T) {
	ctx := context.Background()
	pipeline, registry := plainPipeline(t)
	raw := filestore.New(t.TempDir())

	store := objectstore.New(raw, objectstore.Config{Pipeline: pipeline, Registry: registry, HMACKey: []byte("key-a")})
	block := objectstore.BlockRef{UID: blockuid.New(1, 0), Size: 5, Checksum: "deadbeef"}
	require.NoError(t, store.WriteBlock(ctx, block, []byte("hello")))

	wrongKeyStore := objectstore.New(raw, objectstore.Config{Pipeline: pipeline, Registry: registry, HMACKey: []byte("key-b")})
	_, _, err := wrongKeyStore.ReadBlock(ctx, block, false)
	require.Error(t, err)
	assert.True(t, benjierrs.Scrubbing.Has(err))
}
