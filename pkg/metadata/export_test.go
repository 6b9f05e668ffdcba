// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadata_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/sqlite"
)

func newStore(t *testing.T) metadata.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "benji.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedVersion(t *testing.T, store metadata.Store) (*metadata.Version, []metadata.Block) {
	t.Helper()
	ctx := context.Background()

	v := &metadata.Version{
		Volume:    "vm-disk-1",
		Snapshot:  "snap-2026-07-30",
		Size:      12288,
		BlockSize: 4096,
		Storage:   "default",
		CreatedAt: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		Labels:    map[string]string{"benji-backup.me/instance": "prod"},
	}
	blocks := []metadata.Block{
		{Idx: 0, UID: blockuid.New(1, 0), Size: 4096, Valid: true, Checksum: "aa"},
		{Idx: 1, UID: blockuid.Sparse, Size: 4096, Valid: true},
		{Idx: 2, UID: blockuid.New(1, 2), Size: 4096, Valid: true, Checksum: "cc"},
	}
	require.NoError(t, store.CreateVersion(ctx, v, blocks))
	require.NoError(t, store.SetStatus(ctx, v.UID, metadata.StatusValid, &metadata.Stats{BytesRead: 12288, BytesWritten: 8192}))

	got, err := store.GetVersion(ctx, v.UID)
	require.NoError(t, err)
	gotBlocks, err := store.GetBlocks(ctx, v.UID)
	require.NoError(t, err)
	return got, gotBlocks
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newStore(t)
	v, blocks := seedVersion(t, source)

	text, err := metadata.ExportOne(v, blocks)
	require.NoError(t, err)
	assert.Contains(t, text, `"metadata_version": "`+metadata.MetadataVersion+`"`)

	dest := newStore(t)
	imported, err := metadata.Import(ctx, dest, text)
	require.NoError(t, err)
	require.Equal(t, []string{v.UID}, imported)

	got, err := dest.GetVersion(ctx, v.UID)
	require.NoError(t, err)
	assert.Equal(t, v.Volume, got.Volume)
	assert.Equal(t, v.Snapshot, got.Snapshot)
	assert.Equal(t, metadata.StatusValid, got.Status)
	assert.Equal(t, v.Labels, got.Labels)
	assert.Equal(t, int64(12288), got.Stats.BytesRead)

	gotBlocks, err := dest.GetBlocks(ctx, v.UID)
	require.NoError(t, err)
	require.Len(t, gotBlocks, 3)
	assert.True(t, gotBlocks[0].UID.Equal(blockuid.New(1, 0)))
	assert.True(t, gotBlocks[1].UID.IsSparse())
	assert.Equal(t, "cc", gotBlocks[2].Checksum)

	// The re-export of the imported version must equal the original export.
	reExport, err := metadata.ExportOne(got, gotBlocks)
	require.NoError(t, err)
	assert.Equal(t, text, reExport)
}

func TestImportRefusesUnknownMetadataVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	text := `{"metadata_version": "2.0.0", "versions": []}`
	_, err := metadata.Import(ctx, store, text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported metadata_version")
}

func TestImportIgnoresUnknownFields(t *testing.T) {
	ctx := context.Background()
	source := newStore(t)
	v, blocks := seedVersion(t, source)

	text, err := metadata.ExportOne(v, blocks)
	require.NoError(t, err)
	// A newer minor version may add fields; readers must skip them.
	augmented := strings.Replace(text,
		`"metadata_version": "`+metadata.MetadataVersion+`"`,
		`"metadata_version": "1.9.0", "future_field": {"a": 1}`, 1)

	dest := newStore(t)
	imported, err := metadata.Import(ctx, dest, augmented)
	require.NoError(t, err)
	assert.Equal(t, []string{v.UID}, imported)
}

func TestImportRefusesDuplicateUID(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	v, blocks := seedVersion(t, store)

	text, err := metadata.ExportOne(v, blocks)
	require.NoError(t, err)
	_, err = metadata.Import(ctx, store, text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
