// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/internal/testrand"
	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/engine"
	"storj.io/benji/pkg/metadata"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(7).Bytes(3 * testBlockSize)
	source := env.sourceFile(t, "source.img", data)

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm-disk-1", Snapshot: "snap1", Source: source,
	})
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusValid, v.Status)
	assert.Equal(t, int64(len(data)), v.Size)
	assert.Equal(t, int64(len(data)), v.Stats.BytesRead)
	assert.Equal(t, int64(len(data)), v.Stats.BytesWritten)
	assert.Equal(t, 3, env.objectCount(t))

	target := env.ctx.File("restore.img")
	require.NoError(t, env.eng.Restore(env.ctx, engine.RestoreRequest{Version: v.UID, Target: "file:" + target}))

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestBackupShortLastBlock(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(8).Bytes(2*testBlockSize + 1808)
	source := env.sourceFile(t, "source.img", data)

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "odd", Source: source})
	require.NoError(t, err)

	blocks, err := env.meta.GetBlocks(env.ctx, v.UID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, int64(1808), blocks[2].Size)

	target := env.ctx.File("restore.img")
	require.NoError(t, env.eng.Restore(env.ctx, engine.RestoreRequest{Version: v.UID, Target: "file:" + target}))
	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

// An identical second backup against the first as base, with an empty
// (but present) hint list, reads nothing, writes nothing, and its block
// rows point at the first version's UIDs.
func TestSecondBackupSharesBlocks(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(9).Bytes(3 * testBlockSize)
	source := env.sourceFile(t, "source.img", data)

	v1, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)
	require.Equal(t, 3, env.objectCount(t))

	v2, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm", Source: source, Base: v1.UID, Hints: []engine.Hint{},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, env.objectCount(t))
	assert.Zero(t, v2.Stats.BytesRead)
	assert.Zero(t, v2.Stats.BytesWritten)

	blocks, err := env.meta.GetBlocks(env.ctx, v2.UID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for i, b := range blocks {
		assert.True(t, b.UID.Equal(blockuid.New(v1.ID, i)), "block %d should reference the base version's object", i)
	}
}

// A second full read of unchanged data deduplicates every block against
// the index instead of writing new objects.
func TestFullRereadDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(10).Bytes(3 * testBlockSize)
	source := env.sourceFile(t, "source.img", data)

	v1, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)

	v2, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)
	assert.Equal(t, 3, env.objectCount(t))
	assert.Equal(t, int64(len(data)), v2.Stats.BytesRead)
	assert.Equal(t, int64(len(data)), v2.Stats.BytesDeduplicated)
	assert.Zero(t, v2.Stats.BytesWritten)

	blocks, err := env.meta.GetBlocks(env.ctx, v2.UID)
	require.NoError(t, err)
	for i, b := range blocks {
		assert.True(t, b.UID.Equal(blockuid.New(v1.ID, i)))
	}
}

func TestHintGuidedIncremental(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(11).Bytes(3 * testBlockSize)
	path := env.ctx.WriteFile("source.img", data)

	v1, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: "file:" + path})
	require.NoError(t, err)
	v2, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm", Source: "file:" + path, Base: v1.UID, Hints: []engine.Hint{},
	})
	require.NoError(t, err)

	// Modify exactly the second block, then back up with a matching hint.
	copy(data[testBlockSize:2*testBlockSize], testrand.New(12).Bytes(testBlockSize))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	v3, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm", Source: "file:" + path, Base: v2.UID,
		Hints: []engine.Hint{{Offset: testBlockSize, Length: testBlockSize, Exists: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(testBlockSize), v3.Stats.BytesRead)
	assert.Equal(t, int64(testBlockSize), v3.Stats.BytesWritten)
	assert.Equal(t, 4, env.objectCount(t))

	blocks, err := env.meta.GetBlocks(env.ctx, v3.UID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.True(t, blocks[0].UID.Equal(blockuid.New(v1.ID, 0)))
	assert.True(t, blocks[1].UID.Equal(blockuid.New(v3.ID, 1)), "the changed block gets a freshly minted UID")
	assert.True(t, blocks[2].UID.Equal(blockuid.New(v1.ID, 2)))

	target := env.ctx.File("restore.img")
	require.NoError(t, env.eng.Restore(env.ctx, engine.RestoreRequest{Version: v3.UID, Target: "file:" + target}))
	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestSparseDetection(t *testing.T) {
	env := newTestEnv(t)
	source := env.sourceFile(t, "zeros.img", make([]byte, testBlockSize))

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)
	assert.Equal(t, int64(testBlockSize), v.Stats.BytesSparse)
	assert.Zero(t, v.Stats.BytesWritten)
	assert.Equal(t, 0, env.objectCount(t))

	blocks, err := env.meta.GetBlocks(env.ctx, v.UID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].UID.IsSparse())
	assert.Empty(t, blocks[0].Checksum)

	target := env.ctx.File("restore.img")
	require.NoError(t, env.eng.Restore(env.ctx, engine.RestoreRequest{Version: v.UID, Target: "file:" + target}))
	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testBlockSize), restored)
}

// A hinted backup whose source drifted outside the hinted ranges is
// rolled back: trusting the hints would capture a torn image.
func TestBackupSanityCheckAborts(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(13).Bytes(3 * testBlockSize)
	path := env.ctx.WriteFile("source.img", data)

	v1, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: "file:" + path})
	require.NoError(t, err)

	// Drift outside the hinted range: block 1 changes but the hint only
	// covers block 0.
	copy(data[testBlockSize:], testrand.New(14).Bytes(testBlockSize))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm", Source: "file:" + path, Base: v1.UID,
		Hints: []engine.Hint{{Offset: 0, Length: testBlockSize, Exists: true}},
	})
	require.Error(t, err)
	assert.True(t, benjierrs.InputData.Has(err))

	// The aborted version is gone; only the original remains.
	versions, err := env.eng.ListVersions(env.ctx, "", "vm")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, v1.UID, versions[0].UID)
}

// Writing a block of zeros over previously meaningful data stores the
// new block as sparse, whatever the base version held there.
func TestRewriteToZeroBecomesSparse(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(15).Bytes(2 * testBlockSize)
	path := env.ctx.WriteFile("source.img", data)

	v1, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: "file:" + path})
	require.NoError(t, err)

	copy(data[:testBlockSize], make([]byte, testBlockSize))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	v2, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm", Source: "file:" + path, Base: v1.UID,
		Hints: []engine.Hint{{Offset: 0, Length: testBlockSize, Exists: true}},
	})
	require.NoError(t, err)

	blocks, err := env.meta.GetBlocks(env.ctx, v2.UID)
	require.NoError(t, err)
	assert.True(t, blocks[0].UID.IsSparse())
	assert.Equal(t, int64(testBlockSize), v2.Stats.BytesSparse)
}

func TestBackupExportsVersionMetadata(t *testing.T) {
	env := newTestEnv(t)
	source := env.sourceFile(t, "source.img", testrand.New(16).Bytes(testBlockSize))

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)

	text, err := env.store.ReadVersion(env.ctx, v.UID)
	require.NoError(t, err)
	assert.Contains(t, text, `"uid": "`+v.UID+`"`)
	assert.Contains(t, text, `"metadata_version": "`+metadata.MetadataVersion+`"`)
}
