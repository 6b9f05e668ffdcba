// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/internal/testrand"
	"storj.io/benji/pkg/engine"
	"storj.io/benji/pkg/metadata"
)

// Removing a version and running cleanup with no grace period collects
// exactly the objects only that version referenced.
func TestRemoveAndCleanup(t *testing.T) {
	env := newTestEnv(t)

	v1, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm-a", Source: env.sourceFile(t, "a.img", testrand.New(30).Bytes(2*testBlockSize)),
	})
	require.NoError(t, err)
	v2, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm-b", Source: env.sourceFile(t, "b.img", testrand.New(31).Bytes(2*testBlockSize)),
	})
	require.NoError(t, err)
	require.Equal(t, 4, env.objectCount(t))

	require.NoError(t, env.eng.RemoveVersion(env.ctx, v1.UID, false, false))
	// Objects survive until the cleanup pass runs.
	require.Equal(t, 4, env.objectCount(t))

	require.NoError(t, env.eng.Cleanup(env.ctx, 0))
	assert.Equal(t, 2, env.objectCount(t))

	// v2 is untouched and still restorable.
	require.NoError(t, env.eng.Restore(env.ctx, engine.RestoreRequest{Version: v2.UID, Target: "file:" + env.ctx.File("b-restore.img")}))
}

// A tombstone races a concurrent backup that deduplicated onto the same
// UID after the removal: the candidate scan sees the live reference,
// discards the tombstone, and the object survives.
func TestCleanupDiscardsFalsePositiveTombstones(t *testing.T) {
	env := newTestEnv(t)

	v1, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm", Source: env.sourceFile(t, "a.img", testrand.New(32).Bytes(3*testBlockSize)),
	})
	require.NoError(t, err)
	v1Blocks, err := env.meta.GetBlocks(env.ctx, v1.UID)
	require.NoError(t, err)

	require.NoError(t, env.eng.RemoveVersion(env.ctx, v1.UID, false, false))

	// Simulate a backup that had already deduplicated onto v1's UIDs when
	// the removal committed: its rows land before cleanup runs.
	w := &metadata.Version{
		Volume: "vm", Size: v1.Size, BlockSize: v1.BlockSize, Storage: "default",
		CreatedAt: time.Now(), Labels: map[string]string{},
	}
	for i := range v1Blocks {
		v1Blocks[i].VersionID = 0
	}
	require.NoError(t, env.meta.CreateVersion(env.ctx, w, v1Blocks))
	require.NoError(t, env.meta.SetStatus(env.ctx, w.UID, metadata.StatusValid, nil))

	require.NoError(t, env.eng.Cleanup(env.ctx, 0))

	// All three objects remain, and the raced version is restorable.
	assert.Equal(t, 3, env.objectCount(t))
	require.NoError(t, env.eng.Restore(env.ctx, engine.RestoreRequest{Version: w.UID, Target: "file:" + env.ctx.File("w.img")}))

	// A second cleanup finds nothing: the tombstones are gone for good.
	require.NoError(t, env.eng.Cleanup(env.ctx, 0))
	assert.Equal(t, 3, env.objectCount(t))
}

// Tombstones younger than the grace period are not collected.
func TestCleanupHonorsGracePeriod(t *testing.T) {
	env := newTestEnv(t)

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{
		Volume: "vm", Source: env.sourceFile(t, "a.img", testrand.New(33).Bytes(testBlockSize)),
	})
	require.NoError(t, err)
	require.NoError(t, env.eng.RemoveVersion(env.ctx, v.UID, false, false))

	require.NoError(t, env.eng.Cleanup(env.ctx, time.Hour))
	assert.Equal(t, 1, env.objectCount(t))

	require.NoError(t, env.eng.Cleanup(env.ctx, 0))
	assert.Equal(t, 0, env.objectCount(t))
}
