// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/internal/testrand"
	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/engine"
	"storj.io/benji/pkg/logging"
)

func TestRemoveVersionRespectsForeignLock(t *testing.T) {
	env := newTestEnv(t)
	source := env.sourceFile(t, "a.img", testrand.New(40).Bytes(testBlockSize))

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)

	// A second process against the same database holds the version lock.
	other, err := engine.New(logging.Nop(), env.meta, map[string]engine.BlockStore{"default": env.store}, engine.Config{
		Hash: "sha256", BlockSize: testBlockSize, DefaultStorage: "default",
	})
	require.NoError(t, err)
	require.NoError(t, env.meta.Lock(env.ctx, v.UID, "otherhost", other.ProcessID(), "restore in progress", false))

	err = env.eng.RemoveVersion(env.ctx, v.UID, false, false)
	require.Error(t, err)
	assert.True(t, benjierrs.AlreadyLocked.Has(err))

	// Overriding evicts the foreign holder and the removal proceeds.
	require.NoError(t, env.eng.RemoveVersion(env.ctx, v.UID, false, true))
	_, err = env.meta.GetVersion(env.ctx, v.UID)
	assert.True(t, benjierrs.IsNotFound(err))
}

func TestRemoveVersionProtected(t *testing.T) {
	env := newTestEnv(t)
	source := env.sourceFile(t, "a.img", testrand.New(41).Bytes(testBlockSize))

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)
	require.NoError(t, env.eng.Protect(env.ctx, v.UID, true))

	err = env.eng.RemoveVersion(env.ctx, v.UID, false, false)
	require.Error(t, err)
	assert.True(t, benjierrs.Usage.Has(err))

	require.NoError(t, env.eng.RemoveVersion(env.ctx, v.UID, true, false))
}

func TestExportImportThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	data := testrand.New(42).Bytes(2 * testBlockSize)
	source := env.sourceFile(t, "a.img", data)

	v, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source})
	require.NoError(t, err)

	text, err := env.eng.ExportMetadata(env.ctx, []string{v.UID})
	require.NoError(t, err)

	// Drop the database rows, keep the objects: the database-less
	// disaster path.
	require.NoError(t, env.eng.RemoveVersion(env.ctx, v.UID, false, false))

	imported, err := env.eng.ImportMetadata(env.ctx, text)
	require.NoError(t, err)
	require.Equal(t, []string{v.UID}, imported)

	// The objects were never cleaned up, so the import is restorable.
	target := env.ctx.File("restore.img")
	require.NoError(t, env.eng.Restore(env.ctx, engine.RestoreRequest{Version: v.UID, Target: "file:" + target}))
}

func TestListVersionsFilter(t *testing.T) {
	env := newTestEnv(t)
	sourceA := env.sourceFile(t, "a.img", testrand.New(43).Bytes(testBlockSize))
	sourceB := env.sourceFile(t, "b.img", testrand.New(44).Bytes(testBlockSize))

	vA, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm-a", Source: sourceA})
	require.NoError(t, err)
	_, err = env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm-b", Source: sourceB})
	require.NoError(t, err)

	got, err := env.eng.ListVersions(env.ctx, `volume == "vm-a"`, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, vA.UID, got[0].UID)

	got, err = env.eng.ListVersions(env.ctx, `volume == "vm-a" or volume == "vm-b"`, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = env.eng.ListVersions(env.ctx, `volume ==`, "")
	require.Error(t, err)
	assert.True(t, benjierrs.Usage.Has(err))
}

func TestBackupUnknownStorage(t *testing.T) {
	env := newTestEnv(t)
	source := env.sourceFile(t, "a.img", testrand.New(45).Bytes(testBlockSize))

	_, err := env.eng.Backup(env.ctx, engine.BackupRequest{Volume: "vm", Source: source, Storage: "nope"})
	require.Error(t, err)
	assert.True(t, benjierrs.Usage.Has(err))

	versions, err := env.eng.ListVersions(env.ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, versions, "no version row is created before the storage resolves")
}
