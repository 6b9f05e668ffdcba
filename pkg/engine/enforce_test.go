// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine_test

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/engine"
	"storj.io/benji/pkg/metadata"
)

// seedAgedVersion inserts a valid version with a fixed age directly into
// the metadata store; retention tests don't need real block data.
func seedAgedVersion(t *testing.T, env *testEnv, volume string, age time.Duration, labels map[string]string) string {
	t.Helper()
	if labels == nil {
		labels = map[string]string{}
	}
	v := &metadata.Version{
		Volume: volume, Size: testBlockSize, BlockSize: testBlockSize, Storage: "default",
		CreatedAt: time.Now().Add(-age), Labels: labels,
	}
	require.NoError(t, env.meta.CreateVersion(env.ctx, v, []metadata.Block{
		{Idx: 0, UID: blockuid.Sparse, Size: testBlockSize, Valid: true},
	}))
	require.NoError(t, env.meta.SetStatus(env.ctx, v.UID, metadata.StatusValid, nil))
	return v.UID
}

func TestEnforceRetentionKeepsLatest(t *testing.T) {
	env := newTestEnv(t)

	var uids []string
	for i := 0; i < 5; i++ {
		uids = append(uids, seedAgedVersion(t, env, "vm", time.Duration(i)*240*time.Hour, nil))
	}

	removed, err := env.eng.EnforceRetention(env.ctx, engine.EnforceRequest{Rules: "latest2"})
	require.NoError(t, err)
	sort.Strings(removed)

	// The two newest survive; the three older ones fit no category.
	want := append([]string(nil), uids[2:]...)
	sort.Strings(want)
	assert.Equal(t, want, removed)

	left, err := env.eng.ListVersions(env.ctx, "", "vm")
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

// Two versions in the same time bucket keep only the older one.
func TestEnforceRetentionKeepsOldestPerBucket(t *testing.T) {
	env := newTestEnv(t)

	reserved := seedAgedVersion(t, env, "vm", 0, nil)
	older := seedAgedVersion(t, env, "vm", 48*time.Hour+10*time.Millisecond, nil)
	newer := seedAgedVersion(t, env, "vm", 48*time.Hour, nil)

	removed, err := env.eng.EnforceRetention(env.ctx, engine.EnforceRequest{Rules: "latest1,days7"})
	require.NoError(t, err)
	assert.Equal(t, []string{newer}, removed, "the newer of two same-bucket versions is dismissed")

	left, err := env.eng.ListVersions(env.ctx, "", "vm")
	require.NoError(t, err)
	var leftUIDs []string
	for _, v := range left {
		leftUIDs = append(leftUIDs, v.UID)
	}
	sort.Strings(leftUIDs)
	want := []string{reserved, older}
	sort.Strings(want)
	assert.Equal(t, want, leftUIDs)
}

func TestEnforceRetentionDryRun(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		seedAgedVersion(t, env, "vm", time.Duration(i)*240*time.Hour, nil)
	}

	removed, err := env.eng.EnforceRetention(env.ctx, engine.EnforceRequest{Rules: "latest1", DryRun: true})
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	left, err := env.eng.ListVersions(env.ctx, "", "vm")
	require.NoError(t, err)
	assert.Len(t, left, 3, "a dry run removes nothing")
}

func TestEnforceRetentionSkipsProtected(t *testing.T) {
	env := newTestEnv(t)

	old := seedAgedVersion(t, env, "vm", 240*time.Hour, nil)
	seedAgedVersion(t, env, "vm", 0, nil)
	require.NoError(t, env.eng.Protect(env.ctx, old, true))

	removed, err := env.eng.EnforceRetention(env.ctx, engine.EnforceRequest{Rules: "latest1"})
	require.NoError(t, err)
	assert.Empty(t, removed)

	left, err := env.eng.ListVersions(env.ctx, "", "vm")
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

// A grouping label makes versions that were backed up together expire
// together: dismissing one member dismisses the whole group.
func TestEnforceRetentionGroupLabel(t *testing.T) {
	env := newTestEnv(t)

	oldA := seedAgedVersion(t, env, "vm", 480*time.Hour, map[string]string{"backup-set": "g1"})
	newA := seedAgedVersion(t, env, "vm", 0, map[string]string{"backup-set": "g1"})
	newB := seedAgedVersion(t, env, "vm", time.Minute, map[string]string{"backup-set": "g2"})

	removed, err := env.eng.EnforceRetention(env.ctx, engine.EnforceRequest{Rules: "latest2", GroupLabel: "backup-set"})
	require.NoError(t, err)
	sort.Strings(removed)

	want := []string{oldA, newA}
	sort.Strings(want)
	assert.Equal(t, want, removed, "dismissing oldA drags newA along via the shared label value")

	left, err := env.eng.ListVersions(env.ctx, "", "vm")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, newB, left[0].UID)
}

func TestEnforceRetentionRejectsBadRules(t *testing.T) {
	env := newTestEnv(t)
	for _, rules := range []string{"", "latest0", "fortnights3", "latest1,latest2"} {
		_, err := env.eng.EnforceRetention(env.ctx, engine.EnforceRequest{Rules: rules})
		require.Error(t, err, "rules %q", rules)
	}
}
