// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package retention_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/pkg/metadata/retention"
)

type fakeVersion struct {
	uid string
	at  time.Time
}

func (f fakeVersion) RetentionKey() string      { return f.uid }
func (f fakeVersion) RetentionTime() time.Time { return f.at }

func TestParsePolicyRejectsInvalidCategory(t *testing.T) {
	_, err := retention.ParsePolicy("bogus3")
	assert.Error(t, err)
}

func TestParsePolicyRejectsDuplicateCategory(t *testing.T) {
	_, err := retention.ParsePolicy("days3,days4")
	assert.Error(t, err)
}

func TestParsePolicyRejectsNonPositiveCount(t *testing.T) {
	_, err := retention.ParsePolicy("days0")
	assert.Error(t, err)
}

func TestParsePolicyRejectsMalformedToken(t *testing.T) {
	_, err := retention.ParsePolicy("days")
	assert.Error(t, err)
}

func TestFilterKeepsLatestNRegardlessOfAge(t *testing.T) {
	policy, err := retention.ParsePolicy("latest2")
	require.NoError(t, err)

	now := time.Unix(10_000_000, 0)
	versions := []fakeVersion{
		{uid: "v1", at: now},
		{uid: "v2", at: now.Add(-time.Hour)},
		{uid: "v3", at: now.Add(-2 * time.Hour)},
	}

	dismissed := retention.Filter(policy, versions, now)
	require.Len(t, dismissed, 1)
	assert.Equal(t, "v3", dismissed[0].uid)
}

func TestFilterKeepsOldestPerBucketAndDismissesRest(t *testing.T) {
	policy, err := retention.ParsePolicy("hours24")
	require.NoError(t, err)

	now := time.Unix(100_000_000, 0)
	// Three versions all within the same hour bucket (hour 0): only the
	// oldest of the three should survive.
	versions := []fakeVersion{
		{uid: "a", at: now.Add(-10 * time.Minute)},
		{uid: "b", at: now.Add(-20 * time.Minute)},
		{uid: "c", at: now.Add(-30 * time.Minute)},
	}

	dismissed := retention.Filter(policy, versions, now)
	dismissedUIDs := map[string]bool{}
	for _, d := range dismissed {
		dismissedUIDs[d.uid] = true
	}
	assert.True(t, dismissedUIDs["a"])
	assert.True(t, dismissedUIDs["b"])
	assert.False(t, dismissedUIDs["c"]) // oldest of the bucket survives
}

func TestFilterDismissesVersionsOlderThanAllCategories(t *testing.T) {
	policy, err := retention.ParsePolicy("hours1")
	require.NoError(t, err)

	now := time.Unix(100_000_000, 0)
	versions := []fakeVersion{
		{uid: "ancient", at: now.Add(-100 * 24 * time.Hour)},
	}

	dismissed := retention.Filter(policy, versions, now)
	require.Len(t, dismissed, 1)
	assert.Equal(t, "ancient", dismissed[0].uid)
}

func TestFilterFirstMatchingCategoryWins(t *testing.T) {
	policy, err := retention.ParsePolicy("days1,weeks4")
	require.NoError(t, err)

	now := time.Unix(100_000_000, 0)
	// 3 days old: falls in the "days" bucket (day index 3 > rule count 1,
	// so it does NOT match "days"), falls through to "weeks" (week index 1
	// <= 4): must land in the weeks bucket, not be dismissed outright.
	versions := []fakeVersion{
		{uid: "v1", at: now.Add(-3 * 24 * time.Hour)},
		{uid: "v2", at: now.Add(-4 * 24 * time.Hour)},
	}

	dismissed := retention.Filter(policy, versions, now)
	// Both land in the same week-1 bucket; only the oldest (v2) survives.
	require.Len(t, dismissed, 1)
	assert.Equal(t, "v1", dismissed[0].uid)
}
