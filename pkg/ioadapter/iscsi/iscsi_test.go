// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package iscsi_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "storj.io/benji/pkg/ioadapter/iscsi"

	"storj.io/benji/pkg/ioadapter"
)

func uniqueURL(t *testing.T, size int64) string {
	t.Helper()
	return fmt.Sprintf("iscsi://iqn.2026-01.example:target0/%s-%d?size=%d", t.Name(), time.Now().UnixNano(), size)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	u := uniqueURL(t, 512)

	w, err := ioadapter.Open(ctx, u, ioadapter.ModeWrite)
	require.NoError(t, err)
	_, err = w.WriteAt(ctx, []byte("lun"), 50)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := ioadapter.Open(ctx, u, ioadapter.ModeRead)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = r.ReadAt(ctx, buf, 50)
	require.NoError(t, err)
	assert.Equal(t, "lun", string(buf))
}

func TestReadMissingLUNFails(t *testing.T) {
	_, err := ioadapter.Open(context.Background(), uniqueURL(t, 0), ioadapter.ModeRead)
	assert.Error(t, err)
}
