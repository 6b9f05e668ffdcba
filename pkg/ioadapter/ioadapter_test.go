// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ioadapter_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/ioadapter"
)

type fakeTarget struct{}

func (fakeTarget) Size(ctx context.Context) (int64, error)                  { return 0, nil }
func (fakeTarget) ReadAt(ctx context.Context, p []byte, off int64) (int, error)  { return len(p), nil }
func (fakeTarget) WriteAt(ctx context.Context, p []byte, off int64) (int, error) { return len(p), nil }
func (fakeTarget) Close() error                                            { return nil }

func TestOpenDispatchesByScheme(t *testing.T) {
	ioadapter.Register("faketest", func(ctx context.Context, ref *url.URL, mode ioadapter.Mode) (ioadapter.Target, error) {
		return fakeTarget{}, nil
	})

	target, err := ioadapter.Open(context.Background(), "faketest:///dev/whatever", ioadapter.ModeRead)
	require.NoError(t, err)
	assert.NotNil(t, target)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := ioadapter.Open(context.Background(), "bogus-scheme-xyz:///dev/whatever", ioadapter.ModeRead)
	require.Error(t, err)
	assert.True(t, benjierrs.Usage.Has(err), "a typo'd scheme is a usage mistake, not an internal error")
}

func TestOpenRejectsMalformedURL(t *testing.T) {
	_, err := ioadapter.Open(context.Background(), "://not a url", ioadapter.ModeRead)
	require.Error(t, err)
	assert.True(t, benjierrs.Usage.Has(err))
}
