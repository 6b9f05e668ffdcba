// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"storj.io/benji/pkg/logging"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	logger, err := logging.New("")
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := logging.New("not-a-level")
	assert.Error(t, err)
}

func TestNopDiscardsSilently(t *testing.T) {
	logger := logging.Nop()
	require.NotNil(t, logger)
	logger.Info("this must not panic or write anywhere")
}
