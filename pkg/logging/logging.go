// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package logging configures the structured logger every other package
// in this module takes as a constructor argument; the level comes from
// configuration or the environment.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel is the environment variable New consults when level is not
// overridden by configuration.
const EnvLevel = "BENJI_LOG_LEVEL"

// New builds a production-profile zap.Logger (JSON encoding, ISO8601
// timestamps, caller/stack capture for errors) at the given level. An empty
// level falls back to the BENJI_LOG_LEVEL environment variable, then to
// "info".
func New(level string) (*zap.Logger, error) {
	if level == "" {
		level = os.Getenv(EnvLevel)
	}
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.Set(strings.ToLower(level)); err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// Nop returns a logger that discards everything, for tests and callers
// that don't want log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
