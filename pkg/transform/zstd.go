// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package transform

import (
	"github.com/klauspost/compress/zstd"

	"storj.io/benji/pkg/benjierrs"
)

// ZstdModule is the module identifier recorded in the envelope for every
// instance of ZstdTransform, regardless of configured name or level.
const ZstdModule = "zstd"

// ZstdTransform compresses payloads with zstd at a configured level.
type ZstdTransform struct {
	name  string
	level zstd.EncoderLevel
}

// NewZstdTransform builds a zstd compression transform registered under
// name, at the given compression level (1=fastest .. 4=best).
func NewZstdTransform(name string, level int) *ZstdTransform {
	levels := []zstd.EncoderLevel{
		zstd.SpeedFastest,
		zstd.SpeedDefault,
		zstd.SpeedBetterCompression,
		zstd.SpeedBestCompression,
	}
	if level < 1 || level > len(levels) {
		level = 2
	}
	return &ZstdTransform{name: name, level: levels[level-1]}
}

func (z *ZstdTransform) Name() string   { return z.name }
func (z *ZstdTransform) Module() string { return ZstdModule }

func (z *ZstdTransform) Encapsulate(data []byte) ([]byte, map[string]string, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return nil, nil, benjierrs.Internal.Wrap(err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil, nil
}

func (z *ZstdTransform) Decapsulate(data []byte, _ map[string]string) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, benjierrs.Internal.Wrap(err)
	}
	defer decoder.Close()
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, benjierrs.InputData.Wrap(err)
	}
	return out, nil
}
