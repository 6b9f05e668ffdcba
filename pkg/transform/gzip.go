// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package transform

import (
	"bytes"
	"io"

	"github.com/klauspost/pgzip"

	"storj.io/benji/pkg/benjierrs"
)

// GzipModule is the module identifier recorded in the envelope for every
// instance of GzipTransform.
const GzipModule = "gzip"

// GzipTransform compresses payloads with parallel gzip, useful when zstd
// isn't available on the reading end (e.g. interoperating with plain
// gzip-aware tooling).
type GzipTransform struct {
	name  string
	level int
}

// NewGzipTransform builds a gzip compression transform registered under
// name, at the given compression level (gzip.BestSpeed..gzip.BestCompression).
func NewGzipTransform(name string, level int) *GzipTransform {
	return &GzipTransform{name: name, level: level}
}

func (g *GzipTransform) Name() string   { return g.name }
func (g *GzipTransform) Module() string { return GzipModule }

func (g *GzipTransform) Encapsulate(data []byte) ([]byte, map[string]string, error) {
	var buf bytes.Buffer
	w, err := pgzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, nil, benjierrs.Configuration.Wrap(err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, nil, benjierrs.Internal.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return nil, nil, benjierrs.Internal.Wrap(err)
	}
	return buf.Bytes(), nil, nil
}

func (g *GzipTransform) Decapsulate(data []byte, _ map[string]string) ([]byte, error) {
	r, err := pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, benjierrs.InputData.Wrap(err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, benjierrs.InputData.Wrap(err)
	}
	return out, nil
}
