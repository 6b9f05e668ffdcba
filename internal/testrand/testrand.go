// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testrand supplies deterministic pseudo-random test data, seeded
// per test so failures reproduce.
package testrand

import (
	"math/rand"
)

// Source wraps a seeded generator.
type Source struct {
	rng *rand.Rand
}

// New returns a Source with a fixed seed. Tests that need distinct
// streams pass distinct seeds.
func New(seed int64) *Source {
	return &Source{rng: rand.New(rand.NewSource(seed))}
}

// Bytes returns n pseudo-random bytes.
func (s *Source) Bytes(n int) []byte {
	data := make([]byte, n)
	_, _ = s.rng.Read(data)
	return data
}

// Intn returns a pseudo-random int in [0, n).
func (s *Source) Intn(n int) int {
	return s.rng.Intn(n)
}

// BytesN is a convenience for one-off random data with the default seed.
func BytesN(n int) []byte {
	return New(1).Bytes(n)
}
