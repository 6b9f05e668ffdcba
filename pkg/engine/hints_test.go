// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func keys(m map[int]struct{}) []int {
	var out []int
	for i := range m {
		out = append(out, i)
	}
	return out
}

func TestBlocksFromHints(t *testing.T) {
	const bs = 4096

	tests := []struct {
		name       string
		hints      []Hint
		wantRead   []int
		wantSparse []int
	}{
		{
			name:     "aligned existing extent",
			hints:    []Hint{{Offset: 4096, Length: 4096, Exists: true}},
			wantRead: []int{1},
		},
		{
			name:     "existing extent spanning blocks",
			hints:    []Hint{{Offset: 4000, Length: 200, Exists: true}},
			wantRead: []int{0, 1},
		},
		{
			name:       "aligned hole",
			hints:      []Hint{{Offset: 8192, Length: 8192, Exists: false}},
			wantSparse: []int{2, 3},
		},
		{
			name:       "unaligned hole reads its boundary blocks",
			hints:      []Hint{{Offset: 4100, Length: 12000, Exists: false}},
			wantRead:   []int{1, 3},
			wantSparse: []int{2},
		},
		{
			name: "read wins over sparse",
			hints: []Hint{
				{Offset: 0, Length: 8192, Exists: false},
				{Offset: 4096, Length: 4096, Exists: true},
			},
			wantRead:   []int{1},
			wantSparse: []int{0},
		},
		{
			name:       "hole smaller than one block",
			hints:      []Hint{{Offset: 100, Length: 50, Exists: false}},
			wantRead:   []int{0},
			wantSparse: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			read, sparse := blocksFromHints(tt.hints, bs)
			assert.ElementsMatch(t, tt.wantRead, keys(read))
			assert.ElementsMatch(t, tt.wantSparse, keys(sparse))
		})
	}
}

func TestSampledBlock(t *testing.T) {
	// Full coverage includes everything.
	for i := 0; i < 10; i++ {
		assert.True(t, sampledBlock(i, 100))
		assert.True(t, sampledBlock(i, 0))
	}
	// The first block is always included, whatever the percentile.
	assert.True(t, sampledBlock(0, 1))

	// Sampling at 50% picks about half of a long run.
	picked := 0
	for i := 0; i < 1000; i++ {
		if sampledBlock(i, 50) {
			picked++
		}
	}
	assert.InDelta(t, 500, picked, 10)
}
