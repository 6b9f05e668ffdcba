// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

// Hint is one change record from an external diff tool: the byte range
// [Offset, Offset+Length) either contains data (Exists) or is known to be
// unallocated/zero.
type Hint struct {
	Offset int64
	Length int64
	Exists bool
}

// blocksFromHints translates hints into the two disjoint index sets a
// hint-guided backup works from: readBlocks holds every block touched by
// an existing extent, plus the partial boundary blocks of any
// non-existing extent whose start or end is not block-aligned (those
// blocks are part data, part hole, so they must be read); sparseBlocks
// holds every block fully covered by a non-existing extent. A block in
// both sets is read.
func blocksFromHints(hints []Hint, blockSize int64) (readBlocks, sparseBlocks map[int]struct{}) {
	readBlocks = make(map[int]struct{})
	sparseBlocks = make(map[int]struct{})

	for _, h := range hints {
		if h.Length <= 0 {
			continue
		}
		first := h.Offset / blockSize
		last := (h.Offset + h.Length - 1) / blockSize

		if h.Exists {
			for i := first; i <= last; i++ {
				readBlocks[int(i)] = struct{}{}
			}
			continue
		}

		fullFirst, fullLast := first, last
		if h.Offset%blockSize != 0 {
			readBlocks[int(first)] = struct{}{}
			fullFirst = first + 1
		}
		if (h.Offset+h.Length)%blockSize != 0 {
			readBlocks[int(last)] = struct{}{}
			fullLast = last - 1
		}
		for i := fullFirst; i <= fullLast; i++ {
			sparseBlocks[int(i)] = struct{}{}
		}
	}

	for i := range readBlocks {
		delete(sparseBlocks, i)
	}
	return readBlocks, sparseBlocks
}
