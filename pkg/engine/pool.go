// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package engine

import (
	"golang.org/x/sync/errgroup"
)

// startWorkers launches n workers draining jobs through fn, sending one
// result per job to done. Workers exit when jobs is closed; callers wait
// on the returned group after closing jobs and receiving every result.
// Worker-level failures travel inside the result type, so the group
// itself never errors.
func startWorkers[J, R any](n int, jobs <-chan J, done chan<- R, fn func(J) R) *errgroup.Group {
	var group errgroup.Group
	for i := 0; i < n; i++ {
		group.Go(func() error {
			for j := range jobs {
				done <- fn(j)
			}
			return nil
		})
	}
	return &group
}

// tally tracks the submitted/completed pair of one pool direction. The
// two must be equal at the end of every operation; an imbalance is an
// internal invariant violation.
type tally struct {
	submitted int64
	completed int64
}

func (t *tally) balanced() bool { return t.submitted == t.completed }
