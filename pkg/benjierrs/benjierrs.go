// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package benjierrs defines the error kinds used throughout the engine,
// each as a distinct zeebo/errs class so callers can match on kind
// without parsing error strings.
package benjierrs

import (
	"errors"

	"github.com/zeebo/errs"
)

var (
	// Usage covers bad arguments, malformed filter/rules expressions, and
	// references to unknown storages. Surfaced directly; never retried.
	Usage = errs.Class("usage")

	// Configuration covers missing/invalid config fields and unknown
	// transform or hash names. Surfaced at startup; never retried.
	Configuration = errs.Class("configuration")

	// AlreadyLocked is returned when a named lock is held by another
	// holder. Callers may retry or pass OverrideLock.
	AlreadyLocked = errs.Class("already locked")

	// InputData covers a source that changed under a hint-guided backup
	// and corrupt import files. The version under construction is rolled
	// back before this error is returned.
	InputData = errs.Class("input data")

	// Scrubbing covers an integrity failure detected during scrub or
	// deep-scrub. The offending block and every version referencing it
	// are marked invalid in the same transaction before this is returned.
	Scrubbing = errs.Class("scrubbing")

	// StorageIO covers transient object-store errors. The storage layer
	// retries with bounded attempts and exponential backoff plus jitter
	// before surfacing this.
	StorageIO = errs.Class("storage i/o")

	// Internal covers invariant violations: submit/complete imbalance,
	// unexpected types, anything that should be unreachable. Never
	// swallowed.
	Internal = errs.Class("internal")
)

// NotFound represents an object/version/row that does not exist. Several
// operations tolerate not-found per-caller (remove_block, remove_version,
// cleanup).
type NotFound struct {
	error
}

// IsNotFound reports whether err was produced by NewNotFound or wraps one.
func IsNotFound(err error) bool {
	for err != nil {
		if _, ok := err.(NotFound); ok {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// NewNotFound builds a not-found condition.
func NewNotFound(format string, args ...interface{}) error {
	return NotFound{error: errs.New(format, args...)}
}
