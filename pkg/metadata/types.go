// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package metadata implements the transactional relational index of
// versions, blocks, labels, deleted-block tombstones, and named locks:
// the single source of truth the Engine queries for dedup lookups and
// mutates for every backup, restore, scrub, and retention decision.
package metadata

import (
	"time"

	"storj.io/benji/pkg/blockuid"
)

// Status is a version's lifecycle state.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusValid      Status = "valid"
	StatusInvalid    Status = "invalid"
)

// Stats records optional backup statistics accumulated while a version
// was being written.
type Stats struct {
	BytesRead         int64
	BytesWritten      int64
	BytesDeduplicated int64
	BytesSparse       int64
	Duration          time.Duration
}

// Version is a point-in-time snapshot of one logical volume.
type Version struct {
	ID         int64 // numeric id, the left half of every block-UID this version mints
	UID        string
	Volume     string
	Snapshot   string
	Size       int64
	BlockSize  int64
	Storage    string
	Status     Status
	Protected  bool
	CreatedAt  time.Time
	Stats      Stats
	Labels     map[string]string
}

// StringUID renders a version's canonical "V0000000001" form from its
// numeric id.
func StringUID(id int64) string {
	return VersionUID(id).String()
}

// VersionUID is the numeric id underlying a version's canonical string
// form.
type VersionUID int64

// String renders the canonical "V<10-digit zero-padded id>" form.
func (v VersionUID) String() string {
	return zeroPad(int64(v))
}

func zeroPad(id int64) string {
	s := []byte("V0000000000")
	digits := []byte(itoa(id))
	copy(s[len(s)-len(digits):], digits)
	return string(s)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Block is one entry in a version's ordered block sequence.
type Block struct {
	VersionID int64
	Idx       int
	UID       blockuid.UID
	Size      int64
	Valid     bool
	Checksum  string // empty for a sparse block
}

// Tombstone records a block-UID dereferenced by a version removal,
// pending garbage collection once the grace period elapses.
type Tombstone struct {
	UID       blockuid.UID
	Storage   string
	DeletedAt time.Time
}

// LockInfo is a named mutex persisted in the metadata store.
type LockInfo struct {
	Name      string
	Host      string
	ProcessID string
	Reason    string
	LockedAt  time.Time
}

// Storage is a named object-storage target, identified by a stable small
// integer id so block/version references stay short.
type Storage struct {
	ID   int64
	Name string
}
