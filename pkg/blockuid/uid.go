// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blockuid implements the globally-unique identifier assigned to
// every block payload stored in object storage.
//
// A UID is the pair (left, right): left is the numeric id of the version
// that minted the block, right is the block's index within that version
// plus one. Because version ids are assigned by the metadata store's
// autoincrement column, no coordination between concurrent backups is
// needed to guarantee uniqueness.
package blockuid

import (
	"crypto/md5"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
)

// UID identifies a stored block payload. A sparse block has both halves
// nil: it has no object in storage.
type UID struct {
	Left  *int64
	Right *int64
}

// New returns the UID minted for block index idx (zero-based) of the
// version with numeric id versionID.
func New(versionID int64, idx int) UID {
	left := versionID
	right := int64(idx) + 1
	return UID{Left: &left, Right: &right}
}

// Sparse is the zero value in both fields: it represents a block known to
// be all-zero, with no backing object.
var Sparse = UID{}

// IsSparse reports whether u carries no object reference.
func (u UID) IsSparse() bool {
	return u.Left == nil || u.Right == nil
}

// Equal reports whether u and other reference the same object, or are
// both sparse.
func (u UID) Equal(other UID) bool {
	if u.IsSparse() || other.IsSparse() {
		return u.IsSparse() && other.IsSparse()
	}
	return *u.Left == *other.Left && *u.Right == *other.Right
}

// Less orders UIDs by (left, right), treating sparse as (0, 0). Used only
// for deterministic iteration order, never for identity.
func (u UID) Less(other UID) bool {
	ul, ur := u.numbers()
	ol, or := other.numbers()
	if ul != ol {
		return ul < ol
	}
	return ur < or
}

func (u UID) numbers() (left, right int64) {
	if u.Left != nil {
		left = *u.Left
	}
	if u.Right != nil {
		right = *u.Right
	}
	return left, right
}

// String renders the UID as "<left-hex-16>-<right-hex-16>", using 0 for a
// sparse half. This is the canonical form embedded in object keys.
func (u UID) String() string {
	left, right := u.numbers()
	return fmt.Sprintf("%016x-%016x", uint64(left), uint64(right))
}

// Parse reverses String.
func Parse(s string) (UID, error) {
	if len(s) != 33 || s[16] != '-' {
		return UID{}, fmt.Errorf("blockuid: malformed key %q", s)
	}
	leftBytes, err := hex.DecodeString(s[:16])
	if err != nil {
		return UID{}, fmt.Errorf("blockuid: malformed left half of %q: %w", s, err)
	}
	rightBytes, err := hex.DecodeString(s[17:])
	if err != nil {
		return UID{}, fmt.Errorf("blockuid: malformed right half of %q: %w", s, err)
	}
	left := int64(beUint64(leftBytes))
	right := int64(beUint64(rightBytes))
	if left == 0 && right == 0 {
		return Sparse, nil
	}
	return UID{Left: &left, Right: &right}, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// ShardPrefix returns the two path components used to fan a block's object
// key out across an object store's namespace, per the "blocks/<mm>/<nn>/..."
// key layout: the first four hex characters of MD5(uid.String()).
func (u UID) ShardPrefix() (mm, nn string) {
	sum := md5.Sum([]byte(u.String()))
	hexSum := hex.EncodeToString(sum[:])
	return hexSum[0:2], hexSum[2:4]
}

// Key returns the full object key for the block payload, without the
// "blocks/" namespace prefix included by the caller.
func (u UID) Key() string {
	mm, nn := u.ShardPrefix()
	return fmt.Sprintf("%s/%s/%s", mm, nn, u.String())
}

// Value implements driver.Valuer: UID is stored as two nullable BIGINT
// columns, so callers persist Left and Right independently rather than
// through this interface. Value exists so a UID can be logged/compared
// as a single opaque value where convenient.
func (u UID) Value() (driver.Value, error) {
	if u.IsSparse() {
		return nil, nil
	}
	return u.String(), nil
}
