// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blockhash computes the deterministic content fingerprint used
// both for dedup lookup and for post-read verification. The hash function
// is configuration-driven, looked up by name from a fixed registry so
// every algorithm choice is collision-resistant in the cryptographic
// sense; weak hashes are rejected at configuration time.
package blockhash

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"sync"

	"golang.org/x/crypto/blake2b"

	"storj.io/benji/pkg/benjierrs"
)

// MaxDigestBytes is the fixed ceiling on raw digest length (512-bit hash,
// 128 hex characters).
const MaxDigestBytes = 64

type factory func() hash.Hash

var registry = map[string]factory{
	"sha256": sha256.New,
	"sha512": sha512.New,
	"blake2b-256": func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err) // unreachable: nil key is always accepted
		}
		return h
	},
	"blake2b-512": func() hash.Hash {
		h, err := blake2b.New512(nil)
		if err != nil {
			panic(err)
		}
		return h
	},
}

// Supported reports whether algorithm is a known, registered digest name.
func Supported(algorithm string) bool {
	_, ok := registry[algorithm]
	return ok
}

// Digest computes the hex-encoded digest of data under the named
// algorithm. An unknown algorithm name is a Configuration error.
func Digest(algorithm string, data []byte) (string, error) {
	newHash, ok := registry[algorithm]
	if !ok {
		return "", benjierrs.Configuration.New("unknown hash algorithm %q", algorithm)
	}
	h := newHash()
	if h.Size() > MaxDigestBytes {
		return "", benjierrs.Configuration.New("hash algorithm %q exceeds the %d byte digest ceiling", algorithm, MaxDigestBytes)
	}
	_, _ = h.Write(data) // hash.Hash.Write never returns an error
	return hex.EncodeToString(h.Sum(nil)), nil
}

var zeroDigestCache sync.Map // map[zeroDigestKey]string

type zeroDigestKey struct {
	algorithm string
	blockSize int
}

// ZeroDigest returns the digest of a block of blockSize zero bytes under
// algorithm, memoized per (algorithm, blockSize) pair. The Engine's
// sparse-detection fast path compares every freshly read block's digest
// against this value.
func ZeroDigest(algorithm string, blockSize int) (string, error) {
	key := zeroDigestKey{algorithm, blockSize}
	if v, ok := zeroDigestCache.Load(key); ok {
		return v.(string), nil
	}
	digest, err := Digest(algorithm, make([]byte, blockSize))
	if err != nil {
		return "", err
	}
	zeroDigestCache.Store(key, digest)
	return digest, nil
}
