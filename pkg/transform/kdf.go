// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package transform

import (
	"golang.org/x/crypto/scrypt"

	"storj.io/benji/pkg/benjierrs"
)

// DeriveKey derives a keyLength-byte key from password using scrypt with
// the given salt and iteration count, for operators who configure a
// passphrase rather than a raw key for a storage's HMAC or encryption
// key-encryption key.
func DeriveKey(salt []byte, iterations, keyLength int) func(password string) ([]byte, error) {
	return func(password string) ([]byte, error) {
		key, err := scrypt.Key([]byte(password), salt, iterations, 8, 1, keyLength)
		if err != nil {
			return nil, benjierrs.Configuration.Wrap(err)
		}
		return key, nil
	}
}
