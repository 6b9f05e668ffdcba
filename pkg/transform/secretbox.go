// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package transform

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"storj.io/benji/pkg/benjierrs"
)

// SecretboxModule is the module identifier recorded in the envelope for
// every instance of SecretboxTransform.
const SecretboxModule = "secretbox"

const (
	secretboxKeySize   = 32
	secretboxNonceSize = 24
)

// SecretboxTransform provides authenticated encryption via
// golang.org/x/crypto/nacl/secretbox, wrapping a per-object random data
// key under a node-held KEK exactly as AESGCMTransform does.
type SecretboxTransform struct {
	name string
	kek  [secretboxKeySize]byte
}

// NewSecretboxTransform builds a secretbox encryption transform
// registered under name, wrapping per-object data keys with kek (which
// must be exactly 32 bytes).
func NewSecretboxTransform(name string, kek []byte) (*SecretboxTransform, error) {
	if len(kek) != secretboxKeySize {
		return nil, benjierrs.Configuration.New("secretbox key-encryption key must be %d bytes, got %d", secretboxKeySize, len(kek))
	}
	t := &SecretboxTransform{name: name}
	copy(t.kek[:], kek)
	return t, nil
}

func (s *SecretboxTransform) Name() string   { return s.name }
func (s *SecretboxTransform) Module() string { return SecretboxModule }

func (s *SecretboxTransform) Encapsulate(data []byte) ([]byte, map[string]string, error) {
	var dataKey [secretboxKeySize]byte
	if _, err := io.ReadFull(rand.Reader, dataKey[:]); err != nil {
		return nil, nil, benjierrs.Internal.Wrap(err)
	}

	ciphertext, nonce, err := secretboxSeal(&dataKey, data)
	if err != nil {
		return nil, nil, err
	}

	wrappedKey, keyNonce, err := secretboxSeal(&s.kek, dataKey[:])
	if err != nil {
		return nil, nil, err
	}

	materials := map[string]string{
		"nonce":       hex.EncodeToString(nonce[:]),
		"wrapped_key": hex.EncodeToString(wrappedKey),
		"key_nonce":   hex.EncodeToString(keyNonce[:]),
	}
	return ciphertext, materials, nil
}

func (s *SecretboxTransform) Decapsulate(data []byte, materials map[string]string) ([]byte, error) {
	nonce, wrappedKey, keyNonce, err := decodeSecretboxMaterials(materials)
	if err != nil {
		return nil, err
	}

	dataKeyBytes, ok := secretbox.Open(nil, wrappedKey, &keyNonce, &s.kek)
	if !ok {
		return nil, benjierrs.Scrubbing.New("unwrapping data key: authentication failed")
	}
	if len(dataKeyBytes) != secretboxKeySize {
		return nil, benjierrs.Scrubbing.New("unwrapped data key has wrong length %d", len(dataKeyBytes))
	}
	var dataKey [secretboxKeySize]byte
	copy(dataKey[:], dataKeyBytes)

	plaintext, ok := secretbox.Open(nil, data, &nonce, &dataKey)
	if !ok {
		return nil, benjierrs.Scrubbing.New("decrypting payload: authentication failed")
	}
	return plaintext, nil
}

func decodeSecretboxMaterials(materials map[string]string) (nonce [secretboxNonceSize]byte, wrappedKey []byte, keyNonce [secretboxNonceSize]byte, err error) {
	for _, name := range []string{"nonce", "wrapped_key", "key_nonce"} {
		if _, ok := materials[name]; !ok {
			return nonce, nil, keyNonce, benjierrs.InputData.New("secretbox materials missing %q", name)
		}
	}
	nonceBytes, err := hex.DecodeString(materials["nonce"])
	if err != nil || len(nonceBytes) != secretboxNonceSize {
		return nonce, nil, keyNonce, benjierrs.InputData.New("secretbox materials have a malformed nonce")
	}
	copy(nonce[:], nonceBytes)

	if wrappedKey, err = hex.DecodeString(materials["wrapped_key"]); err != nil {
		return nonce, nil, keyNonce, benjierrs.InputData.Wrap(err)
	}

	keyNonceBytes, err := hex.DecodeString(materials["key_nonce"])
	if err != nil || len(keyNonceBytes) != secretboxNonceSize {
		return nonce, nil, keyNonce, benjierrs.InputData.New("secretbox materials have a malformed key_nonce")
	}
	copy(keyNonce[:], keyNonceBytes)

	return nonce, wrappedKey, keyNonce, nil
}

func secretboxSeal(key *[secretboxKeySize]byte, plaintext []byte) (ciphertext []byte, nonce [secretboxNonceSize]byte, err error) {
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, nonce, benjierrs.Internal.Wrap(err)
	}
	return secretbox.Seal(nil, plaintext, &nonce, key), nonce, nil
}
