// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"

	"storj.io/benji/pkg/benjierrs"
)

// AESGCMModule is the module identifier recorded in the envelope for
// every instance of AESGCMTransform.
const AESGCMModule = "aes-gcm"

const (
	aesKeySize   = 32 // AES-256
	aesNonceSize = 12 // standard GCM nonce
)

// AESGCMTransform provides authenticated encryption with a per-object
// random data key wrapped under a node-held key-encryption key (KEK).
// Wrapping a fresh data key per object, rather than reusing the KEK
// directly, bounds the amount of ciphertext ever encrypted under one key
// and lets the KEK be rotated without re-encrypting existing objects.
type AESGCMTransform struct {
	name string
	kek  [aesKeySize]byte
}

// NewAESGCMTransform builds an AES-256-GCM encryption transform
// registered under name, wrapping per-object data keys with kek (which
// must be exactly 32 bytes — derive it with DeriveKey if starting from a
// password).
func NewAESGCMTransform(name string, kek []byte) (*AESGCMTransform, error) {
	if len(kek) != aesKeySize {
		return nil, benjierrs.Configuration.New("aes-gcm key-encryption key must be %d bytes, got %d", aesKeySize, len(kek))
	}
	t := &AESGCMTransform{name: name}
	copy(t.kek[:], kek)
	return t, nil
}

func (a *AESGCMTransform) Name() string   { return a.name }
func (a *AESGCMTransform) Module() string { return AESGCMModule }

func (a *AESGCMTransform) Encapsulate(data []byte) ([]byte, map[string]string, error) {
	dataKey := make([]byte, aesKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, nil, benjierrs.Internal.Wrap(err)
	}

	ciphertext, nonce, err := aesGCMSeal(dataKey, data)
	if err != nil {
		return nil, nil, err
	}

	wrappedKey, keyNonce, err := aesGCMSeal(a.kek[:], dataKey)
	if err != nil {
		return nil, nil, err
	}

	materials := map[string]string{
		"nonce":       hex.EncodeToString(nonce),
		"wrapped_key": hex.EncodeToString(wrappedKey),
		"key_nonce":   hex.EncodeToString(keyNonce),
	}
	return ciphertext, materials, nil
}

func (a *AESGCMTransform) Decapsulate(data []byte, materials map[string]string) ([]byte, error) {
	nonce, wrappedKey, keyNonce, err := decodeAESGCMMaterials(materials)
	if err != nil {
		return nil, err
	}

	dataKey, err := aesGCMOpen(a.kek[:], wrappedKey, keyNonce)
	if err != nil {
		return nil, benjierrs.Scrubbing.New("unwrapping data key: %v", err)
	}

	plaintext, err := aesGCMOpen(dataKey, data, nonce)
	if err != nil {
		return nil, benjierrs.Scrubbing.New("decrypting payload: %v", err)
	}
	return plaintext, nil
}

func decodeAESGCMMaterials(materials map[string]string) (nonce, wrappedKey, keyNonce []byte, err error) {
	for _, name := range []string{"nonce", "wrapped_key", "key_nonce"} {
		if _, ok := materials[name]; !ok {
			return nil, nil, nil, benjierrs.InputData.New("aes-gcm materials missing %q", name)
		}
	}
	if nonce, err = hex.DecodeString(materials["nonce"]); err != nil {
		return nil, nil, nil, benjierrs.InputData.Wrap(err)
	}
	if wrappedKey, err = hex.DecodeString(materials["wrapped_key"]); err != nil {
		return nil, nil, nil, benjierrs.InputData.Wrap(err)
	}
	if keyNonce, err = hex.DecodeString(materials["key_nonce"]); err != nil {
		return nil, nil, nil, benjierrs.InputData.Wrap(err)
	}
	return nonce, wrappedKey, keyNonce, nil
}

func aesGCMSeal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aesNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, benjierrs.Internal.Wrap(err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func aesGCMOpen(key, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, benjierrs.Internal.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, benjierrs.Internal.Wrap(err)
	}
	return gcm, nil
}
