// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package transform_test

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/benji/pkg/transform"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := io.ReadFull(rand.Reader, b)
	require.NoError(t, err)
	return b
}

func newTestRegistry(t *testing.T) *transform.Registry {
	t.Helper()
	kek := randBytes(t, 32)
	aesT, err := transform.NewAESGCMTransform("encrypt", kek)
	require.NoError(t, err)
	sbT, err := transform.NewSecretboxTransform("encrypt-sb", kek)
	require.NoError(t, err)

	registry, err := transform.NewRegistry(
		transform.NewZstdTransform("zstd-3", 3),
		transform.NewGzipTransform("gzip-6", 6),
		aesT,
		sbT,
	)
	require.NoError(t, err)
	return registry
}

func TestPipelineRoundTrip(t *testing.T) {
	registry := newTestRegistry(t)

	cases := [][]string{
		{"zstd-3"},
		{"gzip-6"},
		{"encrypt"},
		{"encrypt-sb"},
		{"zstd-3", "encrypt"},
		{"gzip-6", "encrypt-sb"},
	}

	for _, names := range cases {
		pipeline, err := transform.NewPipeline(registry, names)
		require.NoError(t, err)

		data := randBytes(t, 8192)
		encapsulated, entries, err := pipeline.Encapsulate(data)
		require.NoError(t, err)
		require.Len(t, entries, len(names))

		decapsulated, err := transform.Decapsulate(registry, encapsulated, entries)
		require.NoError(t, err)
		assert.Equal(t, data, decapsulated)
	}
}

func TestPipelineEmptyIsIdentity(t *testing.T) {
	registry := newTestRegistry(t)
	pipeline, err := transform.NewPipeline(registry, nil)
	require.NoError(t, err)

	data := randBytes(t, 128)
	out, entries, err := pipeline.Encapsulate(data)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, data, out)
}

func TestPipelineUnknownConfiguredTransform(t *testing.T) {
	registry := newTestRegistry(t)
	_, err := transform.NewPipeline(registry, []string{"does-not-exist"})
	assert.Error(t, err)
}

func TestDecapsulateUnknownTransformIsHardError(t *testing.T) {
	registry := newTestRegistry(t)
	entries := []transform.Entry{{Name: "vanished", Module: "zstd", Materials: nil}}
	_, err := transform.Decapsulate(registry, []byte("irrelevant"), entries)
	assert.Error(t, err)
}

func TestDecapsulateModuleMismatchIsHardError(t *testing.T) {
	registry := newTestRegistry(t)
	pipeline, err := transform.NewPipeline(registry, []string{"zstd-3"})
	require.NoError(t, err)

	data := randBytes(t, 64)
	encapsulated, entries, err := pipeline.Encapsulate(data)
	require.NoError(t, err)
	entries[0].Module = "gzip" // claims to be a different module than registered

	_, err = transform.Decapsulate(registry, encapsulated, entries)
	assert.Error(t, err)
}

func TestCompressionActuallyShrinksRepetitiveData(t *testing.T) {
	registry := newTestRegistry(t)
	pipeline, err := transform.NewPipeline(registry, []string{"zstd-3"})
	require.NoError(t, err)

	data := make([]byte, 64*1024)
	out, _, err := pipeline.Encapsulate(data)
	require.NoError(t, err)
	assert.Less(t, len(out), len(data)/4)
}

func TestEncryptionProducesDistinctCiphertextsForSameInput(t *testing.T) {
	registry := newTestRegistry(t)
	pipeline, err := transform.NewPipeline(registry, []string{"encrypt"})
	require.NoError(t, err)

	data := randBytes(t, 256)
	out1, _, err := pipeline.Encapsulate(data)
	require.NoError(t, err)
	out2, _, err := pipeline.Encapsulate(data)
	require.NoError(t, err)
	assert.NotEqual(t, out1, out2, "fresh nonces and data keys should randomize ciphertext")
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	derive := transform.DeriveKey(salt, 16384, 32)
	k1, err := derive("hunter2")
	require.NoError(t, err)
	k2, err := derive("hunter2")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := derive("different")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}
