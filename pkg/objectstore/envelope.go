// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objectstore implements the keyed blob store backups live in:
// two logical namespaces (blocks/ and versions/), each
// logical object persisted as a payload plus a JSON ".meta" envelope
// carrying declared size, encoded size, optional checksum, the ordered
// transform pipeline applied, and an optional HMAC over the envelope
// itself.
package objectstore

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/transform"
)

// Envelope is the JSON metadata sidecar for one stored object. Field
// names and presence rules are part of the on-disk format and must not
// change within a metadata_version.
type Envelope struct {
	Size       int64             `json:"size"`
	ObjectSize int64             `json:"object_size"`
	Checksum   string            `json:"checksum,omitempty"`
	Transforms []transform.Entry `json:"transforms,omitempty"`
	HMAC       string            `json:"hmac,omitempty"`
}

// canonicalFields is the subset of Envelope serialized for the HMAC
// computation: the full envelope minus the hmac field itself.
type canonicalFields struct {
	Size       int64             `json:"size"`
	ObjectSize int64             `json:"object_size"`
	Checksum   string            `json:"checksum,omitempty"`
	Transforms []transform.Entry `json:"transforms,omitempty"`
}

func (e Envelope) canonicalJSON() ([]byte, error) {
	fields := canonicalFields{
		Size:       e.Size,
		ObjectSize: e.ObjectSize,
		Checksum:   e.Checksum,
		Transforms: e.Transforms,
	}
	buf, err := json.Marshal(fields)
	if err != nil {
		return nil, benjierrs.Internal.Wrap(err)
	}
	return buf, nil
}

// sign computes the HMAC over the canonical serialization of e (minus the
// hmac field) with key, setting e.HMAC to the hex-encoded result.
func (e *Envelope) sign(key []byte) error {
	canonical, err := e.canonicalJSON()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	e.HMAC = hex.EncodeToString(mac.Sum(nil))
	return nil
}

// verify checks e.HMAC against key, returning a Scrubbing error on
// mismatch. A nil key means HMAC protection is not configured and verify
// is a no-op.
func (e Envelope) verify(key []byte) error {
	if key == nil {
		return nil
	}
	if e.HMAC == "" {
		return benjierrs.Scrubbing.New("envelope is missing required HMAC")
	}
	canonical, err := e.canonicalJSON()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(e.HMAC)
	if err != nil || !hmac.Equal(expected, got) {
		return benjierrs.Scrubbing.New("envelope HMAC verification failed")
	}
	return nil
}

// marshalEnvelope serializes e to the canonical on-disk JSON form.
func marshalEnvelope(e Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, benjierrs.Internal.Wrap(err)
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	return out, nil
}

func unmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, benjierrs.InputData.Wrap(err)
	}
	return e, nil
}
