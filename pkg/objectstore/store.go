// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/transform"
)

const metaSuffix = ".meta"
const blocksPrefix = "blocks/"
const versionsPrefix = "versions/"

// RawObjectStore is the minimal capability a storage backend must
// provide: opaque put/get/delete/list/stat of byte-addressed objects.
// Encryption, compression, envelopes, caching, and throttling are layered
// on top by Store and are identical across backends.
type RawObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Stat returns the length of the object at key without necessarily
	// reading its payload, used to validate a metadata-only read.
	Stat(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// BlockRef is the minimal block descriptor Store operations need: its
// storage identity and the plaintext checksum it is expected to carry.
type BlockRef struct {
	UID      blockuid.UID
	Size     int64
	Checksum string
}

// Config bundles the per-storage options that are storage-layer
// concerns: the transform pipeline, optional HMAC
// protection, consistency-check-on-write, and bandwidth throttling.
type Config struct {
	Pipeline               transform.Pipeline
	Registry               *transform.Registry
	HMACKey                []byte // nil disables HMAC protection
	ConsistencyCheckWrites bool
	ReadBytesPerSecond     int // 0 disables read throttling
	WriteBytesPerSecond    int // 0 disables write throttling
	RetryMaxElapsedTime    int // seconds; 0 uses backoff's default
}

// Store layers block and version semantics over a RawObjectStore: the
// transform pipeline, the metadata envelope, HMAC protection, the
// consistency check on write, and bandwidth throttling, applied
// uniformly across backends.
type Store struct {
	raw    RawObjectStore
	cfg    Config
	reader *rate.Limiter
	writer *rate.Limiter
}

// New wraps raw with the behavior described by cfg.
func New(raw RawObjectStore, cfg Config) *Store {
	s := &Store{raw: raw, cfg: cfg}
	if cfg.ReadBytesPerSecond > 0 {
		s.reader = rate.NewLimiter(rate.Limit(cfg.ReadBytesPerSecond), cfg.ReadBytesPerSecond)
	}
	if cfg.WriteBytesPerSecond > 0 {
		s.writer = rate.NewLimiter(rate.Limit(cfg.WriteBytesPerSecond), cfg.WriteBytesPerSecond)
	}
	return s
}

func (s *Store) throttle(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter == nil || n <= 0 {
		return nil
	}
	// A token bucket sized at its own rate limit only ever allows bursts
	// up to that size; reserve in the burst-sized chunk the bucket can
	// hold and wait out the remainder so arbitrarily large objects still
	// throttle correctly instead of failing a single over-burst request.
	burst := limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		n -= chunk
	}
	return nil
}

func (s *Store) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryMaxElapsedTime > 0 {
		b.MaxElapsedTime = time.Duration(s.cfg.RetryMaxElapsedTime) * time.Second
	}
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err == nil {
			return nil
		}
		if benjierrs.IsNotFound(err) {
			// Not-found is not transient: stop retrying and report it.
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// WriteBlock persists block's data plus its envelope, under the
// configured transform pipeline, retried on transient storage errors.
func (s *Store) WriteBlock(ctx context.Context, block BlockRef, data []byte) error {
	key := blocksPrefix + block.UID.Key()
	return s.write(ctx, key, data, block.Size, block.Checksum)
}

// WriteVersion persists a version export under the versions/ namespace.
// If overwrite is false and the key already exists, returns an
// already-exists error.
func (s *Store) WriteVersion(ctx context.Context, uid string, text string, overwrite bool) error {
	key := versionKey(uid)
	if !overwrite {
		if _, err := s.raw.Stat(ctx, key); err == nil {
			return benjierrs.Usage.New("version %s already exists in storage", uid)
		} else if !benjierrs.IsNotFound(err) {
			return err
		}
	}
	return s.write(ctx, key, []byte(text), int64(len(text)), "")
}

func (s *Store) write(ctx context.Context, key string, data []byte, declaredSize int64, checksum string) error {
	encapsulated, entries, err := s.cfg.Pipeline.Encapsulate(data)
	if err != nil {
		return err
	}

	env := Envelope{Size: declaredSize, ObjectSize: int64(len(encapsulated)), Checksum: checksum, Transforms: entries}
	if s.cfg.HMACKey != nil {
		if err := env.sign(s.cfg.HMACKey); err != nil {
			return err
		}
	}
	envJSON, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	if err := s.throttle(ctx, s.writer, len(encapsulated)+len(envJSON)); err != nil {
		return err
	}

	metaKey := key + metaSuffix
	writeErr := s.retry(ctx, func() error {
		if err := s.raw.Put(ctx, key, encapsulated); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		if err := s.raw.Put(ctx, metaKey, envJSON); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		return nil
	})
	if writeErr != nil {
		_ = s.raw.Delete(ctx, key)
		_ = s.raw.Delete(ctx, metaKey)
		return writeErr
	}

	if s.cfg.ConsistencyCheckWrites {
		roundTripped, _, err := s.read(ctx, key, false)
		if err != nil {
			return benjierrs.Internal.New("consistency check after write failed: %v", err)
		}
		if string(roundTripped) != string(data) {
			return benjierrs.Internal.New("written and read-back data differ for %s", key)
		}
	}
	return nil
}

// ReadBlock reads block's payload (unless metadataOnly) and envelope.
// When metadataOnly is true the returned data is nil.
func (s *Store) ReadBlock(ctx context.Context, block BlockRef, metadataOnly bool) ([]byte, Envelope, error) {
	key := blocksPrefix + block.UID.Key()
	return s.read(ctx, key, metadataOnly)
}

// ReadVersion reads back a version export's plaintext JSON.
func (s *Store) ReadVersion(ctx context.Context, uid string) (string, error) {
	key := versionKey(uid)
	data, _, err := s.read(ctx, key, false)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) read(ctx context.Context, key string, metadataOnly bool) ([]byte, Envelope, error) {
	metaKey := key + metaSuffix

	var envJSON []byte
	var rawData []byte
	var dataLen int64
	err := s.retry(ctx, func() error {
		var err error
		envJSON, err = s.raw.Get(ctx, metaKey)
		if err != nil {
			return classifyReadErr(err)
		}
		if metadataOnly {
			dataLen, err = s.raw.Stat(ctx, key)
			if err != nil {
				return classifyReadErr(err)
			}
		} else {
			rawData, err = s.raw.Get(ctx, key)
			if err != nil {
				return classifyReadErr(err)
			}
			dataLen = int64(len(rawData))
		}
		return nil
	})
	if err != nil {
		return nil, Envelope{}, err
	}

	if err := s.throttle(ctx, s.reader, len(rawData)+len(envJSON)); err != nil {
		return nil, Envelope{}, err
	}

	env, err := unmarshalEnvelope(envJSON)
	if err != nil {
		return nil, Envelope{}, err
	}
	if err := env.verify(s.cfg.HMACKey); err != nil {
		return nil, env, err
	}
	if dataLen != env.ObjectSize {
		return nil, env, benjierrs.Scrubbing.New(
			"length mismatch for object %s: envelope declares %d, storage has %d", key, env.ObjectSize, dataLen)
	}

	if metadataOnly {
		return nil, env, nil
	}

	plaintext := rawData
	if len(env.Transforms) > 0 {
		plaintext, err = transform.Decapsulate(s.cfg.Registry, rawData, env.Transforms)
		if err != nil {
			return nil, env, err
		}
	}
	if int64(len(plaintext)) != env.Size {
		return nil, env, benjierrs.Scrubbing.New(
			"length mismatch of decapsulated data for object %s: expected %d, got %d", key, env.Size, len(plaintext))
	}
	return plaintext, env, nil
}

// CheckMetadata verifies that a recorded block's expected size and
// checksum agree with env, and (if dataLen is non-negative) that the
// plaintext length recorded in env.Size matches dataLen. It does not
// itself read or rehash the payload; callers performing a deep check
// rehash separately and compare against block.Checksum.
func (s *Store) CheckMetadata(block BlockRef, env Envelope, dataLen int64) error {
	if env.Size != block.Size {
		return benjierrs.Scrubbing.New(
			"mismatch between recorded block size and envelope size for block (uid %s): expected %d, got %d",
			block.UID, block.Size, env.Size)
	}
	if dataLen >= 0 && dataLen != block.Size {
		return benjierrs.Scrubbing.New(
			"mismatch between recorded block size and actual data length for block (uid %s): expected %d, got %d",
			block.UID, block.Size, dataLen)
	}
	if block.Checksum != env.Checksum {
		return benjierrs.Scrubbing.New(
			"mismatch between recorded block checksum and envelope checksum for block (uid %s)", block.UID)
	}
	return nil
}

// RemoveBlock deletes a block's payload and envelope. Not-found is
// tolerated (many operations, e.g. cleanup, race with concurrent writers
// that never committed).
func (s *Store) RemoveBlock(ctx context.Context, uid blockuid.UID) error {
	key := blocksPrefix + uid.Key()
	return s.removeKey(ctx, key)
}

// RemoveVersion deletes a version export's payload and envelope.
func (s *Store) RemoveVersion(ctx context.Context, uid string) error {
	key := versionKey(uid)
	return s.removeKey(ctx, key)
}

func (s *Store) removeKey(ctx context.Context, key string) error {
	err1 := s.raw.Delete(ctx, key)
	err2 := s.raw.Delete(ctx, key+metaSuffix)
	if err1 != nil && !benjierrs.IsNotFound(err1) {
		return benjierrs.StorageIO.Wrap(err1)
	}
	if err2 != nil && !benjierrs.IsNotFound(err2) {
		return benjierrs.StorageIO.Wrap(err2)
	}
	return nil
}

// ListBlocks returns every block-UID currently present in storage,
// ignoring any stray keys that don't match the expected pattern.
func (s *Store) ListBlocks(ctx context.Context) ([]blockuid.UID, error) {
	keys, err := s.raw.List(ctx, blocksPrefix)
	if err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	var uids []blockuid.UID
	for _, key := range keys {
		if strings.HasSuffix(key, metaSuffix) {
			continue
		}
		trimmed := strings.TrimPrefix(key, blocksPrefix)
		parts := strings.Split(trimmed, "/")
		if len(parts) != 3 {
			continue
		}
		uid, err := blockuid.Parse(parts[2])
		if err != nil {
			continue
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

// versionKey shards a version export across the object store's
// namespace the same way block keys are sharded: two path components
// from the MD5 of the UID, used purely for fan-out.
func versionKey(uid string) string {
	sum := md5.Sum([]byte(uid))
	hexSum := hex.EncodeToString(sum[:])
	return versionsPrefix + hexSum[0:2] + "/" + hexSum[2:4] + "/" + uid
}

func classifyReadErr(err error) error {
	if benjierrs.IsNotFound(err) {
		return err
	}
	return benjierrs.StorageIO.Wrap(err)
}
