// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package b2store implements objectstore.RawObjectStore against
// Backblaze B2 via github.com/kurin/blazer.
package b2store

import (
	"bytes"
	"context"
	"io"

	"github.com/kurin/blazer/b2"

	"storj.io/benji/pkg/benjierrs"
)

// Store is a RawObjectStore backed by one B2 bucket.
type Store struct {
	bucket *b2.Bucket
}

// New authenticates against B2 with keyID/key and returns a Store bound
// to bucketName, which must already exist.
func New(ctx context.Context, keyID, key, bucketName string) (*Store, error) {
	client, err := b2.NewClient(ctx, keyID, key)
	if err != nil {
		return nil, benjierrs.Configuration.Wrap(err)
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, benjierrs.Configuration.Wrap(err)
	}
	return &Store{bucket: bucket}, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return benjierrs.StorageIO.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r := s.bucket.Object(key).NewReader(ctx)
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

func (s *Store) Stat(ctx context.Context, key string) (int64, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return attrs.Size, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.bucket.List(ctx, b2.ListPrefix(prefix))
	for iter.Next() {
		keys = append(keys, iter.Object().Name())
	}
	if err := iter.Err(); err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	return keys, nil
}

func classify(err error) error {
	if b2.IsNotExist(err) {
		return benjierrs.NewNotFound("%v", err)
	}
	return benjierrs.StorageIO.Wrap(err)
}
