// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package s3store implements objectstore.RawObjectStore against any
// S3-compatible endpoint via github.com/minio/minio-go.
package s3store

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go"

	"storj.io/benji/pkg/benjierrs"
)

// Store is a RawObjectStore backed by one S3 bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New builds a Store talking to endpoint (host[:port]) with the given
// credentials, against bucket, which must already exist.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, accessKey, secretKey, useSSL)
	if err != nil {
		return nil, benjierrs.Configuration.Wrap(err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

func (s *Store) Stat(_ context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, classify(err)
	}
	return info.Size, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.client.RemoveObject(s.bucket, key); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	done := make(chan struct{})
	defer close(done)

	var keys []string
	for obj := range s.client.ListObjectsV2(s.bucket, prefix, true, done) {
		if obj.Err != nil {
			return nil, benjierrs.StorageIO.Wrap(obj.Err)
		}
		select {
		case <-ctx.Done():
			return nil, benjierrs.StorageIO.Wrap(ctx.Err())
		default:
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func classify(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return benjierrs.NewNotFound("%v", err)
	}
	return benjierrs.StorageIO.Wrap(err)
}
