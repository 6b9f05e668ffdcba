// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package filestore implements objectstore.RawObjectStore over a local
// directory, one file per object.
package filestore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"storj.io/benji/pkg/benjierrs"
)

// Store is a RawObjectStore backed by plain files under Root.
type Store struct {
	Root string
}

// New returns a filestore rooted at dir. The directory must already
// exist.
func New(dir string) *Store {
	return &Store{Root: dir}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.Root, filepath.FromSlash(key))
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, benjierrs.NewNotFound("object %s not found", key)
		}
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	return data, nil
}

func (s *Store) Stat(_ context.Context, key string) (int64, error) {
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, benjierrs.NewNotFound("object %s not found", key)
		}
		return 0, benjierrs.StorageIO.Wrap(err)
	}
	return info.Size(), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return benjierrs.NewNotFound("object %s not found", key)
		}
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	root := s.path(prefix)
	var keys []string
	err := filepath.WalkDir(filepath.Dir(root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasSuffix(key, ".tmp") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	return keys, nil
}
