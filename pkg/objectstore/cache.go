// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockuid"
)

// ReadCache is an optional decorator in front of Store's block reads. It
// must store only already-verified (post-envelope-check, post-transform)
// bytes, never raw or unverified payloads, since a cache hit skips
// re-verification entirely.
type ReadCache interface {
	Get(uid blockuid.UID) ([]byte, bool)
	Put(uid blockuid.UID, data []byte)
}

// DiskLFUCache is an on-disk read cache keyed by block-UID, with an
// in-memory LFU-ish index (github.com/patrickmn/go-cache, evicting on a
// fixed expiration rather than true LFU recency — adequate for the
// read-mostly, write-rarely access pattern of backup block payloads)
// fronting files on disk. The index lives only in memory, so a new
// process starts with an empty cache and does not serve files an earlier
// process left in dir.
type DiskLFUCache struct {
	dir   string
	index *gocache.Cache
	limit int
}

// NewDiskLFUCache creates a cache rooted at dir (created if absent),
// holding at most limit entries in its hot index before the oldest
// untouched entries expire.
func NewDiskLFUCache(dir string, limit int) (*DiskLFUCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	return &DiskLFUCache{
		dir:   dir,
		index: gocache.New(1*time.Hour, 10*time.Minute),
		limit: limit,
	}, nil
}

func (c *DiskLFUCache) path(uid blockuid.UID) string {
	return filepath.Join(c.dir, uid.String())
}

// Get returns cached, already-verified bytes for uid, if present.
func (c *DiskLFUCache) Get(uid blockuid.UID) ([]byte, bool) {
	if _, ok := c.index.Get(uid.String()); !ok {
		return nil, false
	}
	data, err := os.ReadFile(c.path(uid))
	if err != nil {
		c.index.Delete(uid.String())
		return nil, false
	}
	return data, true
}

// Put stores data (which the caller must already have verified) under
// uid. If the index already holds limit entries, one entry is evicted
// first; which one is not defined (it is not the least recently used).
func (c *DiskLFUCache) Put(uid blockuid.UID, data []byte) {
	if c.index.ItemCount() >= c.limit {
		c.evictOne()
	}
	if err := os.WriteFile(c.path(uid), data, 0o644); err != nil {
		return
	}
	c.index.SetDefault(uid.String(), struct{}{})
}

func (c *DiskLFUCache) evictOne() {
	for key := range c.index.Items() {
		c.index.Delete(key)
		_ = os.Remove(filepath.Join(c.dir, key))
		return
	}
}

// CachedStore wraps a Store with a ReadCache in front of ReadBlock.
type CachedStore struct {
	*Store
	cache ReadCache
}

// NewCachedStore returns store decorated with cache.
func NewCachedStore(store *Store, cache ReadCache) *CachedStore {
	return &CachedStore{Store: store, cache: cache}
}

// ReadBlock serves from cache when possible; on a miss it delegates to
// the underlying Store and, for full (non-metadata-only) reads, populates
// the cache with the verified plaintext.
func (c *CachedStore) ReadBlock(ctx context.Context, block BlockRef, metadataOnly bool) ([]byte, Envelope, error) {
	if !metadataOnly {
		if data, ok := c.cache.Get(block.UID); ok {
			return data, Envelope{Size: int64(len(data)), Checksum: block.Checksum}, nil
		}
	}
	data, env, err := c.Store.ReadBlock(ctx, block, metadataOnly)
	if err != nil {
		return nil, env, err
	}
	if !metadataOnly && data != nil {
		c.cache.Put(block.UID, data)
	}
	return data, env, nil
}
