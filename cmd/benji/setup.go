// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"encoding/hex"

	"go.uber.org/zap"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/config"
	"storj.io/benji/pkg/engine"
	_ "storj.io/benji/pkg/ioadapter/file"
	_ "storj.io/benji/pkg/ioadapter/iscsi"
	_ "storj.io/benji/pkg/ioadapter/rbd"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/postgres"
	"storj.io/benji/pkg/metadata/sqlite"
	"storj.io/benji/pkg/objectstore"
	"storj.io/benji/pkg/objectstore/b2store"
	"storj.io/benji/pkg/objectstore/filestore"
	"storj.io/benji/pkg/objectstore/s3store"
	"storj.io/benji/pkg/transform"
)

// buildEngine wires the configured metadata store, object storages, and
// engine together. The returned close function releases the metadata
// store's connections.
func buildEngine(ctx context.Context, log *zap.Logger, cfg *config.Config) (*engine.Engine, metadata.Store, func(), error) {
	var meta metadata.Store
	var err error
	switch cfg.Database.Engine {
	case "sqlite":
		meta, err = sqlite.Open(cfg.Database.DSN)
	case "postgres":
		meta, err = postgres.Open(cfg.Database.DSN)
	default:
		err = benjierrs.Configuration.New("unknown database engine %q", cfg.Database.Engine)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	storages := make(map[string]engine.BlockStore, len(cfg.Storages))
	for i := range cfg.Storages {
		store, serr := buildStorage(ctx, &cfg.Storages[i])
		if serr != nil {
			_ = meta.Close()
			return nil, nil, nil, serr
		}
		storages[cfg.Storages[i].Name] = store
	}

	eng, err := engine.New(log, meta, storages, engine.Config{
		Hash:                      cfg.Hash,
		BlockSize:                 cfg.BlockSize,
		DefaultStorage:            cfg.DefaultStorage,
		SimultaneousReads:         cfg.SimultaneousReads,
		SimultaneousWrites:        cfg.SimultaneousWrites,
		SimultaneousStorageReads:  cfg.SimultaneousStorageReads,
		SimultaneousStorageWrites: cfg.SimultaneousStorageWrites,
		CommitEveryNBlocks:        cfg.CommitEveryNBlocks,
	})
	if err != nil {
		_ = meta.Close()
		return nil, nil, nil, err
	}
	return eng, meta, func() { _ = meta.Close() }, nil
}

func buildStorage(ctx context.Context, sc *config.Storage) (engine.BlockStore, error) {
	var raw objectstore.RawObjectStore
	var err error
	switch sc.Type {
	case "file":
		raw = filestore.New(sc.Path)
	case "s3":
		raw, err = s3store.New(sc.Endpoint, sc.AccessKey, sc.SecretKey, sc.Bucket, sc.UseSSL)
	case "b2":
		raw, err = b2store.New(ctx, sc.AccountID, sc.ApplicationKey, sc.Bucket)
	default:
		err = benjierrs.Configuration.New("unknown storage type %q", sc.Type)
	}
	if err != nil {
		return nil, err
	}

	registry, pipeline, err := buildTransforms(sc)
	if err != nil {
		return nil, err
	}
	hmacKey, err := buildHMACKey(sc.HMAC)
	if err != nil {
		return nil, err
	}

	store := objectstore.New(raw, objectstore.Config{
		Pipeline:               pipeline,
		Registry:               registry,
		HMACKey:                hmacKey,
		ConsistencyCheckWrites: sc.ConsistencyCheckWrites,
		ReadBytesPerSecond:     sc.ReadBytesPerSecond,
		WriteBytesPerSecond:    sc.WriteBytesPerSecond,
	})
	if sc.ReadCache == nil {
		return store, nil
	}

	cache, err := objectstore.NewDiskLFUCache(sc.ReadCache.Path, sc.ReadCache.MaxEntries)
	if err != nil {
		return nil, err
	}
	return objectstore.NewCachedStore(store, cache), nil
}

func buildTransforms(sc *config.Storage) (*transform.Registry, transform.Pipeline, error) {
	var transforms []transform.Transform
	for _, tc := range sc.Transforms {
		t, err := buildTransform(tc)
		if err != nil {
			return nil, transform.Pipeline{}, err
		}
		transforms = append(transforms, t)
	}
	registry, err := transform.NewRegistry(transforms...)
	if err != nil {
		return nil, transform.Pipeline{}, err
	}
	pipeline, err := transform.NewPipeline(registry, sc.ActiveTransforms)
	if err != nil {
		return nil, transform.Pipeline{}, err
	}
	return registry, pipeline, nil
}

func buildTransform(tc config.Transform) (transform.Transform, error) {
	switch tc.Module {
	case "zstd":
		return transform.NewZstdTransform(tc.Name, tc.Level), nil
	case "gzip":
		return transform.NewGzipTransform(tc.Name, tc.Level), nil
	case "aes-gcm":
		kek, err := hex.DecodeString(tc.MasterKeyHex)
		if err != nil {
			return nil, benjierrs.Configuration.New("transform %q: malformed masterKey: %v", tc.Name, err)
		}
		return transform.NewAESGCMTransform(tc.Name, kek)
	case "secretbox":
		kek, err := hex.DecodeString(tc.MasterKeyHex)
		if err != nil {
			return nil, benjierrs.Configuration.New("transform %q: malformed masterKey: %v", tc.Name, err)
		}
		return transform.NewSecretboxTransform(tc.Name, kek)
	default:
		return nil, benjierrs.Configuration.New("unknown transform module %q", tc.Module)
	}
}

func buildHMACKey(hc *config.HMAC) ([]byte, error) {
	if hc == nil {
		return nil, nil
	}
	if hc.KeyHex != "" {
		key, err := hex.DecodeString(hc.KeyHex)
		if err != nil {
			return nil, benjierrs.Configuration.New("malformed hmac key: %v", err)
		}
		return key, nil
	}
	salt, err := hex.DecodeString(hc.KDFSaltHex)
	if err != nil {
		return nil, benjierrs.Configuration.New("malformed hmac kdfSalt: %v", err)
	}
	return transform.DeriveKey(salt, hc.KDFIterations, 32)(hc.Password)
}
