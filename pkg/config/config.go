// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package config loads and validates the YAML configuration file that
// wires together the metadata database, the object storages with their
// transform pipelines, and the engine tunables. The schema is versioned;
// a file whose configurationVersion this build doesn't understand is
// refused outright rather than half-interpreted.
package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockhash"
)

// CurrentVersion is the configurationVersion this build reads.
const CurrentVersion = "1"

// EnvInstanceName overrides the configured instance name, so one config
// file can be shared by several named deployments.
const EnvInstanceName = "BENJI_INSTANCE"

// Config is the root of the configuration file.
type Config struct {
	ConfigurationVersion string `yaml:"configurationVersion"`
	InstanceName         string `yaml:"instanceName"`
	LogLevel             string `yaml:"logLevel"`

	Hash               string `yaml:"hash"`
	BlockSize          int64  `yaml:"blockSize"`
	CommitEveryNBlocks int    `yaml:"commitEveryNBlocks"`

	Database       Database  `yaml:"database"`
	DefaultStorage string    `yaml:"defaultStorage"`
	Storages       []Storage `yaml:"storages"`

	SimultaneousReads         int `yaml:"simultaneousReads"`
	SimultaneousWrites        int `yaml:"simultaneousWrites"`
	SimultaneousStorageReads  int `yaml:"simultaneousStorageReads"`
	SimultaneousStorageWrites int `yaml:"simultaneousStorageWrites"`
}

// Database selects and parameterizes the metadata store backend.
type Database struct {
	// Engine is "sqlite" or "postgres".
	Engine string `yaml:"engine"`
	// DSN is the database file path for sqlite, or a lib/pq connection
	// string for postgres.
	DSN string `yaml:"dsn"`
}

// Storage configures one named object-storage target.
type Storage struct {
	Name string `yaml:"name"`
	// Type is "file", "s3", or "b2".
	Type string `yaml:"type"`

	// File backend.
	Path string `yaml:"path"`

	// S3 backend.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`

	// B2 backend.
	AccountID      string `yaml:"accountId"`
	ApplicationKey string `yaml:"applicationKey"`

	// Transforms declares every transform instance this node knows about
	// (including retired ones still needed to read old objects);
	// ActiveTransforms names, in order, the ones applied to new writes.
	Transforms       []Transform `yaml:"transforms"`
	ActiveTransforms []string    `yaml:"activeTransforms"`

	// HMAC protects object envelopes against tampering.
	HMAC *HMAC `yaml:"hmac"`

	ConsistencyCheckWrites bool `yaml:"consistencyCheckWrites"`
	ReadBytesPerSecond     int  `yaml:"bandwidthRead"`
	WriteBytesPerSecond    int  `yaml:"bandwidthWrite"`

	// ReadCache, if set, fronts block reads with an on-disk cache.
	ReadCache *ReadCache `yaml:"readCache"`
}

// Transform configures one transform instance.
type Transform struct {
	Name string `yaml:"name"`
	// Module is "zstd", "gzip", "aes-gcm", or "secretbox".
	Module string `yaml:"module"`
	// Level applies to the compression modules.
	Level int `yaml:"level"`
	// MasterKeyHex is the hex-encoded key-encryption key for the
	// encryption modules.
	MasterKeyHex string `yaml:"masterKey"`
}

// HMAC configures envelope authentication. Either a raw hex key or a
// password with scrypt KDF parameters.
type HMAC struct {
	KeyHex        string `yaml:"key"`
	Password      string `yaml:"password"`
	KDFSaltHex    string `yaml:"kdfSalt"`
	KDFIterations int    `yaml:"kdfIterations"`
}

// ReadCache configures the optional on-disk block read cache.
type ReadCache struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"maxEntries"`
}

// Load reads, parses, and validates the configuration file at path,
// applying environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, benjierrs.Configuration.Wrap(err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, benjierrs.Configuration.New("malformed configuration: %v", err)
	}
	if name := os.Getenv(EnvInstanceName); name != "" {
		cfg.InstanceName = name
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.ConfigurationVersion != CurrentVersion {
		return benjierrs.Configuration.New(
			"unsupported configurationVersion %q (this build reads %q)", cfg.ConfigurationVersion, CurrentVersion)
	}
	if cfg.Hash != "" && !blockhash.Supported(cfg.Hash) {
		return benjierrs.Configuration.New("unknown hash algorithm %q", cfg.Hash)
	}
	if cfg.BlockSize < 0 {
		return benjierrs.Configuration.New("blockSize must not be negative")
	}

	switch cfg.Database.Engine {
	case "sqlite", "postgres":
	case "":
		return benjierrs.Configuration.New("database.engine is required")
	default:
		return benjierrs.Configuration.New("unknown database engine %q", cfg.Database.Engine)
	}
	if cfg.Database.DSN == "" {
		return benjierrs.Configuration.New("database.dsn is required")
	}

	if len(cfg.Storages) == 0 {
		return benjierrs.Configuration.New("at least one storage must be configured")
	}
	seen := map[string]bool{}
	for i := range cfg.Storages {
		s := &cfg.Storages[i]
		if s.Name == "" {
			return benjierrs.Configuration.New("storage %d has no name", i)
		}
		if seen[s.Name] {
			return benjierrs.Configuration.New("duplicate storage name %q", s.Name)
		}
		seen[s.Name] = true
		if err := s.validate(); err != nil {
			return err
		}
	}

	if cfg.DefaultStorage == "" {
		cfg.DefaultStorage = cfg.Storages[0].Name
	} else if !seen[cfg.DefaultStorage] {
		return benjierrs.Configuration.New("defaultStorage %q is not a configured storage", cfg.DefaultStorage)
	}
	return nil
}

func (s *Storage) validate() error {
	switch s.Type {
	case "file":
		if s.Path == "" {
			return benjierrs.Configuration.New("storage %q: file storage needs a path", s.Name)
		}
	case "s3":
		if s.Endpoint == "" || s.Bucket == "" {
			return benjierrs.Configuration.New("storage %q: s3 storage needs endpoint and bucket", s.Name)
		}
	case "b2":
		if s.AccountID == "" || s.Bucket == "" {
			return benjierrs.Configuration.New("storage %q: b2 storage needs accountId and bucket", s.Name)
		}
	default:
		return benjierrs.Configuration.New("storage %q: unknown type %q", s.Name, s.Type)
	}

	declared := map[string]bool{}
	for _, tr := range s.Transforms {
		if tr.Name == "" {
			return benjierrs.Configuration.New("storage %q: transform with empty name", s.Name)
		}
		if declared[tr.Name] {
			return benjierrs.Configuration.New("storage %q: duplicate transform name %q", s.Name, tr.Name)
		}
		declared[tr.Name] = true
		switch tr.Module {
		case "zstd", "gzip", "aes-gcm", "secretbox":
		default:
			return benjierrs.Configuration.New("storage %q: unknown transform module %q", s.Name, tr.Module)
		}
	}
	for _, name := range s.ActiveTransforms {
		if !declared[name] {
			return benjierrs.Configuration.New("storage %q: activeTransforms names undeclared transform %q", s.Name, name)
		}
	}

	if s.HMAC != nil {
		if s.HMAC.KeyHex == "" && s.HMAC.Password == "" {
			return benjierrs.Configuration.New("storage %q: hmac needs a key or a password", s.Name)
		}
		if s.HMAC.Password != "" && (s.HMAC.KDFSaltHex == "" || s.HMAC.KDFIterations <= 0) {
			return benjierrs.Configuration.New("storage %q: hmac password needs kdfSalt and kdfIterations", s.Name)
		}
	}
	return nil
}
