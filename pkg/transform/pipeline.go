// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package transform implements the pluggable encapsulation pipeline
// applied to block and version payloads before they reach object
// storage: compression, then authenticated encryption, applied in
// configured order on write and reversed on read.
//
// Every transform records its configured name, its underlying module
// identifier, and per-object materials (nonces, wrapped keys) in the
// object's envelope, so a pipeline whose configuration is later removed
// from a node can still be reconstructed by name from the envelope alone.
// An envelope naming a transform absent from the registry is a hard
// error on read.
package transform

import (
	"storj.io/benji/pkg/benjierrs"
)

// Entry is the envelope record for one transform applied to an object.
type Entry struct {
	Name      string            `json:"name"`
	Module    string            `json:"module"`
	Materials map[string]string `json:"materials"`
}

// Transform is one pluggable encapsulation step. Implementations must be
// safe for concurrent use.
type Transform interface {
	// Name is the configured instance name, e.g. "zstd-3" or "encrypt".
	Name() string
	// Module is the underlying algorithm identifier, e.g. "zstd" or
	// "aes-gcm". Distinct from Name so two differently-configured
	// instances of the same module can coexist.
	Module() string
	// Encapsulate transforms data for storage, returning the transformed
	// bytes and the per-object materials to record in the envelope.
	Encapsulate(data []byte) (out []byte, materials map[string]string, err error)
	// Decapsulate reverses Encapsulate given the materials recorded for
	// this object.
	Decapsulate(data []byte, materials map[string]string) (out []byte, err error)
}

// Registry looks transforms up by configured name. Built once at startup
// from a node's active configuration; a node may hold transforms in its
// registry that are not part of any storage's active pipeline (so it can
// still read objects written under a retired configuration).
type Registry struct {
	byName map[string]Transform
}

// NewRegistry builds a registry from the given transforms. Duplicate
// names are a configuration error.
func NewRegistry(transforms ...Transform) (*Registry, error) {
	r := &Registry{byName: make(map[string]Transform, len(transforms))}
	for _, t := range transforms {
		if _, exists := r.byName[t.Name()]; exists {
			return nil, benjierrs.Configuration.New("duplicate transform name %q", t.Name())
		}
		r.byName[t.Name()] = t
	}
	return r, nil
}

// Get looks up a transform by its configured name.
func (r *Registry) Get(name string) (Transform, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Pipeline is an ordered, active sequence of transforms applied on write.
type Pipeline struct {
	active []Transform
}

// NewPipeline builds a pipeline from transforms resolved, in order, from
// registry by their configured names. An unknown name here is a
// Configuration error; a read-time unknown transform is reported
// differently, since it can reference a pipeline that genuinely existed
// when the object was written.
func NewPipeline(registry *Registry, activeNames []string) (Pipeline, error) {
	p := Pipeline{active: make([]Transform, 0, len(activeNames))}
	for _, name := range activeNames {
		t, ok := registry.Get(name)
		if !ok {
			return Pipeline{}, benjierrs.Configuration.New("unknown transform %q in activeTransforms", name)
		}
		p.active = append(p.active, t)
	}
	return p, nil
}

// Encapsulate wraps data through every active transform in configured
// order, returning the final bytes and the envelope entries recording
// how to reverse the process.
func (p Pipeline) Encapsulate(data []byte) ([]byte, []Entry, error) {
	if len(p.active) == 0 {
		return data, nil, nil
	}
	entries := make([]Entry, 0, len(p.active))
	for _, t := range p.active {
		out, materials, err := t.Encapsulate(data)
		if err != nil {
			return nil, nil, benjierrs.Internal.Wrap(err)
		}
		entries = append(entries, Entry{Name: t.Name(), Module: t.Module(), Materials: materials})
		data = out
	}
	return data, entries, nil
}

// Decapsulate reverses entries (applied most-recently-first) against
// data, resolving each transform by name from registry. An entry naming a
// transform absent from registry, or whose recorded module disagrees
// with the registry entry's module, is a hard error.
func Decapsulate(registry *Registry, data []byte, entries []Entry) ([]byte, error) {
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		t, ok := registry.Get(entry.Name)
		if !ok {
			return nil, benjierrs.Configuration.New("unknown transform %q in object metadata", entry.Name)
		}
		if t.Module() != entry.Module {
			return nil, benjierrs.Configuration.New(
				"mismatch between object transform module and configured module for %q (%s != %s)",
				entry.Name, entry.Module, t.Module())
		}
		out, err := t.Decapsulate(data, entry.Materials)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}
