// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockuid"
)

// MetadataVersion is the semver of the export format this build writes.
// Readers accept any export whose major version matches, ignoring fields
// added by newer minor versions, and refuse everything else.
const MetadataVersion = "1.1.0"

type exportDocument struct {
	MetadataVersion string          `json:"metadata_version"`
	Versions        []exportVersion `json:"versions"`
}

type exportVersion struct {
	UID       string            `json:"uid"`
	Volume    string            `json:"volume"`
	Snapshot  string            `json:"snapshot"`
	Size      int64             `json:"size"`
	BlockSize int64             `json:"block_size"`
	Storage   string            `json:"storage"`
	Status    string            `json:"status"`
	Protected bool              `json:"protected"`
	CreatedAt time.Time         `json:"created_at"`
	Labels    map[string]string `json:"labels"`
	Stats     exportStats       `json:"stats"`
	Blocks    []exportBlock     `json:"blocks"`
}

type exportStats struct {
	BytesRead         int64 `json:"bytes_read"`
	BytesWritten      int64 `json:"bytes_written"`
	BytesDeduplicated int64 `json:"bytes_deduplicated"`
	BytesSparse       int64 `json:"bytes_sparse"`
	DurationNS        int64 `json:"duration_ns"`
}

type exportBlock struct {
	UID      *exportUID `json:"uid"` // null for a sparse block
	Size     int64      `json:"size"`
	Valid    bool       `json:"valid"`
	Checksum string     `json:"checksum,omitempty"`
}

type exportUID struct {
	Left  int64 `json:"left"`
	Right int64 `json:"right"`
}

// Export serializes versions (each paired with its blocks, in index
// order) into the canonical export JSON, used for metadata backup,
// database-less restore, and cross-instance transfer.
func Export(versions []*Version, blocks [][]Block) (string, error) {
	if len(versions) != len(blocks) {
		return "", benjierrs.Internal.New("export: %d versions but %d block sequences", len(versions), len(blocks))
	}
	doc := exportDocument{MetadataVersion: MetadataVersion}
	for i, v := range versions {
		ev := exportVersion{
			UID:       v.UID,
			Volume:    v.Volume,
			Snapshot:  v.Snapshot,
			Size:      v.Size,
			BlockSize: v.BlockSize,
			Storage:   v.Storage,
			Status:    string(v.Status),
			Protected: v.Protected,
			CreatedAt: v.CreatedAt.UTC(),
			Labels:    v.Labels,
			Stats: exportStats{
				BytesRead:         v.Stats.BytesRead,
				BytesWritten:      v.Stats.BytesWritten,
				BytesDeduplicated: v.Stats.BytesDeduplicated,
				BytesSparse:       v.Stats.BytesSparse,
				DurationNS:        int64(v.Stats.Duration),
			},
		}
		if ev.Labels == nil {
			ev.Labels = map[string]string{}
		}
		for _, b := range blocks[i] {
			eb := exportBlock{Size: b.Size, Valid: b.Valid, Checksum: b.Checksum}
			if !b.UID.IsSparse() {
				eb.UID = &exportUID{Left: *b.UID.Left, Right: *b.UID.Right}
			}
			ev.Blocks = append(ev.Blocks, eb)
		}
		doc.Versions = append(doc.Versions, ev)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", benjierrs.Internal.Wrap(err)
	}
	return buf.String(), nil
}

// ExportOne is Export for a single version.
func ExportOne(v *Version, blocks []Block) (string, error) {
	return Export([]*Version{v}, [][]Block{blocks})
}

// Import parses an export document and recreates every version it
// contains in store, preserving the original version UIDs, block UIDs,
// checksums, labels, and status. It returns the UIDs imported, in
// document order. An unknown metadata_version or a version UID already
// present in store is refused without importing anything.
func Import(ctx context.Context, store Store, text string) ([]string, error) {
	var probe struct {
		MetadataVersion string `json:"metadata_version"`
	}
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, benjierrs.InputData.New("import: not a valid export document: %v", err)
	}
	if err := checkMetadataVersion(probe.MetadataVersion); err != nil {
		return nil, err
	}

	var doc exportDocument
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, benjierrs.InputData.New("import: malformed export document: %v", err)
	}

	for _, ev := range doc.Versions {
		if _, err := store.GetVersion(ctx, ev.UID); err == nil {
			return nil, benjierrs.Usage.New("import: version %s already exists", ev.UID)
		} else if !benjierrs.IsNotFound(err) {
			return nil, err
		}
	}

	var imported []string
	for _, ev := range doc.Versions {
		v := &Version{
			UID:       ev.UID,
			Volume:    ev.Volume,
			Snapshot:  ev.Snapshot,
			Size:      ev.Size,
			BlockSize: ev.BlockSize,
			Storage:   ev.Storage,
			Status:    Status(ev.Status),
			Protected: ev.Protected,
			CreatedAt: ev.CreatedAt,
			Labels:    ev.Labels,
			Stats: Stats{
				BytesRead:         ev.Stats.BytesRead,
				BytesWritten:      ev.Stats.BytesWritten,
				BytesDeduplicated: ev.Stats.BytesDeduplicated,
				BytesSparse:       ev.Stats.BytesSparse,
				Duration:          time.Duration(ev.Stats.DurationNS),
			},
		}
		blocks := make([]Block, 0, len(ev.Blocks))
		for idx, eb := range ev.Blocks {
			b := Block{Idx: idx, Size: eb.Size, Valid: eb.Valid, Checksum: eb.Checksum}
			if eb.UID != nil {
				left, right := eb.UID.Left, eb.UID.Right
				b.UID = blockuid.UID{Left: &left, Right: &right}
			}
			blocks = append(blocks, b)
		}
		if err := store.ImportVersion(ctx, v, blocks); err != nil {
			return nil, err
		}
		imported = append(imported, v.UID)
	}
	return imported, nil
}

func checkMetadataVersion(version string) error {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) != 3 {
		return benjierrs.InputData.New("import: malformed metadata_version %q", version)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return benjierrs.InputData.New("import: malformed metadata_version %q", version)
	}
	wantMajor, _ := strconv.Atoi(strings.SplitN(MetadataVersion, ".", 2)[0])
	if major != wantMajor {
		return benjierrs.InputData.New("import: unsupported metadata_version %q (this build reads %d.x)", version, wantMajor)
	}
	return nil
}
