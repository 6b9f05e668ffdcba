// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sqlcommon implements metadata.Store once, against database/sql,
// parameterized only by the small dialect differences (placeholder style,
// autoincrement syntax) between SQLite and PostgreSQL. pkg/metadata/sqlite
// and pkg/metadata/postgres are thin constructors wrapping this type with
// their driver and dialect settings, the same split storj.io/storj draws
// between its dbutil query layer and its per-driver adapters.
package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/blockuid"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/filter"
)

// Dialect captures the handful of ways the two supported SQL backends
// diverge.
type Dialect struct {
	// Dollar is true for PostgreSQL's "$1, $2, ..." placeholders, false for
	// SQLite/MySQL-style "?".
	Dollar bool
	// AutoincrementPK is the column-definition fragment for an
	// autoincrementing primary key, e.g. "INTEGER PRIMARY KEY AUTOINCREMENT"
	// for SQLite or "BIGSERIAL PRIMARY KEY" for PostgreSQL.
	AutoincrementPK string
	// LastInsertID returns the id of the row just inserted, given the
	// sql.Result from the INSERT (SQLite) or, when Result.LastInsertId is
	// unsupported (PostgreSQL), re-queries it via query/args against q (a
	// *sql.DB or *sql.Tx, whichever is live at the call site).
	LastInsertID func(ctx context.Context, q Queryer, res sql.Result, query string, args ...interface{}) (int64, error)
}

// Queryer is satisfied by both *sql.DB and *sql.Tx.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is a dialect-agnostic implementation of metadata.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ metadata.Store = (*Store)(nil)

// Open wraps db (already connected to an initialized schema) as a
// metadata.Store.
func Open(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// SchemaDDL renders the shared schema for dialect, to run once at startup.
func SchemaDDL(dialect Dialect) string {
	return metadata.RenderSchema(dialect.AutoincrementPK)
}

func (s *Store) q(query string) string {
	return metadata.Rebind(s.dialect.Dollar, query)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) EnsureStorage(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM storages WHERE name = ?`), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, benjierrs.StorageIO.Wrap(err)
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO storages (name) VALUES (?)`), name)
	if err != nil {
		return 0, benjierrs.StorageIO.Wrap(err)
	}
	id, err = s.dialect.lastInsertID(ctx, s.db, res, s.q(`SELECT id FROM storages WHERE name = ?`), name)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) CreateVersion(ctx context.Context, v *metadata.Version, blocks []metadata.Block) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		storageID, err := s.ensureStorageTx(ctx, tx, v.Storage)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO versions (uid, volume, snapshot, size, block_size, storage_id, status, protected, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			"", v.Volume, v.Snapshot, v.Size, v.BlockSize, storageID, string(metadata.StatusIncomplete), v.Protected, v.CreatedAt)
		if err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		id, err := s.dialect.lastInsertID(ctx, tx, res, s.q(`SELECT id FROM versions WHERE uid = ? AND created_at = ?`), "", v.CreatedAt)
		if err != nil {
			return err
		}

		uid := metadata.StringUID(id)
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE versions SET uid = ? WHERE id = ?`), uid, id); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}

		v.ID = id
		v.UID = uid
		v.Status = metadata.StatusIncomplete

		for _, b := range blocks {
			if err := insertBlock(ctx, tx, s, id, b); err != nil {
				return err
			}
		}
		for name, value := range v.Labels {
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO labels (version_id, name, value) VALUES (?, ?, ?)`), id, name, value); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
		}
		return nil
	})
}

func (s *Store) ImportVersion(ctx context.Context, v *metadata.Version, blocks []metadata.Block) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM versions WHERE uid = ?`), v.UID).Scan(&existing)
		if err == nil {
			return benjierrs.Usage.New("version %q already exists", v.UID)
		}
		if err != sql.ErrNoRows {
			return benjierrs.StorageIO.Wrap(err)
		}

		storageID, err := s.ensureStorageTx(ctx, tx, v.Storage)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO versions (uid, volume, snapshot, size, block_size, storage_id, status, protected, created_at,
			                      bytes_read, bytes_written, bytes_deduplicated, bytes_sparse, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			v.UID, v.Volume, v.Snapshot, v.Size, v.BlockSize, storageID, string(v.Status), v.Protected, v.CreatedAt,
			v.Stats.BytesRead, v.Stats.BytesWritten, v.Stats.BytesDeduplicated, v.Stats.BytesSparse, int64(v.Stats.Duration))
		if err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		id, err := s.dialect.lastInsertID(ctx, tx, res, s.q(`SELECT id FROM versions WHERE uid = ?`), v.UID)
		if err != nil {
			return err
		}
		v.ID = id

		for _, b := range blocks {
			if err := insertBlock(ctx, tx, s, id, b); err != nil {
				return err
			}
		}
		for name, value := range v.Labels {
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO labels (version_id, name, value) VALUES (?, ?, ?)`), id, name, value); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
		}
		return nil
	})
}

func insertBlock(ctx context.Context, tx *sql.Tx, s *Store, versionID int64, b metadata.Block) error {
	left, right := uidParts(b.UID)
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO blocks (version_id, idx, uid_left, uid_right, size, valid, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		versionID, b.Idx, left, right, b.Size, b.Valid, b.Checksum)
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func uidParts(u blockuid.UID) (sql.NullInt64, sql.NullInt64) {
	if u.IsSparse() {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *u.Left, Valid: true}, sql.NullInt64{Int64: *u.Right, Valid: true}
}

func uidFromParts(left, right sql.NullInt64) blockuid.UID {
	if !left.Valid || !right.Valid {
		return blockuid.Sparse
	}
	l, r := left.Int64, right.Int64
	return blockuid.UID{Left: &l, Right: &r}
}

func (s *Store) GetVersion(ctx context.Context, uid string) (*metadata.Version, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT v.id, v.uid, v.volume, v.snapshot, v.size, v.block_size, st.name, v.status, v.protected, v.created_at,
		       v.bytes_read, v.bytes_written, v.bytes_deduplicated, v.bytes_sparse, v.duration_ns
		FROM versions v JOIN storages st ON st.id = v.storage_id
		WHERE v.uid = ?`), uid)

	var v metadata.Version
	var status string
	var durationNS int64
	if err := row.Scan(&v.ID, &v.UID, &v.Volume, &v.Snapshot, &v.Size, &v.BlockSize, &v.Storage, &status, &v.Protected,
		&v.CreatedAt, &v.Stats.BytesRead, &v.Stats.BytesWritten, &v.Stats.BytesDeduplicated, &v.Stats.BytesSparse, &durationNS); err != nil {
		if err == sql.ErrNoRows {
			return nil, benjierrs.NewNotFound("version %q not found", uid)
		}
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	v.Status = metadata.Status(status)
	v.Stats.Duration = time.Duration(durationNS)

	labels, err := s.labelsFor(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	v.Labels = labels
	return &v, nil
}

func (s *Store) labelsFor(ctx context.Context, versionID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT name, value FROM labels WHERE version_id = ?`), versionID)
	if err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	defer rows.Close()
	labels := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, benjierrs.StorageIO.Wrap(err)
		}
		labels[name] = value
	}
	return labels, rows.Err()
}

func (s *Store) GetBlocks(ctx context.Context, uid string) ([]metadata.Block, error) {
	v, err := s.GetVersion(ctx, uid)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT idx, uid_left, uid_right, size, valid, checksum FROM blocks
		WHERE version_id = ? ORDER BY idx`), v.ID)
	if err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	defer rows.Close()

	var blocks []metadata.Block
	for rows.Next() {
		var b metadata.Block
		var left, right sql.NullInt64
		if err := rows.Scan(&b.Idx, &left, &right, &b.Size, &b.Valid, &b.Checksum); err != nil {
			return nil, benjierrs.StorageIO.Wrap(err)
		}
		b.VersionID = v.ID
		b.UID = uidFromParts(left, right)
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (s *Store) SetBlock(ctx context.Context, versionID int64, block metadata.Block) error {
	return s.SetBlocks(ctx, versionID, []metadata.Block{block})
}

func (s *Store) SetBlocks(ctx context.Context, versionID int64, blocks []metadata.Block) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, b := range blocks {
			left, right := uidParts(b.UID)
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM blocks WHERE version_id = ? AND idx = ?`), versionID, b.Idx); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
			if _, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO blocks (version_id, idx, uid_left, uid_right, size, valid, checksum)
				VALUES (?, ?, ?, ?, ?, ?, ?)`),
				versionID, b.Idx, left, right, b.Size, b.Valid, b.Checksum); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
		}
		return nil
	})
}

func (s *Store) FindByChecksum(ctx context.Context, checksum string, size int64, storageName string) (blockuid.UID, bool, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT b.uid_left, b.uid_right FROM blocks b
		JOIN versions v ON v.id = b.version_id
		JOIN storages st ON st.id = v.storage_id
		WHERE b.checksum = ? AND b.size = ? AND b.valid = ? AND st.name = ?
		LIMIT 1`), checksum, size, true, storageName)

	var left, right sql.NullInt64
	if err := row.Scan(&left, &right); err != nil {
		if err == sql.ErrNoRows {
			return blockuid.UID{}, false, nil
		}
		return blockuid.UID{}, false, benjierrs.StorageIO.Wrap(err)
	}
	return uidFromParts(left, right), true, nil
}

func (s *Store) SetStatus(ctx context.Context, uid string, status metadata.Status, stats *metadata.Stats) error {
	if stats == nil {
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE versions SET status = ? WHERE uid = ?`), string(status), uid)
		if err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE versions SET status = ?, bytes_read = ?, bytes_written = ?, bytes_deduplicated = ?, bytes_sparse = ?, duration_ns = ?
		WHERE uid = ?`),
		string(status), stats.BytesRead, stats.BytesWritten, stats.BytesDeduplicated, stats.BytesSparse, int64(stats.Duration), uid)
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) InvalidateBlock(ctx context.Context, blockUID blockuid.UID) ([]string, error) {
	var affected []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		left, right := uidParts(blockUID)
		rows, err := tx.QueryContext(ctx, s.q(`
			SELECT DISTINCT v.uid FROM versions v
			JOIN blocks b ON b.version_id = v.id
			WHERE b.uid_left = ? AND b.uid_right = ? AND v.status != ?`), left, right, string(metadata.StatusInvalid))
		if err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		var uids []string
		for rows.Next() {
			var uid string
			if err := rows.Scan(&uid); err != nil {
				rows.Close()
				return benjierrs.StorageIO.Wrap(err)
			}
			uids = append(uids, uid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`UPDATE blocks SET valid = ? WHERE uid_left = ? AND uid_right = ?`), false, left, right); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		for _, uid := range uids {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE versions SET status = ? WHERE uid = ?`), string(metadata.StatusInvalid), uid); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
		}
		affected = uids
		return nil
	})
	return affected, err
}

func (s *Store) PromoteIfFullyVerified(ctx context.Context, uid string) (bool, error) {
	var promoted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var versionID int64
		var status string
		if err := tx.QueryRowContext(ctx, s.q(`SELECT id, status FROM versions WHERE uid = ?`), uid).Scan(&versionID, &status); err != nil {
			if err == sql.ErrNoRows {
				return benjierrs.NewNotFound("version %q not found", uid)
			}
			return benjierrs.StorageIO.Wrap(err)
		}
		if metadata.Status(status) != metadata.StatusInvalid {
			return nil
		}

		var invalidCount int
		if err := tx.QueryRowContext(ctx, s.q(`
			SELECT COUNT(*) FROM blocks
			WHERE version_id = ? AND valid = ? AND NOT (uid_left IS NULL AND uid_right IS NULL)`),
			versionID, false).Scan(&invalidCount); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		if invalidCount > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE versions SET status = ? WHERE id = ?`), string(metadata.StatusValid), versionID); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		promoted = true
		return nil
	})
	return promoted, err
}

func (s *Store) RemoveVersion(ctx context.Context, uid string, force bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var versionID int64
		var protected bool
		var storageID int64
		if err := tx.QueryRowContext(ctx, s.q(`SELECT id, protected, storage_id FROM versions WHERE uid = ?`), uid).
			Scan(&versionID, &protected, &storageID); err != nil {
			if err == sql.ErrNoRows {
				if force {
					return nil
				}
				return benjierrs.NewNotFound("version %q not found", uid)
			}
			return benjierrs.StorageIO.Wrap(err)
		}
		if protected && !force {
			return benjierrs.Usage.New("version %q is protected", uid)
		}

		rows, err := tx.QueryContext(ctx, s.q(`SELECT DISTINCT uid_left, uid_right FROM blocks WHERE version_id = ? AND uid_left IS NOT NULL`), versionID)
		if err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		var uids []blockuid.UID
		for rows.Next() {
			var left, right sql.NullInt64
			if err := rows.Scan(&left, &right); err != nil {
				rows.Close()
				return benjierrs.StorageIO.Wrap(err)
			}
			uids = append(uids, uidFromParts(left, right))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM labels WHERE version_id = ?`), versionID); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM blocks WHERE version_id = ?`), versionID); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM versions WHERE id = ?`), versionID); err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}

		now := time.Now()
		for _, u := range uids {
			var remaining int
			left, right := uidParts(u)
			if err := tx.QueryRowContext(ctx, s.q(`
				SELECT COUNT(*) FROM blocks b JOIN versions v ON v.id = b.version_id
				WHERE b.uid_left = ? AND b.uid_right = ? AND v.storage_id = ?`),
				left, right, storageID).Scan(&remaining); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
			if remaining == 0 {
				if _, err := tx.ExecContext(ctx, s.q(`
					INSERT INTO deleted_blocks (storage_id, uid_left, uid_right, deleted_at) VALUES (?, ?, ?, ?)`),
					storageID, left, right, now); err != nil {
					return benjierrs.StorageIO.Wrap(err)
				}
			}
		}
		return nil
	})
}

func (s *Store) ListVersions(ctx context.Context, expr filter.Expr, volume string) ([]metadata.Version, error) {
	clause, args, err := filter.Compile(expr)
	if err != nil {
		return nil, benjierrs.Usage.Wrap(err)
	}
	// The compiled filter qualifies its columns as "versions.<col>", so the
	// versions table is not aliased here.
	query := `
		SELECT versions.id, versions.uid, versions.volume, versions.snapshot, versions.size, versions.block_size, st.name,
		       versions.status, versions.protected, versions.created_at,
		       versions.bytes_read, versions.bytes_written, versions.bytes_deduplicated, versions.bytes_sparse, versions.duration_ns
		FROM versions JOIN storages st ON st.id = versions.storage_id
		WHERE ` + clause
	if volume != "" {
		query += ` AND versions.volume = ?`
		args = append(args, volume)
	}
	query += ` ORDER BY versions.created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	defer rows.Close()

	var out []metadata.Version
	for rows.Next() {
		var v metadata.Version
		var status string
		var durationNS int64
		if err := rows.Scan(&v.ID, &v.UID, &v.Volume, &v.Snapshot, &v.Size, &v.BlockSize, &v.Storage, &status, &v.Protected,
			&v.CreatedAt, &v.Stats.BytesRead, &v.Stats.BytesWritten, &v.Stats.BytesDeduplicated, &v.Stats.BytesSparse, &durationNS); err != nil {
			return nil, benjierrs.StorageIO.Wrap(err)
		}
		v.Status = metadata.Status(status)
		v.Stats.Duration = time.Duration(durationNS)
		labels, err := s.labelsFor(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		v.Labels = labels
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) SetProtection(ctx context.Context, uid string, protected bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE versions SET protected = ? WHERE uid = ?`), protected, uid)
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return benjierrs.NewNotFound("version %q not found", uid)
	}
	return nil
}

func (s *Store) SetLabel(ctx context.Context, uid string, name, value string) error {
	v, err := s.GetVersion(ctx, uid)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`DELETE FROM labels WHERE version_id = ? AND name = ?`), v.ID, name)
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO labels (version_id, name, value) VALUES (?, ?, ?)`), v.ID, name, value)
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) RemoveLabel(ctx context.Context, uid string, name string) error {
	v, err := s.GetVersion(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM labels WHERE version_id = ? AND name = ?`), v.ID, name); err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) Lock(ctx context.Context, name, host, processID, reason string, override bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existingProcessID string
		err := tx.QueryRowContext(ctx, s.q(`SELECT process_id FROM locks WHERE name = ?`), name).Scan(&existingProcessID)
		switch {
		case err == sql.ErrNoRows:
			// fall through to insert
		case err != nil:
			return benjierrs.StorageIO.Wrap(err)
		case existingProcessID == processID:
			if override {
				// Overriding a lock this process itself holds means the
				// caller is about to trample its own running operation.
				return benjierrs.Usage.New("lock %q is held by this process; refusing to override it", name)
			}
			return nil // re-entrant
		case !override:
			return benjierrs.AlreadyLocked.New("lock %q is already held", name)
		default:
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM locks WHERE name = ?`), name); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
		}

		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO locks (name, host, process_id, reason, locked_at) VALUES (?, ?, ?, ?, ?)`),
			name, host, processID, reason, time.Now())
		if err != nil {
			return benjierrs.StorageIO.Wrap(err)
		}
		return nil
	})
}

func (s *Store) Unlock(ctx context.Context, name, processID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM locks WHERE name = ? AND process_id = ?`), name, processID)
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (s *Store) GetDeleteCandidates(ctx context.Context, grace time.Duration) (map[string][]blockuid.UID, error) {
	cutoff := time.Now().Add(-grace)

	// A tombstone whose UID has gained a live referrer since it was
	// written lost the race against a concurrent backup that
	// deduplicated onto the same UID: it is a false positive, and the
	// object must not be collected. Discard such tombstones outright so
	// they are not rescanned forever.
	if _, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM deleted_blocks
		WHERE deleted_at < ?
		AND EXISTS (
			SELECT 1 FROM blocks b JOIN versions v ON v.id = b.version_id
			WHERE v.storage_id = deleted_blocks.storage_id
			AND b.uid_left = deleted_blocks.uid_left AND b.uid_right = deleted_blocks.uid_right
		)`), cutoff); err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT st.name, d.uid_left, d.uid_right FROM deleted_blocks d
		JOIN storages st ON st.id = d.storage_id
		WHERE d.deleted_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM blocks b JOIN versions v ON v.id = b.version_id
			WHERE v.storage_id = d.storage_id AND b.uid_left = d.uid_left AND b.uid_right = d.uid_right
		)`), cutoff)
	if err != nil {
		return nil, benjierrs.StorageIO.Wrap(err)
	}
	defer rows.Close()

	out := map[string][]blockuid.UID{}
	for rows.Next() {
		var storageName string
		var left, right sql.NullInt64
		if err := rows.Scan(&storageName, &left, &right); err != nil {
			return nil, benjierrs.StorageIO.Wrap(err)
		}
		out[storageName] = append(out[storageName], uidFromParts(left, right))
	}
	return out, rows.Err()
}

func (s *Store) ConsumeTombstones(ctx context.Context, storageName string, uids []blockuid.UID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		storageID, err := s.ensureStorageTx(ctx, tx, storageName)
		if err != nil {
			return err
		}
		for _, u := range uids {
			left, right := uidParts(u)
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM deleted_blocks WHERE storage_id = ? AND uid_left = ? AND uid_right = ?`),
				storageID, left, right); err != nil {
				return benjierrs.StorageIO.Wrap(err)
			}
		}
		return nil
	})
}

func (s *Store) ensureStorageTx(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM storages WHERE name = ?`), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, benjierrs.StorageIO.Wrap(err)
	}
	res, err := tx.ExecContext(ctx, s.q(`INSERT INTO storages (name) VALUES (?)`), name)
	if err != nil {
		return 0, benjierrs.StorageIO.Wrap(err)
	}
	return s.dialect.lastInsertID(ctx, tx, res, s.q(`SELECT id FROM storages WHERE name = ?`), name)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return benjierrs.StorageIO.Wrap(err)
	}
	return nil
}

func (d Dialect) lastInsertID(ctx context.Context, db Queryer, res sql.Result, fallbackQuery string, fallbackArgs ...interface{}) (int64, error) {
	if d.LastInsertID != nil {
		return d.LastInsertID(ctx, db, res, fallbackQuery, fallbackArgs...)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlcommon: driver does not support LastInsertId and no fallback configured: %w", err)
	}
	return id, nil
}
