// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package migrate implements a minimal numbered-migration runner, in the
// same spirit as storj's private/migrate: each Migration carries a strictly
// increasing Version, and Run applies every migration newer than the
// highest version recorded in the database, each in its own transaction, so
// a crash mid-migration leaves the schema at a known, re-resumable version.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is one forward schema step.
type Migration struct {
	Version     int64
	Description string
	Apply       func(ctx context.Context, tx *sql.Tx) error
}

// versionTableDDL is deliberately dialect-agnostic: both SQLite and
// PostgreSQL accept this exact statement.
const versionTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     BIGINT PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TIMESTAMP NOT NULL
)`

// Run applies every migration in migrations whose Version exceeds the
// highest version already recorded in db, in ascending Version order, each
// inside its own transaction recorded in schema_migrations on success.
// dollar selects PostgreSQL's "$1, $2, ..." placeholder style for Run's own
// bookkeeping queries; pass false for SQLite.
func Run(ctx context.Context, db *sql.DB, dollar bool, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, versionTableDDL); err != nil {
		return fmt.Errorf("migrate: creating schema_migrations: %w", err)
	}

	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	var current int64
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("migrate: reading current version: %w", err)
	}

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		if err := applyOne(ctx, db, dollar, m); err != nil {
			return fmt.Errorf("migrate: applying version %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, dollar bool, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := m.Apply(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	insert := rebind(dollar, `INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, m.Version, m.Description, time.Now()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func rebind(dollar bool, query string) string {
	if !dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
