// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sqlite wires metadata.Store to an embedded SQLite database via
// github.com/mattn/go-sqlite3, the configuration this project recommends
// for a single-host deployment with no separate database server to manage.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/migrate"
	"storj.io/benji/pkg/metadata/sqlcommon"
)

// Open opens (creating if absent) the SQLite database file at path, applies
// the schema if it isn't present yet, and returns it as a metadata.Store.
func Open(path string) (metadata.Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, benjierrs.Configuration.Wrap(err)
	}
	// SQLite serializes all writers internally; a single connection avoids
	// "database is locked" errors under concurrent access from this
	// process's own worker pools.
	db.SetMaxOpenConns(1)

	dialect := sqlcommon.Dialect{
		Dollar:          false,
		AutoincrementPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
	}
	if err := migrate.Run(context.Background(), db, dialect.Dollar, []migrate.Migration{
		{
			Version:     1,
			Description: "initial versions/blocks/labels/deleted_blocks/locks schema",
			Apply: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, sqlcommon.SchemaDDL(dialect))
				return err
			},
		},
	}); err != nil {
		_ = db.Close()
		return nil, benjierrs.Configuration.Wrap(err)
	}
	return sqlcommon.Open(db, dialect), nil
}
