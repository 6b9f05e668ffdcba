// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package postgres wires metadata.Store to PostgreSQL via
// github.com/lib/pq, for deployments that already run a shared database
// server and want the metadata index to live there instead of on local
// disk.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/metadata"
	"storj.io/benji/pkg/metadata/migrate"
	"storj.io/benji/pkg/metadata/sqlcommon"
)

// Open connects to PostgreSQL at dsn (a "postgres://" URL or libpq keyword
// string), applies the schema if it isn't present yet, and returns it as a
// metadata.Store.
func Open(dsn string) (metadata.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, benjierrs.Configuration.Wrap(err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, benjierrs.Configuration.Wrap(err)
	}

	dialect := sqlcommon.Dialect{
		Dollar:          true,
		AutoincrementPK: "BIGSERIAL PRIMARY KEY",
		LastInsertID:    lastInsertID,
	}
	if err := migrate.Run(context.Background(), db, dialect.Dollar, []migrate.Migration{
		{
			Version:     1,
			Description: "initial versions/blocks/labels/deleted_blocks/locks schema",
			Apply: func(ctx context.Context, tx *sql.Tx) error {
				for _, stmt := range splitStatements(sqlcommon.SchemaDDL(dialect)) {
					if _, err := tx.ExecContext(ctx, stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}); err != nil {
		_ = db.Close()
		return nil, benjierrs.Configuration.Wrap(err)
	}
	return sqlcommon.Open(db, dialect), nil
}

// lastInsertID services Dialect.LastInsertID for PostgreSQL, whose driver
// does not implement sql.Result.LastInsertId: the caller's fallback query
// (typically a SELECT keyed on the row's unique column) is re-run instead.
func lastInsertID(ctx context.Context, q sqlcommon.Queryer, _ sql.Result, fallbackQuery string, fallbackArgs ...interface{}) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, fallbackQuery, fallbackArgs...).Scan(&id); err != nil {
		return 0, benjierrs.StorageIO.Wrap(err)
	}
	return id, nil
}

// splitStatements breaks a multi-statement DDL blob at every ";" outside
// parentheses:
// lib/pq, unlike the SQLite driver, does not execute more than one
// statement per Exec call.
func splitStatements(ddl string) []string {
	var stmts []string
	start := 0
	depth := 0
	for i := 0; i < len(ddl); i++ {
		switch ddl[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ';':
			if depth == 0 {
				stmt := ddl[start : i+1]
				stmts = append(stmts, stmt)
				start = i + 1
			}
		}
	}
	return stmts
}
