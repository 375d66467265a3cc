// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package database

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// sqlDrivers maps config driver names to registered database/sql driver names.
// DuckDB is added by drivers_duckdb.go when built with -tags duckdb.
var sqlDrivers = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "pgx",
}

func sqlDriverName(driver string) (string, error) {
	if name, ok := sqlDrivers[driver]; ok {
		return name, nil
	}
	if driver == "duckdb" {
		return "", fmt.Errorf("duckdb support is not compiled in; rebuild with -tags duckdb")
	}
	return "", fmt.Errorf("unsupported database driver: %q", driver)
}

func placeholderFormat(driver string) sq.PlaceholderFormat {
	if driver == "postgres" {
		return sq.Dollar
	}
	return sq.Question
}
