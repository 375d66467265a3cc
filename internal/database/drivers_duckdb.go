// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

//go:build duckdb

package database

import (
	_ "github.com/duckdb/duckdb-go/v2" // registers "duckdb"
)

//nolint:gochecknoinits // driver registration is build-tag gated
func init() {
	sqlDrivers["duckdb"] = "duckdb"
}
