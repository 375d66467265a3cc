// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/clubpush/internal/logging"
)

// Migration is one versioned schema change. Statements run in order inside a
// single transaction together with the schema_migrations bookkeeping row.
type Migration struct {
	Version     int
	Name        string
	Description string
	Statements  []string
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	applied_at BIGINT NOT NULL
)`

// migrations are append-only. Column types are limited to the subset that
// SQLite, PostgreSQL and DuckDB all accept.
var migrations = []Migration{
	{
		Version:     1,
		Name:        "members",
		Description: "Member directory with normalized role and team assignments",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS members (
				id BIGINT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				updated_at BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS member_roles (
				member_id BIGINT NOT NULL,
				role TEXT NOT NULL,
				PRIMARY KEY (member_id, role)
			)`,
			`CREATE TABLE IF NOT EXISTS member_teams (
				member_id BIGINT NOT NULL,
				team_id BIGINT NOT NULL,
				PRIMARY KEY (member_id, team_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_member_roles_role ON member_roles (role)`,
			`CREATE INDEX IF NOT EXISTS idx_member_teams_team ON member_teams (team_id)`,
		},
	},
	{
		Version:     2,
		Name:        "push_subscriptions",
		Description: "Web Push subscriptions, one row per device endpoint",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS push_subscriptions (
				id TEXT PRIMARY KEY,
				member_id BIGINT NOT NULL,
				endpoint TEXT NOT NULL UNIQUE,
				auth_secret TEXT NOT NULL,
				encryption_key TEXT NOT NULL,
				user_agent TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_push_subscriptions_member ON push_subscriptions (member_id)`,
		},
	},
}

// runVersionedMigrations applies every migration not yet recorded.
func (db *DB) runVersionedMigrations(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return err
		}
		count++
	}

	if count > 0 {
		logging.Info().Int("count", count).Msg("Applied database migrations")
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer closeWithLog(rows, "rows")

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration v%d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
		}
	}

	query, args, err := db.sb.Insert("schema_migrations").
		Columns("version", "name", "description", "applied_at").
		Values(m.Version, m.Name, m.Description, db.now().UnixMilli()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build migration record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
