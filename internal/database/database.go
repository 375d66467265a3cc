// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package database is the SQL data-access layer: the push subscription store
// and the member directory the audience resolver queries.
//
// Queries are built with squirrel so the same code runs against SQLite
// (default), PostgreSQL and DuckDB; only the placeholder format differs.
// Timestamps are stored as unix milliseconds (BIGINT) for the same reason.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tomtom215/clubpush/internal/config"
	"github.com/tomtom215/clubpush/internal/logging"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQL connection pool.
type DB struct {
	conn   *sql.DB
	driver string
	sb     sq.StatementBuilderType
	now    func() time.Time
}

// New opens the configured database and applies pending migrations.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	driverName, err := sqlDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	switch {
	case isSharedMemoryDSN(cfg.Driver, cfg.DSN):
		// Every connection to an in-memory database sees its own empty schema.
		conn.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	db := &DB{
		conn:   conn,
		driver: cfg.Driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholderFormat(cfg.Driver)),
		now:    time.Now,
	}

	ctx, cancel := schemaContext()
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	if err := db.runVersionedMigrations(ctx); err != nil {
		closeQuietly(conn)
		return nil, err
	}

	logging.Info().Str("driver", cfg.Driver).Msg("Database ready")
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping checks if the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Driver returns the configured driver name.
func (db *DB) Driver() string {
	return db.driver
}

func isSharedMemoryDSN(driver, dsn string) bool {
	if driver == "postgres" {
		return false
	}
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
