// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package testinfra starts throwaway Postgres and Redis containers for
// integration tests.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/database/... ./internal/dedup/...
//
// Tests call SkipIfNoDocker first so the suite degrades gracefully on
// machines without a Docker daemon:
//
//	func TestPostgresStore(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    pg, err := testinfra.NewPostgresContainer(context.Background())
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    testinfra.CleanupContainer(t, pg)
//	    // database.New(&config.DatabaseConfig{Driver: "postgres", DSN: pg.DSN})
//	}
//
// First runs pull the images; later runs use the local cache.
package testinfra
