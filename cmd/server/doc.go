// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

/*
Package main is the entry point for the Clubpush server.

Clubpush stores browser push subscriptions for club members and delivers
notifications to audiences (members, roles, teams, all staff) through either
direct Web Push or a hosted push provider.

# Application Architecture

Long-running components run under Suture v4 supervision:

	RootSupervisor ("clubpush")
	├── DeliverySupervisor ("delivery-layer")
	│   ├── Dispatch queue consumer (Watermill, in-process)
	│   ├── dedup-maintenance (memory sweep or Badger value log GC)
	│   └── subscription-gauge
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, optional config file, environment
 2. Logging: zerolog, bridged to slog for the supervisor event hook
 3. Database: SQLite by default, Postgres via DB_DRIVER=postgres
 4. Delivery: channels, audience resolver, dispatcher, dedup store, queue
 5. HTTP: JWT or header identity, Casbin permissions, chi router

# Configuration

Frequently used environment variables:

  - VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY, VAPID_SUBSCRIBER: direct push
  - ONESIGNAL_APP_ID, ONESIGNAL_API_KEY: hosted provider
  - DB_DRIVER, DB_DSN
  - DEDUP_BACKEND: none, memory, badger, redis
  - DISPATCH_TIMEOUT, DISPATCH_WORKERS: background queue
  - AUTH_MODE (jwt or none), JWT_SECRET, AUTHZ_POLICY_PATH
  - LOG_LEVEL, LOG_FORMAT

Generate a VAPID key pair with:

	go run ./cmd/vapidkeys

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains within
SERVER_SHUTDOWN_TIMEOUT, the queue consumer stops, and the dedup store and
database are closed afterwards.
*/
package main
