// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

/*
Package auth authenticates API callers.

Tokens are HS256 JWTs issued by the club app. The subject is the member id and
the "roles" claim lists the member's club roles (admin, orga, trainer, ...).

Key Components:

  - JWTManager: token validation (and minting for operators and tests)
  - Middleware: Authenticate resolves claims into the request context

Permission checks live in package authz.

In AUTH_MODE=none the identity comes from the X-Member-ID and X-Member-Roles
headers. Configuration validation refuses that mode in production.
*/
package auth
