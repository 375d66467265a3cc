// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package authz decides which callers may send notifications, using Casbin.
//
//	Request -> auth.Authenticate -> authz.Authorize -> Handler
//
// The model is plain RBAC with role inheritance (model.conf). The embedded
// policy (policy.csv) lets organisers queue notifications and admins also run
// synchronous dispatches:
//
//	p, orga, notifications, queue
//	p, admin, notifications, dispatch
//	g, admin, orga
//
// AUTHZ_POLICY_PATH replaces the embedded policy with a file, which is
// re-read every AUTHZ_RELOAD_INTERVAL. Role names in tokens are lowercased
// before enforcement; subjects are also checked as "member:<id>" so a policy
// can grant a single member.
package authz
