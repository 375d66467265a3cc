// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

/*
Package api provides the HTTP interface for Clubpush.

Routes:

	GET    /push/vapid-public-key        public VAPID key (503 when direct push is off)
	POST   /push/subscribe               store the caller's device subscription (201)
	DELETE /push/unsubscribe             remove the caller's subscription (204, idempotent)
	POST   /api/v1/notifications         queue a notification (admin, orga; 202)
	POST   /api/v1/notifications/dispatch  synchronous dispatch with report (admin)
	GET    /api/v1/health/live
	GET    /api/v1/health/ready
	GET    /metrics                      Prometheus exposition

Every JSON response uses the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "VALIDATION_ERROR", "message": "..."}, "meta": {...}}

Write endpoints are rate limited per client IP with go-chi/httprate and require
a bearer token (see package auth). Request bodies are limited to 64 KiB,
decoded strictly and validated with package validation.

Usage:

	handler := api.NewHandler(api.Deps{...}, &logger)
	router := api.NewRouter(handler, authMiddleware, chiMiddleware)
	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: router.SetupChi()}
*/
package api
