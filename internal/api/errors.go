// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package api

import "errors"

// Common API errors
var (
	// ErrBodyTooLarge indicates the request body exceeded maxBodyBytes.
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrEmptyBody indicates a write endpoint received no body.
	ErrEmptyBody = errors.New("request body is empty")

	// ErrNoIdentity indicates a member-scoped handler ran without a caller.
	ErrNoIdentity = errors.New("no authenticated member")
)
