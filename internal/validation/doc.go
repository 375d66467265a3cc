// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

/*
Package validation wraps go-playground/validator v10 for request bodies.

A single validator instance is built on first use and shared; it caches struct
metadata and is safe for concurrent use. Field names in messages are the JSON
names the client sent, with nested fields dotted ("keys.p256dh").

Custom tags:

  - push_endpoint: absolute https URL (http only on loopback hosts)
  - p256dh: base64url uncompressed P-256 public key, 65 bytes
  - push_auth: base64url 16 byte auth secret

Usage:

	if verr := validation.ValidateStruct(&req); verr != nil {
	    apiErr := verr.ToAPIError()
	    // respond 400 with apiErr.Code, apiErr.Message, apiErr.Details
	}

Messages never include field values, since subscription requests carry key
material.
*/
package validation
