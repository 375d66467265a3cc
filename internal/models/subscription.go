// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Subscription is one (member, device endpoint) pair.
//
// Endpoint is unique across all subscriptions and is the natural key for upsert
// and deletion. AuthSecret and EncryptionKey are the per-subscription key material
// (the browser's "auth" and "p256dh" values) and must never be logged.
type Subscription struct {
	ID            string    `json:"id"`
	MemberID      int64     `json:"member_id"`
	Endpoint      string    `json:"endpoint"`
	AuthSecret    string    `json:"-"`
	EncryptionKey string    `json:"-"`
	UserAgent     string    `json:"user_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// String implements fmt.Stringer without exposing key material.
func (s Subscription) String() string {
	return fmt.Sprintf("subscription{id=%s member=%d endpoint=%s}", s.ID, s.MemberID, TruncateEndpoint(s.Endpoint))
}

// endpointLogLength is how much of an endpoint URL is kept in log output.
const endpointLogLength = 50

// TruncateEndpoint shortens a push endpoint for logging. Endpoint paths embed
// device tokens, so only the leading part is ever written to logs.
func TruncateEndpoint(endpoint string) string {
	if len(endpoint) <= endpointLogLength {
		return endpoint
	}
	cut := endpointLogLength
	for cut > 0 && !utf8.RuneStart(endpoint[cut]) {
		cut--
	}
	return endpoint[:cut] + "..."
}
