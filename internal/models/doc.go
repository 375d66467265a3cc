// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

/*
Package models defines the data structures shared by the push dispatch subsystem.

Key Components:

  - Subscription: one registered device endpoint owned by a member
  - NotificationPayload: the title/body/url/icon value delivered to devices
  - TargetingSpec: which members a notification is meant for
  - DeliveryOutcome: the classified result of one delivery attempt
  - DispatchReport: the aggregate, never-failing summary of one fan-out
  - Member: the directory entity the audience resolver queries

Subscriptions are the only persisted push state. Payloads, targeting specs, outcomes
and reports are transient values that live for a single dispatch.
*/
package models
