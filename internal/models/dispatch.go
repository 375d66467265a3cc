// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package models

import (
	"fmt"
	"time"
)

// ChannelName identifies a delivery backend.
type ChannelName string

const (
	// ChannelDirectPush sends straight to device endpoints over the Web Push protocol.
	ChannelDirectPush ChannelName = "direct_push"

	// ChannelHostedProvider sends through the hosted push relay by logical member id.
	ChannelHostedProvider ChannelName = "hosted_provider"
)

// ValidChannelNames lists the channels a dispatch request may name.
var ValidChannelNames = []ChannelName{ChannelDirectPush, ChannelHostedProvider}

// ParseChannelName converts user input into a ChannelName. An empty string selects
// the direct push channel.
func ParseChannelName(s string) (ChannelName, error) {
	if s == "" {
		return ChannelDirectPush, nil
	}
	for _, name := range ValidChannelNames {
		if string(name) == s {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

// DeliveryOutcome is the classified result of one delivery attempt.
//
// Terminal is only ever true when the target endpoint is permanently gone; the
// orchestrator removes the subscription for such outcomes. A failed outcome with
// Terminal=false is transient and leaves the store untouched.
type DeliveryOutcome struct {
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Recipient      string        `json:"recipient"`
	Success        bool          `json:"success"`
	Terminal       bool          `json:"terminal"`
	StatusCode     int           `json:"status_code,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty"`
	ErrorDetail    string        `json:"error_detail,omitempty"`
	ExternalID     string        `json:"external_id,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// DispatchStatus summarises a report.
type DispatchStatus string

const (
	DispatchStatusEmpty      DispatchStatus = "empty"
	DispatchStatusDelivered  DispatchStatus = "delivered"
	DispatchStatusPartial    DispatchStatus = "partial"
	DispatchStatusFailed     DispatchStatus = "failed"
	DispatchStatusSuppressed DispatchStatus = "suppressed"
)

// DispatchReport is the aggregate result of one dispatch. It is returned for every
// dispatch that got past validation, whatever happened to individual recipients.
type DispatchReport struct {
	DispatchID      string            `json:"dispatch_id"`
	Channel         ChannelName       `json:"channel"`
	Status          DispatchStatus    `json:"status"`
	AudienceSize    int               `json:"audience_size"`
	Attempted       int               `json:"attempted"`
	Succeeded       int               `json:"succeeded"`
	FailedTerminal  int               `json:"failed_terminal"`
	FailedTransient int               `json:"failed_transient"`
	Removed         int               `json:"removed"`
	Suppressed      bool              `json:"suppressed,omitempty"`
	Outcomes        []DeliveryOutcome `json:"outcomes,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at"`
	DurationMS      int64             `json:"duration_ms"`
}

// Add folds one outcome into the counters.
func (r *DispatchReport) Add(o DeliveryOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Attempted++
	switch {
	case o.Success:
		r.Succeeded++
	case o.Terminal:
		r.FailedTerminal++
	default:
		r.FailedTransient++
	}
}

// Finish stamps completion time and derives the overall status.
func (r *DispatchReport) Finish(now time.Time) {
	r.CompletedAt = now
	r.DurationMS = now.Sub(r.StartedAt).Milliseconds()

	switch {
	case r.Suppressed:
		r.Status = DispatchStatusSuppressed
	case r.Attempted == 0:
		r.Status = DispatchStatusEmpty
	case r.Succeeded == r.Attempted:
		r.Status = DispatchStatusDelivered
	case r.Succeeded == 0:
		r.Status = DispatchStatusFailed
	default:
		r.Status = DispatchStatusPartial
	}
}
