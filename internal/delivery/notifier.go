// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"context"

	"github.com/tomtom215/clubpush/internal/models"
)

// Submitter enqueues dispatch requests.
type Submitter interface {
	Submit(ctx context.Context, req DispatchRequest) (string, error)
}

// Notifier is the entry point for feature code (event planning, chat,
// scheduling) that wants to notify members. Every call returns as soon as the
// request is queued.
type Notifier struct {
	submitter Submitter
	channel   models.ChannelName
}

// NewNotifier creates a notifier sending over channel ("" = dispatcher default).
func NewNotifier(submitter Submitter, channel models.ChannelName) *Notifier {
	return &Notifier{submitter: submitter, channel: channel}
}

// NotifyMembers queues a notification for explicit members.
func (n *Notifier) NotifyMembers(ctx context.Context, payload models.NotificationPayload, memberIDs ...int64) (string, error) {
	return n.notify(ctx, models.ForMembers(memberIDs...), payload)
}

// NotifyRoles queues a notification for every member holding any of roles.
func (n *Notifier) NotifyRoles(ctx context.Context, payload models.NotificationPayload, roles ...string) (string, error) {
	return n.notify(ctx, models.ForRoles(roles...), payload)
}

// NotifyTeams queues a notification for the active members of the given teams.
func (n *Notifier) NotifyTeams(ctx context.Context, payload models.NotificationPayload, teamIDs ...int64) (string, error) {
	return n.notify(ctx, models.ForTeams(teamIDs...), payload)
}

// NotifyAllStaff queues a notification for the staff role set.
func (n *Notifier) NotifyAllStaff(ctx context.Context, payload models.NotificationPayload) (string, error) {
	return n.notify(ctx, models.ForAllStaff(), payload)
}

func (n *Notifier) notify(ctx context.Context, spec models.TargetingSpec, payload models.NotificationPayload) (string, error) {
	// Reject bad input here; a queued request that fails validation is only logged.
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	return n.submitter.Submit(ctx, DispatchRequest{
		Target:  spec,
		Payload: payload,
		Channel: n.channel,
	})
}
