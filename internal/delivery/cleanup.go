// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/logging"
	"github.com/tomtom215/clubpush/internal/metrics"
)

// SubscriptionRemover deletes a subscription by id. Deleting a missing id is not an error.
type SubscriptionRemover interface {
	DeleteSubscriptionByID(ctx context.Context, id string) error
}

// Cleaner removes subscriptions whose endpoints are permanently gone.
type Cleaner struct {
	store  SubscriptionRemover
	logger zerolog.Logger
}

// NewCleaner creates a cleanup handler.
func NewCleaner(store SubscriptionRemover, logger *zerolog.Logger) *Cleaner {
	l := logging.WithComponent("cleanup")
	if logger != nil {
		l = logger.With().Str("component", "cleanup").Logger()
	}
	return &Cleaner{store: store, logger: l}
}

// OnTerminalFailure deletes the subscription behind a terminal outcome. It is
// idempotent and never fails the caller: store errors are logged and counted.
// It reports whether the delete went through.
func (c *Cleaner) OnTerminalFailure(ctx context.Context, subscriptionID string) bool {
	if subscriptionID == "" {
		return false
	}
	if err := c.store.DeleteSubscriptionByID(ctx, subscriptionID); err != nil {
		metrics.CleanupErrors.Inc()
		c.logger.Error().
			Err(err).
			Str("subscription_id", subscriptionID).
			Msg("failed to remove dead subscription")
		return false
	}
	metrics.RecordSubscriptionRemoved("terminal")
	c.logger.Info().
		Str("subscription_id", subscriptionID).
		Msg("removed subscription with gone endpoint")
	return true
}
