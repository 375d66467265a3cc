// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/delivery"
	"github.com/tomtom215/clubpush/internal/models"
)

// SubscriptionStore is the part of the database the push endpoints use.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, memberID int64, endpoint, authSecret, encryptionKey, userAgent string) (*models.Subscription, error)
	DeleteMemberSubscriptionByEndpoint(ctx context.Context, memberID int64, endpoint string) (bool, error)
}

// HealthChecker backs the readiness probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
	CountSubscriptions(ctx context.Context) (int64, error)
}

// VAPIDKeySource exposes the public half of the VAPID key pair.
type VAPIDKeySource interface {
	Enabled() bool
	PublicKey() string
}

// ChannelLookup resolves channel names; *delivery.Registry satisfies it.
type ChannelLookup interface {
	Get(name models.ChannelName) (delivery.Channel, error)
	List() []models.ChannelName
}

// Deps are the collaborators a Handler needs. Store, Health, Keys and
// Channels are required; Submitter and Executor may be nil, in which case the
// corresponding notification endpoint answers 503.
type Deps struct {
	Store          SubscriptionStore
	Health         HealthChecker
	Keys           VAPIDKeySource
	Channels       ChannelLookup
	Submitter      delivery.Submitter
	Executor       delivery.Executor
	DefaultChannel models.ChannelName
}

// Handler contains dependencies for API handlers
//
// Handler methods are split across files:
//   - handlers_push.go: subscribe, unsubscribe, VAPID public key
//   - handlers_notifications.go: queued and synchronous dispatch
//   - handlers_health.go: liveness and readiness
type Handler struct {
	store          SubscriptionStore
	health         HealthChecker
	keys           VAPIDKeySource
	channels       ChannelLookup
	submitter      delivery.Submitter
	executor       delivery.Executor
	defaultChannel models.ChannelName
	startTime      time.Time
	logger         zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zerolog.Logger) *Handler {
	defaultChannel := deps.DefaultChannel
	if defaultChannel == "" {
		defaultChannel = models.ChannelDirectPush
	}
	return &Handler{
		store:          deps.Store,
		health:         deps.Health,
		keys:           deps.Keys,
		channels:       deps.Channels,
		submitter:      deps.Submitter,
		executor:       deps.Executor,
		defaultChannel: defaultChannel,
		startTime:      time.Now(),
		logger:         logger.With().Str("component", "api").Logger(),
	}
}
