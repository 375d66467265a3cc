// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/clubpush/internal/api"
	"github.com/tomtom215/clubpush/internal/audience"
	"github.com/tomtom215/clubpush/internal/auth"
	"github.com/tomtom215/clubpush/internal/authz"
	"github.com/tomtom215/clubpush/internal/config"
	"github.com/tomtom215/clubpush/internal/database"
	"github.com/tomtom215/clubpush/internal/dedup"
	"github.com/tomtom215/clubpush/internal/delivery"
	"github.com/tomtom215/clubpush/internal/logging"
	"github.com/tomtom215/clubpush/internal/metrics"
	"github.com/tomtom215/clubpush/internal/models"
	"github.com/tomtom215/clubpush/internal/supervisor"
	"github.com/tomtom215/clubpush/internal/supervisor/services"
)

// subscriptionGaugeInterval is how often the stored subscription gauge is refreshed.
const subscriptionGaugeInterval = time.Minute

// app holds the long-lived components built from configuration.
type app struct {
	cfg *config.Config

	db       *database.DB
	dedup    dedup.Store
	queue    *delivery.Queue
	notifier *delivery.Notifier
	enforcer *authz.Enforcer
	server   *http.Server
}

// newApp builds every component. On error, anything already opened is closed.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

//nolint:gocyclo // sequential setup steps
func (a *app) build() error {
	cfg := a.cfg
	logger := logging.Logger()

	var err error
	a.db, err = database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	logging.Info().Str("driver", a.db.Driver()).Msg("Database initialized successfully")

	// === DELIVERY ===

	directPush := delivery.NewDirectPushChannel(cfg.Push, a.db, &logger)
	hosted := delivery.NewHostedProviderChannel(cfg.Provider, &logger)
	registry := delivery.NewRegistry(directPush, hosted)
	cleaner := delivery.NewCleaner(a.db, &logger)

	dispatcher := delivery.NewDispatcher(
		audience.NewResolver(a.db, cfg.Dispatch.AllStaffRoles),
		registry,
		cleaner,
		delivery.DispatcherConfig{
			Parallelism:    cfg.Push.Parallelism,
			DefaultChannel: models.ChannelName(cfg.Dispatch.DefaultChannel),
		},
		&logger,
	)

	a.dedup, err = dedup.New(cfg.Dedup)
	if err != nil {
		return fmt.Errorf("failed to initialize dedup store: %w", err)
	}
	if a.dedup != nil {
		dispatcher.SetDeduplicator(a.dedup)
		logging.Info().Str("backend", a.dedup.Name()).Dur("ttl", cfg.Dedup.TTL).Msg("Dispatch deduplication enabled")
	}

	a.queue = delivery.NewQueue(dispatcher, delivery.QueueConfig{
		Timeout: cfg.Dispatch.Timeout,
		Buffer:  cfg.Dispatch.QueueBuffer,
		Workers: cfg.Dispatch.Workers,
	}, &logger)
	// In-process feature code notifies through this; it shares the queue with the HTTP API.
	a.notifier = delivery.NewNotifier(a.queue, models.ChannelName(cfg.Dispatch.DefaultChannel))

	// === HTTP ===

	var jwtManager *auth.JWTManager
	if cfg.Security.AuthMode == auth.ModeJWT {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT manager: %w", err)
		}
	} else {
		logging.Warn().Msg("AUTH_MODE=none: identity is taken from request headers, do not expose this server")
	}
	authn := auth.NewMiddleware(jwtManager, cfg.Security.AuthMode, &logger)

	a.enforcer, err = authz.NewEnforcer(authz.EnforcerConfig{
		PolicyPath:     cfg.Security.AuthzPolicyPath,
		ReloadInterval: cfg.Security.AuthzReloadInterval,
		CacheTTL:       cfg.Security.AuthzCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize authorization: %w", err)
	}
	if cfg.Security.AuthzPolicyPath != "" {
		logging.Info().Str("path", cfg.Security.AuthzPolicyPath).Msg("Loaded authorization policy file")
	}

	handler := api.NewHandler(api.Deps{
		Store:          a.db,
		Health:         a.db,
		Keys:           directPush,
		Channels:       registry,
		Submitter:      a.queue,
		Executor:       dispatcher,
		DefaultChannel: models.ChannelName(cfg.Dispatch.DefaultChannel),
	}, &logger)

	chiMW := api.NewChiMiddlewareFromSecurity(
		cfg.Security.CORSOrigins,
		cfg.Security.RateLimitReqs,
		cfg.Security.RateLimitWindow,
		cfg.Security.RateLimitDisabled,
	)
	router := api.NewRouter(handler, authn, authz.NewMiddleware(a.enforcer, &logger), chiMW)

	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
	return nil
}

// addServices registers the long-running parts of the app with the tree.
func (a *app) addServices(tree *supervisor.SupervisorTree) {
	// Delivery layer
	tree.AddDeliveryService(a.queue)

	if m, ok := a.dedup.(dedup.Maintainer); ok {
		tree.AddDeliveryService(services.NewPeriodicService("dedup-maintenance", m.Maintain,
			services.PeriodicServiceConfig{Interval: a.cfg.Dedup.MaintenanceInterval},
			logging.WithComponent("dedup")))
		logging.Info().Dur("interval", a.cfg.Dedup.MaintenanceInterval).Msg("Dedup maintenance added to supervisor tree")
	}

	tree.AddDeliveryService(services.NewPeriodicService("subscription-gauge", a.refreshSubscriptionGauge,
		services.PeriodicServiceConfig{Interval: subscriptionGaugeInterval, RunOnStart: true},
		logging.WithComponent("metrics")))

	// API layer
	tree.AddAPIService(services.NewHTTPServerService(a.server, a.cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", a.server.Addr).Msg("HTTP server service added")
}

func (a *app) refreshSubscriptionGauge(ctx context.Context) error {
	n, err := a.db.CountSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("count subscriptions: %w", err)
	}
	metrics.SubscriptionsStored.Set(float64(n))
	return nil
}

// close releases resources. Safe on a partially built app.
func (a *app) close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing dispatch queue")
		}
	}
	if a.enforcer != nil {
		a.enforcer.Close()
	}
	if a.dedup != nil {
		if err := a.dedup.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing dedup store")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}
}
