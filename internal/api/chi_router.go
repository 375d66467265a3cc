// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/clubpush/internal/auth"
	"github.com/tomtom215/clubpush/internal/authz"
)

// Authorizer gates a route on permission to perform action on object.
// Satisfied by *authz.Middleware.
type Authorizer interface {
	Authorize(object, action string) func(http.Handler) http.Handler
}

// Router wires handlers to routes.
type Router struct {
	handler       *Handler
	middleware    *auth.Middleware
	authorizer    Authorizer
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil chiMiddleware uses the defaults.
func NewRouter(handler *Handler, middleware *auth.Middleware, authorizer Authorizer, chiMW *ChiMiddleware) *Router {
	if chiMW == nil {
		chiMW = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		middleware:    middleware,
		authorizer:    authorizer,
		chiMiddleware: chiMW,
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered
	r.Use(PrometheusMetrics)
	r.Use(AccessLog)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Health and metrics are unauthenticated and not rate limited; probes hit them often.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Device subscription endpoints used by the club app's service worker.
	r.Route("/push", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Get("/vapid-public-key", router.handler.VAPIDPublicKey)

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(router.middleware.Authenticate)
			r.Post("/subscribe", router.handler.Subscribe)
			r.Delete("/unsubscribe", router.handler.Unsubscribe)
		})
	})

	// Notification submission for organisers and admins.
	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(router.middleware.Authenticate)

		r.With(router.authorizer.Authorize(authz.ObjectNotifications, authz.ActionQueue)).
			Post("/", router.handler.SubmitNotification)
		r.With(router.authorizer.Authorize(authz.ObjectNotifications, authz.ActionDispatch)).
			Post("/dispatch", router.handler.DispatchNotification)
	})

	return r
}
