// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package authz

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/auth"
	"github.com/tomtom215/clubpush/internal/metrics"
)

// Middleware gates routes on Casbin decisions. It must run after
// auth.Middleware.Authenticate.
type Middleware struct {
	enforcer *Enforcer
	logger   zerolog.Logger
}

// NewMiddleware creates the authorization middleware.
func NewMiddleware(enforcer *Enforcer, logger *zerolog.Logger) *Middleware {
	return &Middleware{
		enforcer: enforcer,
		logger:   logger.With().Str("component", "authz").Logger(),
	}
}

// Authorize allows the request when the caller may perform action on object.
// Members are checked as "member:<id>" so the policy can grant individuals
// as well as roles.
func (m *Middleware) Authorize(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				auth.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}

			roles := claims.NormalizedRoles()
			allowed, err := m.enforcer.EnforceWithRoles("member:"+claims.Subject, roles, object, action)
			if err != nil {
				m.logger.Error().Err(err).Str("object", object).Str("action", action).Msg("Authorization error")
				auth.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "authorization failed")
				return
			}
			if !allowed {
				metrics.AuthzDenied.WithLabelValues(object, action).Inc()
				m.logger.Info().
					Str("subject", claims.Subject).
					Strs("roles", roles).
					Str("object", object).
					Str("action", action).
					Msg("Permission denied")
				auth.WriteError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
