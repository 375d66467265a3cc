// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type contextKey string

var errMissingBearer = errors.New("missing bearer token")

// ClaimsContextKey holds the authenticated *Claims in a request context.
const ClaimsContextKey contextKey = "claims"

// Auth modes.
const (
	ModeJWT  = "jwt"
	ModeNone = "none"
)

// Development identity headers, honoured only in ModeNone.
const (
	HeaderDevMemberID = "X-Member-ID"
	HeaderDevRoles    = "X-Member-Roles"
)

// Middleware enforces bearer authentication.
type Middleware struct {
	jwtManager *JWTManager
	authMode   string
	logger     zerolog.Logger
}

// NewMiddleware creates the authentication middleware. jwtManager may be nil
// when authMode is ModeNone.
func NewMiddleware(jwtManager *JWTManager, authMode string, logger *zerolog.Logger) *Middleware {
	l := logger.With().Str("component", "auth").Logger()
	if authMode == ModeNone {
		l.Warn().Msg("Authentication disabled; identity is taken from X-Member-ID")
	}
	return &Middleware{jwtManager: jwtManager, authMode: authMode, logger: l}
}

// Authenticate resolves the caller's claims and rejects anonymous requests.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			claims *Claims
			err    error
		)
		if m.authMode == ModeNone {
			claims = devClaims(r)
		} else {
			claims, err = m.bearerClaims(r)
		}
		if err != nil || claims == nil {
			m.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) bearerClaims(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errMissingBearer
	}
	return m.jwtManager.ValidateToken(strings.TrimSpace(token))
}

// devClaims builds an identity from headers. A missing or malformed member id
// leaves the caller anonymous.
func devClaims(r *http.Request) *Claims {
	claims := &Claims{}
	claims.Subject = strings.TrimSpace(r.Header.Get(HeaderDevMemberID))
	if _, err := claims.MemberID(); err != nil {
		return nil
	}
	for _, role := range strings.Split(r.Header.Get(HeaderDevRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			claims.Roles = append(claims.Roles, role)
		}
	}
	return claims
}

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok && claims != nil
}

// ContextWithClaims stores claims the way Authenticate does.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteError writes the failure shape of the API envelope. The api package
// owns the full envelope; auth and authz only need this part.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	data, _ := json.Marshal(body)

	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="clubpush"`)
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
