// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/clubpush/internal/database"
	"github.com/tomtom215/clubpush/internal/metrics"
	"github.com/tomtom215/clubpush/internal/models"
)

// subscriptionKeys mirrors PushSubscription.toJSON().keys.
type subscriptionKeys struct {
	P256DH string `json:"p256dh" validate:"required,p256dh"`
	Auth   string `json:"auth" validate:"required,push_auth"`
}

// subscribeRequest is the browser's PushSubscription.toJSON() output.
// expirationTime is accepted and ignored.
type subscribeRequest struct {
	Endpoint       string           `json:"endpoint" validate:"required,max=2048,push_endpoint"`
	Keys           subscriptionKeys `json:"keys"`
	ExpirationTime *int64           `json:"expirationTime,omitempty"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,max=2048"`
}

// vapidKeyResponse is the body of GET /push/vapid-public-key.
type vapidKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// Subscribe stores the caller's device subscription.
//
// Re-subscribing an endpoint updates it in place, so the call is idempotent
// and always answers 201 with the subscription id.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	memberID, err := callerMemberID(r)
	if err != nil {
		rw.Unauthorized("authentication required")
		return
	}

	var req subscribeRequest
	if !bindJSON(rw, w, r, &req) {
		return
	}

	sub, err := h.store.UpsertSubscription(r.Context(), memberID, req.Endpoint, req.Keys.Auth, req.Keys.P256DH, r.UserAgent())
	if err != nil {
		if errors.Is(err, database.ErrInvalidSubscription) {
			rw.BadRequest(err.Error())
			return
		}
		rw.DatabaseError(err)
		return
	}
	metrics.SubscriptionsUpserted.Inc()

	h.logger.Info().
		Int64("member_id", memberID).
		Str("subscription_id", sub.ID).
		Str("endpoint", models.TruncateEndpoint(sub.Endpoint)).
		Msg("Push subscription stored")

	rw.Created(sub)
}

// Unsubscribe removes the caller's subscription for an endpoint. Unknown
// endpoints and endpoints owned by other members are a silent no-op.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	memberID, err := callerMemberID(r)
	if err != nil {
		rw.Unauthorized("authentication required")
		return
	}

	var req unsubscribeRequest
	if !bindJSON(rw, w, r, &req) {
		return
	}

	removed, err := h.store.DeleteMemberSubscriptionByEndpoint(r.Context(), memberID, req.Endpoint)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if removed {
		metrics.RecordSubscriptionRemoved("unsubscribe")
		h.logger.Info().
			Int64("member_id", memberID).
			Str("endpoint", models.TruncateEndpoint(req.Endpoint)).
			Msg("Push subscription removed")
	}

	rw.NoContent()
}

// VAPIDPublicKey returns the application server key browsers need for
// pushManager.subscribe. It answers 503 while direct push is not configured.
func (h *Handler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.keys == nil || !h.keys.Enabled() {
		rw.ServiceUnavailable("direct push is not configured")
		return
	}
	rw.Success(vapidKeyResponse{PublicKey: h.keys.PublicKey()})
}
