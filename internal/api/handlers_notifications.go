// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/clubpush/internal/delivery"
	"github.com/tomtom215/clubpush/internal/models"
)

// notificationRequest is the body of both notification endpoints.
type notificationRequest struct {
	Target   models.TargetingSpec       `json:"target"`
	Payload  models.NotificationPayload `json:"payload"`
	Channel  models.ChannelName         `json:"channel,omitempty" validate:"omitempty,oneof=direct_push hosted_provider"`
	DedupKey string                     `json:"dedup_key,omitempty" validate:"omitempty,max=200"`
}

// queuedResponse is returned with 202 Accepted.
type queuedResponse struct {
	DispatchID string             `json:"dispatch_id"`
	Channel    models.ChannelName `json:"channel"`
	Status     string             `json:"status"`
}

// SubmitNotification validates a notification and hands it to the background
// queue. It answers 202 as soon as the request is queued and never waits for
// delivery.
func (h *Handler) SubmitNotification(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.submitter == nil {
		rw.ServiceUnavailable("background dispatch is not available")
		return
	}

	req, ok := h.bindDispatchRequest(rw, w, r)
	if !ok {
		return
	}

	id, err := h.submitter.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, delivery.ErrQueueNotRunning) {
			rw.ServiceUnavailable("dispatch queue is not running")
			return
		}
		rw.InternalError("Failed to queue notification", err)
		return
	}

	h.logger.Info().
		Str("dispatch_id", id).
		Str("channel", string(req.Channel)).
		Str("target", string(req.Target.Kind())).
		Int64("requested_by", req.RequestedBy).
		Str("dedup_key", sanitizeLogValue(req.DedupKey)).
		Msg("Notification queued")

	rw.Accepted(queuedResponse{DispatchID: id, Channel: req.Channel, Status: "queued"})
}

// DispatchNotification runs a dispatch synchronously and returns the full
// report. It is an operator tool for diagnosing delivery problems.
func (h *Handler) DispatchNotification(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.executor == nil {
		rw.ServiceUnavailable("dispatch is not available")
		return
	}

	req, ok := h.bindDispatchRequest(rw, w, r)
	if !ok {
		return
	}

	report, err := h.executor.Execute(r.Context(), req)
	if err != nil {
		if isInputError(err) {
			rw.ValidationError(err.Error(), nil)
			return
		}
		rw.InternalError("Dispatch failed", err)
		return
	}

	rw.Success(report)
}

// bindDispatchRequest decodes and validates a notification request, fills in
// the default channel and the caller, and checks the channel exists.
func (h *Handler) bindDispatchRequest(rw *ResponseWriter, w http.ResponseWriter, r *http.Request) (delivery.DispatchRequest, bool) {
	var body notificationRequest
	if !bindJSON(rw, w, r, &body) {
		return delivery.DispatchRequest{}, false
	}
	if err := body.Target.Validate(); err != nil {
		rw.ValidationError(err.Error(), map[string]interface{}{"field": "target"})
		return delivery.DispatchRequest{}, false
	}
	if err := body.Payload.Validate(); err != nil {
		rw.ValidationError(err.Error(), map[string]interface{}{"field": "payload.title"})
		return delivery.DispatchRequest{}, false
	}

	channel := body.Channel
	if channel == "" {
		channel = h.defaultChannel
	}
	if _, err := h.channels.Get(channel); err != nil {
		rw.Error(http.StatusBadRequest, ErrCodeUnknownChannel, err.Error())
		return delivery.DispatchRequest{}, false
	}

	req := delivery.DispatchRequest{
		Target:   body.Target,
		Payload:  body.Payload,
		Channel:  channel,
		DedupKey: body.DedupKey,
	}
	if memberID, err := callerMemberID(r); err == nil {
		req.RequestedBy = memberID
	}
	return req, true
}

// isInputError reports whether err is the caller's fault.
func isInputError(err error) bool {
	return errors.Is(err, models.ErrInvalidTarget) ||
		errors.Is(err, models.ErrInvalidPayload) ||
		errors.Is(err, delivery.ErrUnknownChannel)
}
