// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/clubpush/internal/metrics"
)

// readinessTimeout bounds the database checks behind /health/ready.
const readinessTimeout = 2 * time.Second

// LivenessStatus is the body of /health/live.
type LivenessStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ReadinessStatus is the body of /health/ready.
type ReadinessStatus struct {
	Status            string          `json:"status"`
	DatabaseConnected bool            `json:"database_connected"`
	Subscriptions     int64           `json:"subscriptions"`
	Channels          map[string]bool `json:"channels"`
}

// HealthLive reports that the process is serving requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(LivenessStatus{
		Status:        "alive",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady reports whether the database is reachable and which channels
// are configured. A disabled channel does not make the service unready.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := ReadinessStatus{Status: "ready", Channels: h.channelStates()}

	if err := h.health.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check: database unreachable")
		status.Status = "not_ready"
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "database unreachable", status)
		return
	}
	status.DatabaseConnected = true

	if n, err := h.health.CountSubscriptions(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check: subscription count failed")
	} else {
		status.Subscriptions = n
		metrics.SubscriptionsStored.Set(float64(n))
	}

	rw.Success(status)
}

func (h *Handler) channelStates() map[string]bool {
	states := make(map[string]bool)
	if h.channels == nil {
		return states
	}
	for _, name := range h.channels.List() {
		if ch, err := h.channels.Get(name); err == nil {
			states[string(name)] = ch.Enabled()
		}
	}
	return states
}
