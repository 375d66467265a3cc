// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package delivery sends notifications to resolved audiences.
//
// Two channels are provided:
//   - Direct push: one Web Push request per stored device subscription,
//     encrypted and VAPID-signed by webpush-go
//   - Hosted provider: one batched request to a hosted push relay that
//     addresses members by logical id (member_<id>)
//
// The Dispatcher resolves the audience, expands it into channel targets and
// fans the sends out over a bounded worker pool. Every send produces a
// models.DeliveryOutcome; a failed send is data, never an error. Outcomes
// marked Terminal (the endpoint is permanently gone) are handed to the
// Cleaner, which removes the subscription. Nothing else mutates the store.
//
// Callers that must not wait on delivery go through the Queue: the HTTP API
// submits to it directly, in-process feature code uses a Notifier built over
// the same Queue.
//
// Security:
//   - Subscription key material is never logged
//   - Endpoints are truncated in log output
//   - Provider credentials are redacted
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tomtom215/clubpush/internal/models"
)

// ErrUnknownChannel is returned when a dispatch names a channel that is not registered.
var ErrUnknownChannel = errors.New("unknown delivery channel")

// Channel is implemented by every delivery backend.
type Channel interface {
	// Name returns the channel identifier.
	Name() models.ChannelName

	// Enabled reports whether the channel has the configuration it needs.
	// A disabled channel still answers Send with a non-terminal outcome.
	Enabled() bool

	// Targets expands an audience into the units the channel sends to.
	// An error here is an infrastructure failure (the store could not be read).
	Targets(ctx context.Context, memberIDs []int64) ([]Target, error)

	// Send delivers one payload to one target. It never returns an error;
	// failures are classified into the outcome.
	Send(ctx context.Context, target Target, payload models.NotificationPayload) models.DeliveryOutcome
}

// Target is one unit of delivery. Direct push fills Subscription; the hosted
// provider fills MemberIDs with the whole batch.
type Target struct {
	Subscription *models.Subscription
	MemberIDs    []int64
}

// Recipient returns a log-safe description of the target.
func (t Target) Recipient() string {
	if t.Subscription != nil {
		return models.TruncateEndpoint(t.Subscription.Endpoint)
	}
	switch len(t.MemberIDs) {
	case 0:
		return "none"
	case 1:
		return models.LogicalID(t.MemberIDs[0])
	default:
		return fmt.Sprintf("%s (+%d)", models.LogicalID(t.MemberIDs[0]), len(t.MemberIDs)-1)
	}
}

// subscriptionID returns the stored subscription id, if any.
func (t Target) subscriptionID() string {
	if t.Subscription == nil {
		return ""
	}
	return t.Subscription.ID
}

// Error codes for delivery failures.
const (
	ErrorCodeInvalidConfig    = "INVALID_CONFIG"
	ErrorCodeEndpointGone     = "ENDPOINT_GONE"
	ErrorCodeServerError      = "SERVER_ERROR"
	ErrorCodeRateLimited      = "RATE_LIMITED"
	ErrorCodeConnectionFailed = "CONNECTION_FAILED"
	ErrorCodeTimeout          = "TIMEOUT"
	ErrorCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrorCodePanic            = "PANIC"
	ErrorCodeUnknown          = "UNKNOWN"
)

// Registry holds the channels available to the dispatcher.
type Registry struct {
	mu       sync.RWMutex
	channels map[models.ChannelName]Channel
}

// NewRegistry creates a registry holding the given channels.
func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[models.ChannelName]Channel, len(channels))}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

// Register adds or replaces a channel.
func (r *Registry) Register(channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel.Name()] = channel
}

// Get retrieves a channel by name.
func (r *Registry) Get(name models.ChannelName) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return ch, nil
}

// List returns the registered channel names in sorted order.
func (r *Registry) List() []models.ChannelName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]models.ChannelName, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// classifyTransportError maps a transport-level error to an error code.
func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return ErrorCodeTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "refused") {
		return ErrorCodeConnectionFailed
	}
	return ErrorCodeUnknown
}

// truncateBody shortens a response body for log output.
func truncateBody(body []byte) string {
	const maxLogBody = 200
	if len(body) <= maxLogBody {
		return string(body)
	}
	cut := maxLogBody
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
