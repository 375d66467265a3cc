// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/clubpush/internal/config"
	"github.com/tomtom215/clubpush/internal/logging"
	"github.com/tomtom215/clubpush/internal/models"
)

// maxResponseBody caps how much of a push service response is read.
const maxResponseBody = 4096

// SubscriptionLister reads the device subscriptions of a set of members.
type SubscriptionLister interface {
	ListSubscriptionsByMemberIDs(ctx context.Context, ids []int64) ([]models.Subscription, error)
}

// DirectPushChannel delivers over the Web Push protocol straight to each
// device's push service. Payloads are encrypted per subscription (aes128gcm)
// and every request carries a VAPID JWT signed with the server key.
type DirectPushChannel struct {
	cfg     config.PushConfig
	store   SubscriptionLister
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewDirectPushChannel creates the direct push channel. When either VAPID key
// half is missing the channel is disabled: this is logged once here and every
// send reports a non-terminal INVALID_CONFIG outcome.
func NewDirectPushChannel(cfg config.PushConfig, store SubscriptionLister, logger *zerolog.Logger) *DirectPushChannel {
	l := logging.WithComponent("direct-push")
	if logger != nil {
		l = logger.With().Str("component", "direct-push").Logger()
	}

	ch := &DirectPushChannel{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: l,
	}
	if cfg.MaxSendsPerSecond > 0 {
		ch.limiter = rate.NewLimiter(rate.Limit(cfg.MaxSendsPerSecond), 1)
	}

	if !cfg.Enabled() {
		l.Warn().Msg("VAPID keys not configured, direct push is disabled")
	}
	return ch
}

// Name implements Channel.
func (c *DirectPushChannel) Name() models.ChannelName {
	return models.ChannelDirectPush
}

// Enabled implements Channel.
func (c *DirectPushChannel) Enabled() bool {
	return c.cfg.Enabled()
}

// PublicKey returns the VAPID public key browsers subscribe with.
func (c *DirectPushChannel) PublicKey() string {
	return c.cfg.VAPIDPublicKey
}

// Targets expands members into one target per stored subscription.
func (c *DirectPushChannel) Targets(ctx context.Context, memberIDs []int64) ([]Target, error) {
	subs, err := c.store.ListSubscriptionsByMemberIDs(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	targets := make([]Target, len(subs))
	for i := range subs {
		targets[i] = Target{Subscription: &subs[i]}
	}
	return targets, nil
}

// Send delivers one payload to one device subscription. No retries are made.
func (c *DirectPushChannel) Send(ctx context.Context, target Target, payload models.NotificationPayload) (outcome models.DeliveryOutcome) {
	start := time.Now()
	outcome = models.DeliveryOutcome{
		SubscriptionID: target.subscriptionID(),
		Recipient:      target.Recipient(),
	}
	defer func() { outcome.Duration = time.Since(start) }()

	if !c.Enabled() {
		outcome.ErrorCode = ErrorCodeInvalidConfig
		outcome.ErrorDetail = "direct push is not configured"
		return outcome
	}
	sub := target.Subscription
	if sub == nil {
		outcome.ErrorCode = ErrorCodeInvalidConfig
		outcome.ErrorDetail = "target has no subscription"
		return outcome
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			outcome.ErrorCode = ErrorCodeTimeout
			outcome.ErrorDetail = err.Error()
			return outcome
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		outcome.ErrorCode = ErrorCodeUnknown
		outcome.ErrorDetail = fmt.Sprintf("encode payload: %v", err)
		return outcome
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.EncryptionKey,
			Auth:   sub.AuthSecret,
		},
	}, &webpush.Options{
		HTTPClient:      c.client,
		Subscriber:      subscriberContact(c.cfg.Subscriber),
		TTL:             c.cfg.TTL,
		Urgency:         webpush.Urgency(c.cfg.Urgency),
		VAPIDPublicKey:  c.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: c.cfg.VAPIDPrivateKey,
	})
	if err != nil {
		// Transport errors, encryption failures on malformed keys and
		// cancellation are all non-terminal.
		outcome.ErrorCode = classifyTransportError(err)
		outcome.ErrorDetail = err.Error()
		c.logger.Warn().
			Str("endpoint", outcome.Recipient).
			Str("error_code", outcome.ErrorCode).
			Err(err).
			Msg("push request failed")
		return outcome
	}
	defer closeBody(resp.Body)

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck // best-effort diagnostics
	outcome.StatusCode = resp.StatusCode
	outcome.Success, outcome.Terminal, outcome.ErrorCode = classifyPushStatus(resp.StatusCode)
	if outcome.Success {
		outcome.ExternalID = resp.Header.Get("Location")
		return outcome
	}

	snippet := truncateBody(respBody)
	outcome.ErrorDetail = fmt.Sprintf("push service returned %d: %s", resp.StatusCode, snippet)

	// Terminal rejections are routine churn; the cleaner logs the removal too.
	event := c.logger.Warn()
	if outcome.Terminal {
		event = c.logger.Info()
	}
	event.
		Str("endpoint", outcome.Recipient).
		Int("status", resp.StatusCode).
		Str("error_code", outcome.ErrorCode).
		Bool("terminal", outcome.Terminal).
		Str("response", snippet).
		Msg("push service rejected message")
	return outcome
}

// classifyPushStatus maps a push service status code onto (success, terminal, code).
// Only 404 and 410 mean the subscription is permanently gone; everything else,
// including other 4xx responses, is treated as transient.
func classifyPushStatus(code int) (success, terminal bool, errorCode string) {
	switch {
	case code >= 200 && code < 300:
		return true, false, ""
	case code == http.StatusNotFound || code == http.StatusGone:
		return false, true, ErrorCodeEndpointGone
	case code == http.StatusTooManyRequests:
		return false, false, ErrorCodeRateLimited
	case code >= 500:
		return false, false, ErrorCodeServerError
	default:
		return false, false, ErrorCodeUnknown
	}
}

// subscriberContact strips the mailto: scheme; webpush-go adds it back for
// anything that is not an https URL.
func subscriberContact(subscriber string) string {
	return strings.TrimPrefix(subscriber, "mailto:")
}

func closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		logging.Debug().Err(err).Msg("failed to close response body")
	}
}
