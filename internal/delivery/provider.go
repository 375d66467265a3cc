// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/clubpush/internal/config"
	"github.com/tomtom215/clubpush/internal/logging"
	"github.com/tomtom215/clubpush/internal/metrics"
	"github.com/tomtom215/clubpush/internal/models"
)

// providerBreakerName labels the provider circuit breaker in metrics and logs.
const providerBreakerName = "hosted-provider"

// providerRequest is the hosted provider's notification create body.
type providerRequest struct {
	AppID                  string            `json:"app_id"`
	IncludeExternalUserIDs []string          `json:"include_external_user_ids"`
	Headings               map[string]string `json:"headings"`
	Contents               map[string]string `json:"contents"`
	URL                    string            `json:"url,omitempty"`
	Icon                   string            `json:"icon,omitempty"`
	ChromeWebIcon          string            `json:"chrome_web_icon,omitempty"`
}

// providerResponse is the subset of the provider's reply we look at.
type providerResponse struct {
	ID         string          `json:"id"`
	Recipients int             `json:"recipients"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

// providerResult carries what came back from one provider call through the breaker.
type providerResult struct {
	status int
	body   []byte
}

// errProviderUnavailable marks responses that count against the circuit breaker.
var errProviderUnavailable = errors.New("provider unavailable")

// HostedProviderChannel delivers through a hosted push relay that fans out to
// its own device registrations. Members are addressed by logical id
// (member_<id>); the relay owns device bookkeeping, so this channel never
// produces terminal outcomes and never touches the subscription store.
type HostedProviderChannel struct {
	cfg    config.ProviderConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker[*providerResult]
	logger zerolog.Logger
}

// NewHostedProviderChannel creates the hosted provider channel. Missing
// credentials disable it with a warning.
func NewHostedProviderChannel(cfg config.ProviderConfig, logger *zerolog.Logger) *HostedProviderChannel {
	l := logging.WithComponent("hosted-provider")
	if logger != nil {
		l = logger.With().Str("component", "hosted-provider").Logger()
	}
	if cfg.URL == "" {
		cfg.URL = config.DefaultProviderURL
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if cfg.BreakerHalfOpenCalls == 0 {
		cfg.BreakerHalfOpenCalls = 1
	}

	ch := &HostedProviderChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: l,
	}
	ch.cb = newProviderBreaker(cfg, l)

	if !cfg.Enabled() {
		l.Warn().Msg("provider app id or API key not configured, hosted provider is disabled")
	} else {
		l.Info().
			Str("url", cfg.URL).
			Str("api_key", logging.Redact(cfg.APIKey)).
			Msg("hosted provider configured")
	}
	return ch
}

// newProviderBreaker opens after BreakerMaxFailures consecutive failures and
// probes again after BreakerTimeout.
func newProviderBreaker(cfg config.ProviderConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[*providerResult] {
	metrics.CircuitBreakerState.WithLabelValues(providerBreakerName).Set(0)

	return gobreaker.NewCircuitBreaker[*providerResult](gobreaker.Settings{
		Name:        providerBreakerName,
		MaxRequests: cfg.BreakerHalfOpenCalls,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logger.Warn().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
}

// Name implements Channel.
func (c *HostedProviderChannel) Name() models.ChannelName {
	return models.ChannelHostedProvider
}

// Enabled implements Channel.
func (c *HostedProviderChannel) Enabled() bool {
	return c.cfg.Enabled()
}

// Targets returns a single batch target for the whole audience.
func (c *HostedProviderChannel) Targets(_ context.Context, memberIDs []int64) ([]Target, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(memberIDs))
	copy(ids, memberIDs)
	return []Target{{MemberIDs: ids}}, nil
}

// SendToMembers sends one notification to all members in a single provider
// call and reports whether the provider accepted it.
func (c *HostedProviderChannel) SendToMembers(ctx context.Context, memberIDs []int64, payload models.NotificationPayload) bool {
	if len(memberIDs) == 0 {
		return false
	}
	return c.Send(ctx, Target{MemberIDs: memberIDs}, payload).Success
}

// Send implements Channel. The outcome covers the whole batch.
func (c *HostedProviderChannel) Send(ctx context.Context, target Target, payload models.NotificationPayload) (outcome models.DeliveryOutcome) {
	start := time.Now()
	outcome = models.DeliveryOutcome{Recipient: target.Recipient()}
	defer func() { outcome.Duration = time.Since(start) }()

	if !c.Enabled() {
		outcome.ErrorCode = ErrorCodeInvalidConfig
		outcome.ErrorDetail = "hosted provider is not configured"
		return outcome
	}
	if len(target.MemberIDs) == 0 {
		outcome.ErrorCode = ErrorCodeInvalidConfig
		outcome.ErrorDetail = "target has no members"
		return outcome
	}

	body, err := json.Marshal(c.buildRequest(target.MemberIDs, payload))
	if err != nil {
		outcome.ErrorCode = ErrorCodeUnknown
		outcome.ErrorDetail = fmt.Sprintf("encode request: %v", err)
		return outcome
	}

	result, err := c.execute(func() (*providerResult, error) {
		return c.post(ctx, body)
	})
	if result != nil {
		outcome.StatusCode = result.status
	}
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			outcome.ErrorCode = ErrorCodeCircuitOpen
		case errors.Is(err, errProviderUnavailable) && result != nil:
			outcome.ErrorCode = classifyProviderStatus(result.status)
		default:
			outcome.ErrorCode = classifyTransportError(err)
		}
		outcome.ErrorDetail = err.Error()
		c.logger.Warn().
			Int("members", len(target.MemberIDs)).
			Str("error_code", outcome.ErrorCode).
			Err(err).
			Msg("provider request failed")
		return outcome
	}

	if result.status < 200 || result.status >= 300 {
		// Client errors do not trip the breaker but are still failures.
		outcome.ErrorCode = classifyProviderStatus(result.status)
		outcome.ErrorDetail = fmt.Sprintf("provider returned %d: %s", result.status, truncateBody(result.body))
		c.logger.Warn().
			Int("status", result.status).
			Str("body", truncateBody(result.body)).
			Msg("provider rejected notification")
		return outcome
	}

	outcome.Success = true
	var parsed providerResponse
	if err := json.Unmarshal(result.body, &parsed); err == nil {
		outcome.ExternalID = parsed.ID
		if hasProviderErrors(parsed.Errors) {
			c.logger.Warn().
				RawJSON("errors", parsed.Errors).
				Int("members", len(target.MemberIDs)).
				Msg("provider accepted notification with errors")
		}
	}
	return outcome
}

func (c *HostedProviderChannel) buildRequest(memberIDs []int64, payload models.NotificationPayload) providerRequest {
	externalIDs := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		externalIDs[i] = models.LogicalID(id)
	}
	return providerRequest{
		AppID:                  c.cfg.AppID,
		IncludeExternalUserIDs: externalIDs,
		Headings:               map[string]string{"en": payload.Title},
		Contents:               map[string]string{"en": payload.Body},
		URL:                    payload.URL,
		Icon:                   payload.Icon,
		ChromeWebIcon:          payload.Icon,
	}
}

// post performs the HTTP call. Transport failures, 429 and 5xx return an
// error so they count against the breaker.
func (c *HostedProviderChannel) post(ctx context.Context, body []byte) (*providerResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Basic "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp.Body)

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck // best-effort diagnostics
	result := &providerResult{status: resp.StatusCode, body: respBody}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return result, fmt.Errorf("%w: status %d", errProviderUnavailable, resp.StatusCode)
	}
	return result, nil
}

// execute wraps a provider call with circuit breaker protection and metrics.
func (c *HostedProviderChannel) execute(fn func() (*providerResult, error)) (*providerResult, error) {
	var last *providerResult
	_, err := c.cb.Execute(func() (*providerResult, error) {
		r, err := fn()
		last = r
		return r, err
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(providerBreakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(providerBreakerName, "rejected").Inc()
		c.logger.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(providerBreakerName, "failure").Inc()
	}
	return last, err
}

// BreakerState returns the current circuit breaker state name.
func (c *HostedProviderChannel) BreakerState() string {
	return stateToString(c.cb.State())
}

func classifyProviderStatus(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorCodeInvalidConfig
	case code == http.StatusTooManyRequests:
		return ErrorCodeRateLimited
	case code >= 500:
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}

// hasProviderErrors reports whether the provider's "errors" field carries anything.
// The provider uses both arrays and objects here.
func hasProviderErrors(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "[]", "{}":
		return false
	default:
		return true
	}
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
