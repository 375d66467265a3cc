// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/logging"
	"github.com/tomtom215/clubpush/internal/metrics"
	"github.com/tomtom215/clubpush/internal/models"
)

// AudienceResolver turns a targeting spec into member ids.
type AudienceResolver interface {
	Resolve(ctx context.Context, spec models.TargetingSpec) ([]int64, error)
}

// Deduplicator suppresses repeated dispatches with the same key.
type Deduplicator interface {
	// CheckAndMark records key and reports whether it had already been seen.
	CheckAndMark(ctx context.Context, key string) (duplicate bool, err error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// DispatchRequest is one notification to send. It is also the message body
// of the background queue.
type DispatchRequest struct {
	DispatchID  string                     `json:"dispatch_id,omitempty"`
	Target      models.TargetingSpec       `json:"target"`
	Payload     models.NotificationPayload `json:"payload"`
	Channel     models.ChannelName         `json:"channel,omitempty"`
	DedupKey    string                     `json:"dedup_key,omitempty"`
	RequestedBy int64                      `json:"requested_by,omitempty"`
}

// DispatcherConfig contains configuration for the dispatcher.
type DispatcherConfig struct {
	// Parallelism is the maximum number of concurrent sends per dispatch.
	Parallelism int

	// DefaultChannel is used when a request names none.
	DefaultChannel models.ChannelName
}

// Dispatcher resolves audiences and fans deliveries out over a channel.
type Dispatcher struct {
	resolver       AudienceResolver
	registry       *Registry
	cleaner        *Cleaner
	dedup          Deduplicator
	parallelism    int
	defaultChannel models.ChannelName
	logger         zerolog.Logger
	now            func() time.Time
}

// NewDispatcher creates a dispatcher. The cleaner may be nil, in which case
// terminal outcomes are reported but nothing is removed.
func NewDispatcher(resolver AudienceResolver, registry *Registry, cleaner *Cleaner, cfg DispatcherConfig, logger *zerolog.Logger) *Dispatcher {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = models.ChannelDirectPush
	}
	l := logging.WithComponent("dispatcher")
	if logger != nil {
		l = logger.With().Str("component", "dispatcher").Logger()
	}
	return &Dispatcher{
		resolver:       resolver,
		registry:       registry,
		cleaner:        cleaner,
		parallelism:    cfg.Parallelism,
		defaultChannel: cfg.DefaultChannel,
		logger:         l,
		now:            time.Now,
	}
}

// SetDeduplicator enables duplicate suppression for requests that carry a dedup key.
func (d *Dispatcher) SetDeduplicator(s Deduplicator) {
	d.dedup = s
}

// Dispatch sends payload to everyone spec selects over the named channel and
// waits for every send to settle.
//
// Errors are returned only for bad input (invalid spec or payload, unknown
// channel) and for infrastructure failures while resolving the audience or
// reading subscriptions. Delivery failures are recorded in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, spec models.TargetingSpec, payload models.NotificationPayload, channel models.ChannelName) (*models.DispatchReport, error) {
	return d.Execute(ctx, DispatchRequest{Target: spec, Payload: payload, Channel: channel})
}

// Execute runs a full dispatch request, honouring its dedup key.
func (d *Dispatcher) Execute(ctx context.Context, req DispatchRequest) (*models.DispatchReport, error) {
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}
	if req.Channel == "" {
		req.Channel = d.defaultChannel
	}
	ch, err := d.registry.Get(req.Channel)
	if err != nil {
		return nil, err
	}
	if req.DispatchID == "" {
		req.DispatchID = uuid.NewString()
	}

	ctx = logging.ContextWithDispatchID(ctx, req.DispatchID)
	logger := d.logger.With().
		Str("dispatch_id", req.DispatchID).
		Str("channel", string(req.Channel)).
		Str("target", string(req.Target.Kind())).
		Logger()

	report := &models.DispatchReport{
		DispatchID: req.DispatchID,
		Channel:    req.Channel,
		StartedAt:  d.now(),
	}

	memberIDs, err := d.resolver.Resolve(ctx, req.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	report.AudienceSize = len(memberIDs)
	if len(memberIDs) == 0 {
		logger.Debug().Msg("audience is empty, nothing to send")
		return d.finish(report, &logger), nil
	}

	targets, err := ch.Targets(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("expand targets: %w", err)
	}

	// The key is only spent once the dispatch can actually go out, so a
	// caller retrying after an infrastructure error is not suppressed.
	if d.isDuplicate(ctx, req.DedupKey, &logger) {
		report.Suppressed = true
		return d.finish(report, &logger), nil
	}

	logger.Info().
		Int("audience", len(memberIDs)).
		Int("targets", len(targets)).
		Msg("starting dispatch")

	for _, o := range d.fanOut(ctx, ch, targets, req.Payload, &logger) {
		report.Add(o.DeliveryOutcome)
		if o.removed {
			report.Removed++
		}
	}
	return d.finish(report, &logger), nil
}

// settledOutcome is an outcome plus whether its subscription was cleaned up.
type settledOutcome struct {
	models.DeliveryOutcome
	removed bool
}

// fanOut sends to every target over a bounded worker pool and waits for all of
// them. Results keep target order.
func (d *Dispatcher) fanOut(ctx context.Context, ch Channel, targets []Target, payload models.NotificationPayload, logger *zerolog.Logger) []settledOutcome {
	results := make([]settledOutcome, len(targets))
	if len(targets) == 0 {
		return results
	}

	jobs := make(chan int, len(targets))
	var wg sync.WaitGroup

	workerCount := min(d.parallelism, len(targets))
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = d.deliver(ctx, ch, targets[idx], payload, logger)
			}
		}()
	}

	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// deliver performs one send, recovers from a panicking channel and runs
// cleanup for terminal outcomes.
func (d *Dispatcher) deliver(ctx context.Context, ch Channel, target Target, payload models.NotificationPayload, logger *zerolog.Logger) settledOutcome {
	outcome := d.safeSend(ctx, ch, target, payload, logger)
	metrics.RecordDelivery(string(ch.Name()), outcome.Success, outcome.Terminal, outcome.Duration)

	settled := settledOutcome{DeliveryOutcome: outcome}
	if outcome.Terminal && outcome.SubscriptionID != "" && d.cleaner != nil {
		// Cleanup must survive a dispatch deadline that expired mid-send.
		settled.removed = d.cleaner.OnTerminalFailure(context.WithoutCancel(ctx), outcome.SubscriptionID)
	}
	return settled
}

func (d *Dispatcher) safeSend(ctx context.Context, ch Channel, target Target, payload models.NotificationPayload, logger *zerolog.Logger) (outcome models.DeliveryOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("recipient", target.Recipient()).
				Msg("channel send panicked")
			outcome = models.DeliveryOutcome{
				SubscriptionID: target.subscriptionID(),
				Recipient:      target.Recipient(),
				ErrorCode:      ErrorCodePanic,
				ErrorDetail:    fmt.Sprintf("panic: %v", r),
				Duration:       time.Since(start),
			}
		}
	}()
	return ch.Send(ctx, target, payload)
}

// isDuplicate consults the dedup store. Store errors let the dispatch through.
func (d *Dispatcher) isDuplicate(ctx context.Context, key string, logger *zerolog.Logger) bool {
	if d.dedup == nil || key == "" {
		return false
	}
	dup, err := d.dedup.CheckAndMark(ctx, key)
	if err != nil {
		metrics.RecordDedupCheck(d.dedup.Name(), "error")
		logger.Warn().Err(err).Str("dedup_key", key).Msg("dedup check failed, dispatching anyway")
		return false
	}
	if dup {
		metrics.RecordDedupCheck(d.dedup.Name(), "duplicate")
		logger.Info().Str("dedup_key", key).Msg("duplicate dispatch suppressed")
		return true
	}
	metrics.RecordDedupCheck(d.dedup.Name(), "first")
	return false
}

func (d *Dispatcher) finish(report *models.DispatchReport, logger *zerolog.Logger) *models.DispatchReport {
	report.Finish(d.now())
	metrics.RecordDispatch(string(report.Channel), string(report.Status), report.AudienceSize,
		report.CompletedAt.Sub(report.StartedAt))

	logger.Info().
		Str("status", string(report.Status)).
		Int("audience", report.AudienceSize).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed_terminal", report.FailedTerminal).
		Int("failed_transient", report.FailedTransient).
		Int("removed", report.Removed).
		Int64("duration_ms", report.DurationMS).
		Msg("dispatch completed")
	return report
}
