// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/logging"
	"github.com/tomtom215/clubpush/internal/metrics"
	"github.com/tomtom215/clubpush/internal/models"
)

// DispatchTopic is the in-process topic carrying queued dispatch requests.
const DispatchTopic = "push.dispatch"

// metadataRequestID carries the originating HTTP request id through the queue.
const metadataRequestID = "request_id"

// ErrQueueNotRunning is returned by Submit before the consumer has started or after it stopped.
var ErrQueueNotRunning = errors.New("dispatch queue is not running")

// Executor runs a dispatch request to completion.
type Executor interface {
	Execute(ctx context.Context, req DispatchRequest) (*models.DispatchReport, error)
}

// QueueConfig contains configuration for the background queue.
type QueueConfig struct {
	// Timeout bounds one dispatch end to end.
	Timeout time.Duration

	// Buffer is the pub/sub output channel buffer.
	Buffer int64

	// Workers is the number of dispatches run concurrently (default 4).
	Workers int
}

// Queue hands dispatch requests to a background consumer so callers never
// wait on delivery. Messages are always acked: a failed dispatch is logged and
// dropped, never redelivered.
//
// A single router handler consumes the topic and hands each decoded request to
// one of Workers slots, so a slow dispatch holds up at most one slot. When
// every slot is busy the handler blocks and messages wait in the pub/sub
// buffer. Order between queued dispatches is not preserved.
//
// Queue implements suture.Service; each Serve call runs a fresh router over
// the same pub/sub, so the supervisor can restart it.
type Queue struct {
	pubsub   *gochannel.GoChannel
	executor Executor
	timeout  time.Duration
	logger   zerolog.Logger
	wmLogger watermill.LoggerAdapter

	slots    chan struct{}
	inflight sync.WaitGroup

	running chan struct{}
	router  atomic.Pointer[message.Router]
}

// NewQueue creates the queue. Call Serve to start consuming.
func NewQueue(executor Executor, cfg QueueConfig, logger *zerolog.Logger) *Queue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	l := logging.WithComponent("dispatch-queue")
	if logger != nil {
		l = logger.With().Str("component", "dispatch-queue").Logger()
	}
	wmLogger := watermill.NewSlogLogger(slog.New(logging.NewSlogHandlerWithLogger(l)))

	return &Queue{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.Buffer,
		}, wmLogger),
		executor: executor,
		timeout:  cfg.Timeout,
		logger:   l,
		wmLogger: wmLogger,
		slots:    make(chan struct{}, cfg.Workers),
		running:  make(chan struct{}),
	}
}

// Submit enqueues a dispatch and returns its id without waiting for delivery.
func (q *Queue) Submit(ctx context.Context, req DispatchRequest) (string, error) {
	if !q.IsRunning() {
		metrics.RecordQueueSubmission(false)
		return "", ErrQueueNotRunning
	}
	if req.DispatchID == "" {
		req.DispatchID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		metrics.RecordQueueSubmission(false)
		return "", fmt.Errorf("encode dispatch request: %w", err)
	}
	msg := message.NewMessage(req.DispatchID, body)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set(metadataRequestID, id)
	}

	if err := q.pubsub.Publish(DispatchTopic, msg); err != nil {
		metrics.RecordQueueSubmission(false)
		return "", fmt.Errorf("publish dispatch request: %w", err)
	}
	metrics.RecordQueueSubmission(true)
	q.logger.Debug().
		Str("dispatch_id", req.DispatchID).
		Str("channel", string(req.Channel)).
		Msg("dispatch queued")
	return req.DispatchID, nil
}

// Serve runs the consumer until ctx is cancelled.
func (q *Queue) Serve(ctx context.Context) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: q.timeout}, q.wmLogger)
	if err != nil {
		return fmt.Errorf("create watermill router: %w", err)
	}
	router.AddConsumerHandler("dispatch-consumer", DispatchTopic, q.pubsub, q.handle)

	q.router.Store(router)
	q.logger.Info().Msg("dispatch queue starting")

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(ctx) }()

	select {
	case <-router.Running():
		q.markRunning()
	case err := <-errCh:
		return fmt.Errorf("dispatch router: %w", err)
	}

	err = <-errCh
	// Dispatches already handed to a worker finish within their own timeout.
	q.inflight.Wait()
	q.logger.Info().Msg("dispatch queue stopped")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("dispatch router: %w", err)
	}
	return nil
}

// markRunning publishes the running state once per queue lifetime.
func (q *Queue) markRunning() {
	select {
	case <-q.running:
	default:
		close(q.running)
	}
}

// Running returns a channel that closes once the consumer has started.
func (q *Queue) Running() <-chan struct{} {
	return q.running
}

// IsRunning reports whether a consumer is currently attached.
func (q *Queue) IsRunning() bool {
	select {
	case <-q.running:
	default:
		return false
	}
	r := q.router.Load()
	return r != nil && r.IsRunning()
}

// Close releases the pub/sub. Serve must have returned.
func (q *Queue) Close() error {
	return q.pubsub.Close()
}

// String implements fmt.Stringer for supervisor logs.
func (q *Queue) String() string {
	return "dispatch-queue"
}

// handle decodes one queued dispatch and starts it on a free worker slot. It
// never returns an error, so the message is always acked; a nack would make
// the pub/sub redeliver it.
func (q *Queue) handle(msg *message.Message) error {
	var req DispatchRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.QueueProcessed.WithLabelValues("invalid").Inc()
		q.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("discarding undecodable dispatch request")
		return nil
	}
	requestID := msg.Metadata.Get(metadataRequestID)

	q.slots <- struct{}{}
	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()
		defer func() { <-q.slots }()
		q.execute(req, requestID)
	}()
	return nil
}

// execute runs one dispatch under the queue timeout and logs its result.
func (q *Queue) execute(req DispatchRequest, requestID string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.QueueProcessed.WithLabelValues("error").Inc()
			q.logger.Error().Interface("panic", r).Str("dispatch_id", req.DispatchID).Msg("queued dispatch panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if requestID != "" {
		ctx = logging.ContextWithRequestID(ctx, requestID)
	}

	report, err := q.executor.Execute(ctx, req)
	if err != nil {
		metrics.QueueProcessed.WithLabelValues("error").Inc()
		q.logger.Error().
			Err(err).
			Str("dispatch_id", req.DispatchID).
			Msg("queued dispatch failed")
		return
	}

	metrics.QueueProcessed.WithLabelValues("ok").Inc()
	event := q.logger.Info()
	if report.FailedTransient > 0 {
		event = q.logger.Warn()
	}
	event.
		Str("dispatch_id", report.DispatchID).
		Str("status", string(report.Status)).
		Int("succeeded", report.Succeeded).
		Int("failed_transient", report.FailedTransient).
		Int("failed_terminal", report.FailedTerminal).
		Msg("queued dispatch finished")
}
