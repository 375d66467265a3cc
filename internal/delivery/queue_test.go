// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/clubpush/internal/logging"
	"github.com/tomtom215/clubpush/internal/metrics"
	"github.com/tomtom215/clubpush/internal/models"
)

// blockingExecutor holds every dispatch until released.
type blockingExecutor struct {
	release chan struct{}
	started chan DispatchRequest
	done    chan string

	mu         sync.Mutex
	requestIDs []string
	err        error
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		release: make(chan struct{}),
		started: make(chan DispatchRequest, 10),
		done:    make(chan string, 10),
	}
}

func (e *blockingExecutor) Execute(ctx context.Context, req DispatchRequest) (*models.DispatchReport, error) {
	e.mu.Lock()
	e.requestIDs = append(e.requestIDs, logging.RequestIDFromContext(ctx))
	err := e.err
	e.mu.Unlock()

	e.started <- req
	<-e.release
	e.done <- req.DispatchID
	if err != nil {
		return nil, err
	}
	return &models.DispatchReport{DispatchID: req.DispatchID, Status: models.DispatchStatusDelivered}, nil
}

// startQueue runs q until the test ends.
func startQueue(t *testing.T, q *Queue) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = q.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
		_ = q.Close()
	})

	select {
	case <-q.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not start")
	}
}

func TestQueue_SubmitDoesNotWaitForDelivery(t *testing.T) {
	exec := newBlockingExecutor()
	q := NewQueue(exec, QueueConfig{Timeout: 5 * time.Second, Buffer: 16}, &nopLogger)
	startQueue(t, q)
	defer close(exec.release)

	ctx := logging.ContextWithRequestID(context.Background(), "req-1")
	start := time.Now()
	id, err := q.Submit(ctx, DispatchRequest{Target: models.ForAllStaff(), Payload: testPayload})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Submit() took %v, want immediate return", elapsed)
	}
	if id == "" {
		t.Error("Submit() returned an empty dispatch id")
	}

	select {
	case req := <-exec.started:
		if req.DispatchID != id {
			t.Errorf("executed dispatch %q, want %q", req.DispatchID, id)
		}
		if !req.Target.AllStaff {
			t.Errorf("target lost in transit: %+v", req.Target)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued dispatch never started")
	}

	exec.mu.Lock()
	gotRequestID := exec.requestIDs[0]
	exec.mu.Unlock()
	if gotRequestID != "req-1" {
		t.Errorf("request id = %q, want req-1", gotRequestID)
	}
}

func TestQueue_SubmitBeforeStart(t *testing.T) {
	q := NewQueue(newBlockingExecutor(), QueueConfig{}, &nopLogger)
	t.Cleanup(func() { _ = q.Close() })

	before := testutil.ToFloat64(metrics.QueueSubmissions.WithLabelValues("rejected"))
	if _, err := q.Submit(context.Background(), DispatchRequest{Target: models.ForMembers(1), Payload: testPayload}); !errors.Is(err, ErrQueueNotRunning) {
		t.Errorf("Submit() error = %v, want ErrQueueNotRunning", err)
	}
	if got := testutil.ToFloat64(metrics.QueueSubmissions.WithLabelValues("rejected")); got != before+1 {
		t.Errorf("rejected submissions = %v, want %v", got, before+1)
	}
}

func TestQueue_FailedDispatchIsAcked(t *testing.T) {
	exec := newBlockingExecutor()
	exec.err = errStoreDown
	q := NewQueue(exec, QueueConfig{Timeout: 5 * time.Second}, &nopLogger)
	startQueue(t, q)
	close(exec.release)

	for i := 0; i < 2; i++ {
		if _, err := q.Submit(context.Background(), DispatchRequest{Target: models.ForMembers(1), Payload: testPayload}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	// Both messages are processed exactly once: the failed first one is not redelivered.
	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-exec.done:
			seen[id]++
		case <-time.After(5 * time.Second):
			t.Fatal("queued dispatch not processed")
		}
	}
	select {
	case id := <-exec.done:
		t.Errorf("dispatch %s was redelivered", id)
	case <-time.After(200 * time.Millisecond):
	}
	if len(seen) != 2 {
		t.Errorf("processed %v, want two distinct dispatches", seen)
	}
}

func TestQueue_HandleUndecodableMessage(t *testing.T) {
	q := NewQueue(newBlockingExecutor(), QueueConfig{}, &nopLogger)
	t.Cleanup(func() { _ = q.Close() })

	before := testutil.ToFloat64(metrics.QueueProcessed.WithLabelValues("invalid"))
	if err := q.handle(message.NewMessage("bad", []byte("{not json"))); err != nil {
		t.Errorf("handle() error = %v, want nil so the message is acked", err)
	}
	if got := testutil.ToFloat64(metrics.QueueProcessed.WithLabelValues("invalid")); got != before+1 {
		t.Errorf("invalid count = %v, want %v", got, before+1)
	}
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(context.Context, DispatchRequest) (*models.DispatchReport, error) {
	panic("executor exploded")
}

func TestQueue_ExecuteRecoversPanic(t *testing.T) {
	q := NewQueue(panickingExecutor{}, QueueConfig{}, &nopLogger)
	t.Cleanup(func() { _ = q.Close() })

	before := testutil.ToFloat64(metrics.QueueProcessed.WithLabelValues("error"))
	q.execute(DispatchRequest{DispatchID: "p", Target: models.ForAllStaff(), Payload: testPayload}, "")
	if got := testutil.ToFloat64(metrics.QueueProcessed.WithLabelValues("error")); got != before+1 {
		t.Errorf("error count = %v, want %v", got, before+1)
	}
}

func TestQueue_SlowDispatchDoesNotBlockOthers(t *testing.T) {
	exec := newBlockingExecutor()
	q := NewQueue(exec, QueueConfig{Timeout: 5 * time.Second, Buffer: 16, Workers: 2}, &nopLogger)
	startQueue(t, q)
	defer close(exec.release)

	for i := 0; i < 2; i++ {
		if _, err := q.Submit(context.Background(), DispatchRequest{Target: models.ForMembers(1), Payload: testPayload}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	// The first dispatch is still held when the second one starts.
	for i := 0; i < 2; i++ {
		select {
		case <-exec.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 2 dispatches running concurrently", i)
		}
	}
}

func TestQueue_WorkersBoundConcurrency(t *testing.T) {
	exec := newBlockingExecutor()
	q := NewQueue(exec, QueueConfig{Timeout: 5 * time.Second, Buffer: 16, Workers: 1}, &nopLogger)
	startQueue(t, q)

	for i := 0; i < 2; i++ {
		if _, err := q.Submit(context.Background(), DispatchRequest{Target: models.ForMembers(1), Payload: testPayload}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first dispatch never started")
	}
	select {
	case <-exec.started:
		t.Error("second dispatch started while the only worker was busy")
	case <-time.After(200 * time.Millisecond):
	}

	close(exec.release)
	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("second dispatch never started after the worker was freed")
	}
}

// recordingSubmitter captures requests instead of queueing them.
type recordingSubmitter struct {
	reqs []DispatchRequest
}

func (r *recordingSubmitter) Submit(_ context.Context, req DispatchRequest) (string, error) {
	r.reqs = append(r.reqs, req)
	return "id", nil
}

func TestNotifier(t *testing.T) {
	sub := &recordingSubmitter{}
	n := NewNotifier(sub, models.ChannelHostedProvider)
	ctx := context.Background()

	if _, err := n.NotifyMembers(ctx, testPayload, 1, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := n.NotifyRoles(ctx, testPayload, "trainer"); err != nil {
		t.Fatal(err)
	}
	if _, err := n.NotifyTeams(ctx, testPayload, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := n.NotifyAllStaff(ctx, testPayload); err != nil {
		t.Fatal(err)
	}

	wantKinds := []models.TargetKind{models.TargetMembers, models.TargetRoles, models.TargetTeams, models.TargetAllStaff}
	if len(sub.reqs) != len(wantKinds) {
		t.Fatalf("submitted %d requests, want %d", len(sub.reqs), len(wantKinds))
	}
	for i, req := range sub.reqs {
		if req.Target.Kind() != wantKinds[i] {
			t.Errorf("request %d kind = %q, want %q", i, req.Target.Kind(), wantKinds[i])
		}
		if req.Channel != models.ChannelHostedProvider {
			t.Errorf("request %d channel = %q", i, req.Channel)
		}
	}

	// Invalid input is rejected before anything is queued.
	if _, err := n.NotifyMembers(ctx, testPayload); !errors.Is(err, models.ErrInvalidTarget) {
		t.Errorf("NotifyMembers() with no ids error = %v", err)
	}
	if _, err := n.NotifyAllStaff(ctx, models.NotificationPayload{}); !errors.Is(err, models.ErrInvalidPayload) {
		t.Errorf("NotifyAllStaff() with empty payload error = %v", err)
	}
	if len(sub.reqs) != len(wantKinds) {
		t.Errorf("invalid requests were queued")
	}
}

func TestCleaner_OnTerminalFailure(t *testing.T) {
	store := newMemStore()
	store.add(t, "dead", 1, "https://push.example.org/dead")
	c := NewCleaner(store, &nopLogger)
	ctx := context.Background()

	if !c.OnTerminalFailure(ctx, "dead") {
		t.Error("OnTerminalFailure() = false, want true")
	}
	if store.has("dead") {
		t.Error("subscription not removed")
	}
	// Idempotent: a second call for the same id is harmless.
	if !c.OnTerminalFailure(ctx, "dead") {
		t.Error("second OnTerminalFailure() = false, want true")
	}
	if c.OnTerminalFailure(ctx, "") {
		t.Error("OnTerminalFailure(\"\") = true")
	}

	before := testutil.ToFloat64(metrics.CleanupErrors)
	store.deleteErr = errStoreDown
	if c.OnTerminalFailure(ctx, "other") {
		t.Error("OnTerminalFailure() = true on store error")
	}
	if got := testutil.ToFloat64(metrics.CleanupErrors); got != before+1 {
		t.Errorf("cleanup errors = %v, want %v", got, before+1)
	}
}

func TestRegistry(t *testing.T) {
	a := &funcChannel{name: "b_channel"}
	b := &funcChannel{name: "a_channel"}
	r := NewRegistry(a, b)

	if got := r.List(); len(got) != 2 || got[0] != "a_channel" || got[1] != "b_channel" {
		t.Errorf("List() = %v", got)
	}
	if ch, err := r.Get("a_channel"); err != nil || ch != Channel(b) {
		t.Errorf("Get(a_channel) = %v, %v", ch, err)
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Get(nope) error = %v, want ErrUnknownChannel", err)
	}
}
