// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/audience"
	"github.com/tomtom215/clubpush/internal/config"
	"github.com/tomtom215/clubpush/internal/database"
	"github.com/tomtom215/clubpush/internal/models"
)

// newPushDispatcher wires a dispatcher over the direct push channel and store.
func newPushDispatcher(t *testing.T, resolver AudienceResolver, store *memStore, cfg config.PushConfig) *Dispatcher {
	t.Helper()
	registry := NewRegistry(NewDirectPushChannel(cfg, store, &nopLogger))
	return NewDispatcher(resolver, registry, NewCleaner(store, &nopLogger),
		DispatcherConfig{Parallelism: cfg.Parallelism}, &nopLogger)
}

func TestDispatch_TerminalFailureRemovesSubscription(t *testing.T) {
	ps := newPushServer(t)
	store := newMemStore()
	store.add(t, "alive", 1, ps.endpoint("alive", http.StatusCreated))
	store.add(t, "gone", 1, ps.endpoint("gone", http.StatusGone))

	d := newPushDispatcher(t, &stubResolver{ids: []int64{1}}, store, testPushConfig(t))
	report, err := d.Dispatch(context.Background(), models.ForMembers(1), testPayload, models.ChannelDirectPush)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if report.Attempted != 2 || report.Succeeded != 1 || report.FailedTerminal != 1 || report.Removed != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Status != models.DispatchStatusPartial {
		t.Errorf("Status = %q, want partial", report.Status)
	}
	if store.has("gone") {
		t.Error("subscription with 410 endpoint still stored")
	}
	if !store.has("alive") {
		t.Error("healthy subscription was removed")
	}

	// Self-healing: the next dispatch no longer targets the dead endpoint.
	if _, err := d.Dispatch(context.Background(), models.ForMembers(1), testPayload, models.ChannelDirectPush); err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if got := ps.hitCount("gone"); got != 1 {
		t.Errorf("gone endpoint hit %d times, want 1", got)
	}
	if got := ps.hitCount("alive"); got != 2 {
		t.Errorf("alive endpoint hit %d times, want 2", got)
	}
}

func TestDispatch_TransientFailuresDoNotMutate(t *testing.T) {
	ps := newPushServer(t)
	store := newMemStore()
	store.add(t, "s500", 1, ps.endpoint("s500", http.StatusInternalServerError))
	store.add(t, "s429", 1, ps.endpoint("s429", http.StatusTooManyRequests))
	store.add(t, "s400", 1, ps.endpoint("s400", http.StatusBadRequest))
	store.add(t, "s403", 1, ps.endpoint("s403", http.StatusForbidden))
	store.add(t, "refused", 1, "http://127.0.0.1:1/refused")
	store.add(t, "slow", 1, ps.endpoint("slow", http.StatusCreated))
	ps.setDelay("slow", 3*time.Second)

	cfg := testPushConfig(t)
	cfg.Timeout = 300 * time.Millisecond
	d := newPushDispatcher(t, &stubResolver{ids: []int64{1}}, store, cfg)
	report, err := d.Dispatch(context.Background(), models.ForMembers(1), testPayload, models.ChannelDirectPush)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if report.FailedTransient != 6 || report.FailedTerminal != 0 || report.Removed != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.Status != models.DispatchStatusFailed {
		t.Errorf("Status = %q, want failed", report.Status)
	}
	if n := len(store.deletedIDs()); n != 0 {
		t.Errorf("%d subscriptions deleted after transient failures", n)
	}
	if !store.has("slow") {
		t.Error("subscription that timed out was removed")
	}
}

func TestDispatch_FaultIsolation(t *testing.T) {
	ps := newPushServer(t)
	store := newMemStore()
	store.add(t, "hang", 1, ps.endpoint("hang", http.StatusCreated))
	ps.setDelay("hang", 5*time.Second)
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5"} {
		store.add(t, id, 1, ps.endpoint(id, http.StatusCreated))
	}

	cfg := testPushConfig(t)
	cfg.Timeout = 500 * time.Millisecond
	cfg.Parallelism = 6
	d := newPushDispatcher(t, &stubResolver{ids: []int64{1}}, store, cfg)

	start := time.Now()
	report, err := d.Dispatch(context.Background(), models.ForMembers(1), testPayload, models.ChannelDirectPush)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if report.Succeeded != 5 || report.FailedTransient != 1 {
		t.Errorf("report = %+v, want 5 succeeded and 1 transient", report)
	}
	// Sends run concurrently: one hung endpoint costs one timeout, not one per device.
	if elapsed > 2*time.Second {
		t.Errorf("Dispatch() took %v, slow endpoint blocked the others", elapsed)
	}
	for _, o := range report.Outcomes {
		if o.SubscriptionID != "hang" && o.Duration > 400*time.Millisecond {
			t.Errorf("%s took %v, want fast", o.SubscriptionID, o.Duration)
		}
	}
	// A timeout is transient: the slow subscription must survive.
	if report.Removed != 0 {
		t.Errorf("Removed = %d, want 0", report.Removed)
	}
	if !store.has("hang") {
		t.Error("subscription that timed out was removed")
	}
}

func TestDispatch_TransientFailureLoggedWithStatus(t *testing.T) {
	ps := newPushServer(t)
	store := newMemStore()
	store.add(t, "busy", 1, ps.endpoint("busy", http.StatusServiceUnavailable))

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	registry := NewRegistry(NewDirectPushChannel(testPushConfig(t), store, &logger))
	d := NewDispatcher(&stubResolver{ids: []int64{1}}, registry, NewCleaner(store, &logger),
		DispatcherConfig{}, &logger)

	report, err := d.Dispatch(context.Background(), models.ForMembers(1), testPayload, models.ChannelDirectPush)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.FailedTransient != 1 {
		t.Fatalf("report = %+v", report)
	}

	out := buf.String()
	for _, want := range []string{`"status":503`, `"error_code":"` + ErrorCodeServerError + `"`, `reason`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("transient failure not logged at warn:\n%s", out)
	}
}

func TestDispatch_EmptyAudience(t *testing.T) {
	ps := newPushServer(t)
	store := newMemStore()
	store.add(t, "sub-a", 1, ps.endpoint("a", http.StatusCreated))

	d := newPushDispatcher(t, &stubResolver{ids: nil}, store, testPushConfig(t))
	report, err := d.Dispatch(context.Background(), models.ForRoles("treasurer"), testPayload, models.ChannelDirectPush)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Status != models.DispatchStatusEmpty || report.Attempted != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
	if ps.totalHits() != 0 {
		t.Errorf("empty audience made %d outbound calls", ps.totalHits())
	}
}

func TestDispatch_NoSubscriptions(t *testing.T) {
	d := newPushDispatcher(t, &stubResolver{ids: []int64{1, 2}}, newMemStore(), testPushConfig(t))
	report, err := d.Dispatch(context.Background(), models.ForMembers(1, 2), testPayload, models.ChannelDirectPush)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.AudienceSize != 2 || report.Attempted != 0 || report.Status != models.DispatchStatusEmpty {
		t.Errorf("report = %+v", report)
	}
}

func TestDispatch_InputErrors(t *testing.T) {
	resolver := &stubResolver{ids: []int64{1}}
	d := newPushDispatcher(t, resolver, newMemStore(), testPushConfig(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		spec    models.TargetingSpec
		payload models.NotificationPayload
		channel models.ChannelName
		wantErr error
	}{
		{"no selector", models.TargetingSpec{}, testPayload, models.ChannelDirectPush, models.ErrInvalidTarget},
		{"two selectors", models.TargetingSpec{MemberIDs: []int64{1}, AllStaff: true}, testPayload, models.ChannelDirectPush, models.ErrInvalidTarget},
		{"empty title", models.ForMembers(1), models.NotificationPayload{Body: "x"}, models.ChannelDirectPush, models.ErrInvalidPayload},
		{"unknown channel", models.ForMembers(1), testPayload, "carrier_pigeon", ErrUnknownChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(ctx, tt.spec, tt.payload, tt.channel)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if resolver.calls != 0 {
		t.Errorf("resolver called %d times for invalid input", resolver.calls)
	}
}

func TestDispatch_InfrastructureErrors(t *testing.T) {
	t.Run("resolver", func(t *testing.T) {
		d := newPushDispatcher(t, &stubResolver{err: errStoreDown}, newMemStore(), testPushConfig(t))
		_, err := d.Dispatch(context.Background(), models.ForAllStaff(), testPayload, models.ChannelDirectPush)
		if !errors.Is(err, errStoreDown) {
			t.Errorf("Dispatch() error = %v, want %v", err, errStoreDown)
		}
	})
	t.Run("subscription store", func(t *testing.T) {
		store := newMemStore()
		store.listErr = errStoreDown
		d := newPushDispatcher(t, &stubResolver{ids: []int64{1}}, store, testPushConfig(t))
		_, err := d.Dispatch(context.Background(), models.ForMembers(1), testPayload, models.ChannelDirectPush)
		if !errors.Is(err, errStoreDown) {
			t.Errorf("Dispatch() error = %v, want %v", err, errStoreDown)
		}
	})
}

func TestDispatch_PanicBecomesTransientOutcome(t *testing.T) {
	ch := &funcChannel{
		name:    "flaky",
		targets: subscriptionTargets,
		send: func(target Target) models.DeliveryOutcome {
			if target.Subscription.MemberID == 2 {
				panic("boom")
			}
			return models.DeliveryOutcome{SubscriptionID: target.subscriptionID(), Success: true}
		},
	}
	store := newMemStore()
	d := NewDispatcher(&stubResolver{ids: []int64{1, 2, 3}}, NewRegistry(ch), NewCleaner(store, &nopLogger),
		DispatcherConfig{Parallelism: 2}, &nopLogger)

	report, err := d.Dispatch(context.Background(), models.ForMembers(1, 2, 3), testPayload, "flaky")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Succeeded != 2 || report.FailedTransient != 1 {
		t.Errorf("report = %+v", report)
	}
	for _, o := range report.Outcomes {
		if o.SubscriptionID == "sub-2" && (o.ErrorCode != ErrorCodePanic || o.Terminal) {
			t.Errorf("panicking send outcome = %+v", o)
		}
	}
	if n := len(store.deletedIDs()); n != 0 {
		t.Errorf("panic caused %d deletions", n)
	}
}

func TestDispatch_CleanupErrorDoesNotFailDispatch(t *testing.T) {
	ch := &funcChannel{
		name:    "gone",
		targets: subscriptionTargets,
		send: func(target Target) models.DeliveryOutcome {
			return models.DeliveryOutcome{SubscriptionID: target.subscriptionID(), Terminal: true, ErrorCode: ErrorCodeEndpointGone}
		},
	}
	store := newMemStore()
	store.deleteErr = errStoreDown
	d := NewDispatcher(&stubResolver{ids: []int64{1}}, NewRegistry(ch), NewCleaner(store, &nopLogger),
		DispatcherConfig{}, &nopLogger)

	report, err := d.Dispatch(context.Background(), models.ForMembers(1), testPayload, "gone")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.FailedTerminal != 1 || report.Removed != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestDispatch_ParallelismBound(t *testing.T) {
	var inFlight, peak int32
	ch := &funcChannel{
		name:    "counting",
		targets: subscriptionTargets,
		send: func(target Target) models.DeliveryOutcome {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return models.DeliveryOutcome{SubscriptionID: target.subscriptionID(), Success: true}
		},
	}
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	d := NewDispatcher(&stubResolver{ids: ids}, NewRegistry(ch), nil, DispatcherConfig{Parallelism: 3}, &nopLogger)

	report, err := d.Dispatch(context.Background(), models.ForMembers(ids...), testPayload, "counting")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Succeeded != len(ids) {
		t.Errorf("Succeeded = %d, want %d", report.Succeeded, len(ids))
	}
	if p := atomic.LoadInt32(&peak); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	// Outcomes keep target order.
	for i, o := range report.Outcomes {
		if want := subscriptionTargetsID(ids[i]); o.SubscriptionID != want {
			t.Errorf("Outcomes[%d] = %s, want %s", i, o.SubscriptionID, want)
		}
	}
}

func subscriptionTargetsID(id int64) string {
	targets, _ := subscriptionTargets([]int64{id})
	return targets[0].subscriptionID()
}

func TestDispatch_DefaultChannel(t *testing.T) {
	var sent int32
	ch := &funcChannel{
		name:    models.ChannelHostedProvider,
		targets: func(ids []int64) ([]Target, error) { return []Target{{MemberIDs: ids}}, nil },
		send: func(Target) models.DeliveryOutcome {
			atomic.AddInt32(&sent, 1)
			return models.DeliveryOutcome{Success: true}
		},
	}
	d := NewDispatcher(&stubResolver{ids: []int64{1}}, NewRegistry(ch), nil,
		DispatcherConfig{DefaultChannel: models.ChannelHostedProvider}, &nopLogger)

	report, err := d.Execute(context.Background(), DispatchRequest{Target: models.ForMembers(1), Payload: testPayload})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Channel != models.ChannelHostedProvider || atomic.LoadInt32(&sent) != 1 {
		t.Errorf("report = %+v, sent = %d", report, sent)
	}
}

func TestDispatch_DedupSuppression(t *testing.T) {
	var sent int32
	ch := &funcChannel{
		name:    "counting",
		targets: subscriptionTargets,
		send: func(target Target) models.DeliveryOutcome {
			atomic.AddInt32(&sent, 1)
			return models.DeliveryOutcome{SubscriptionID: target.subscriptionID(), Success: true}
		},
	}
	d := NewDispatcher(&stubResolver{ids: []int64{1}}, NewRegistry(ch), nil, DispatcherConfig{}, &nopLogger)
	d.SetDeduplicator(&fakeDedup{})

	req := DispatchRequest{Target: models.ForMembers(1), Payload: testPayload, Channel: "counting", DedupKey: "event-42-cancelled"}
	first, err := d.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	second, err := d.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if first.Suppressed || first.Status != models.DispatchStatusDelivered {
		t.Errorf("first report = %+v", first)
	}
	if !second.Suppressed || second.Status != models.DispatchStatusSuppressed {
		t.Errorf("second report = %+v, want suppressed", second)
	}
	if n := atomic.LoadInt32(&sent); n != 1 {
		t.Errorf("sent = %d, want 1", n)
	}

	// Requests without a key are never suppressed.
	req.DedupKey = ""
	if r, _ := d.Execute(context.Background(), req); r.Suppressed {
		t.Error("request without dedup key was suppressed")
	}
}

func TestDispatch_DedupKeyKeptAfterInfrastructureError(t *testing.T) {
	var sent int32
	ch := &funcChannel{
		name:    "counting",
		targets: subscriptionTargets,
		send: func(target Target) models.DeliveryOutcome {
			atomic.AddInt32(&sent, 1)
			return models.DeliveryOutcome{SubscriptionID: target.subscriptionID(), Success: true}
		},
	}
	resolver := &stubResolver{ids: []int64{1}, err: errStoreDown}
	d := NewDispatcher(resolver, NewRegistry(ch), nil, DispatcherConfig{}, &nopLogger)
	d.SetDeduplicator(&fakeDedup{})

	req := DispatchRequest{Target: models.ForMembers(1), Payload: testPayload, Channel: "counting", DedupKey: "event-7-moved"}
	if _, err := d.Execute(context.Background(), req); !errors.Is(err, errStoreDown) {
		t.Fatalf("Execute() error = %v, want %v", err, errStoreDown)
	}

	resolver.mu.Lock()
	resolver.err = nil
	resolver.mu.Unlock()

	report, err := d.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("retry Execute() error = %v", err)
	}
	if report.Suppressed {
		t.Error("retry after a failed dispatch was suppressed")
	}
	if n := atomic.LoadInt32(&sent); n != 1 {
		t.Errorf("sent = %d, want 1", n)
	}

	// Once delivered, the same key is a duplicate.
	if again, _ := d.Execute(context.Background(), req); again == nil || !again.Suppressed {
		t.Error("second successful dispatch with the same key was not suppressed")
	}
}

func TestDispatch_DedupErrorFailsOpen(t *testing.T) {
	ch := &funcChannel{
		name:    "ok",
		targets: subscriptionTargets,
		send: func(target Target) models.DeliveryOutcome {
			return models.DeliveryOutcome{SubscriptionID: target.subscriptionID(), Success: true}
		},
	}
	d := NewDispatcher(&stubResolver{ids: []int64{1}}, NewRegistry(ch), nil, DispatcherConfig{}, &nopLogger)
	d.SetDeduplicator(&fakeDedup{err: errStoreDown})

	report, err := d.Execute(context.Background(), DispatchRequest{
		Target: models.ForMembers(1), Payload: testPayload, Channel: "ok", DedupKey: "k",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Suppressed || report.Succeeded != 1 {
		t.Errorf("report = %+v", report)
	}
}

// TestDispatch_EndToEnd runs the full path against SQLite: one member, two
// devices, device A's endpoint is gone.
func TestDispatch_EndToEnd(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.UpsertMember(ctx, models.Member{ID: 10, Name: "Coach Kim", Active: true, Roles: []string{"Trainer"}}); err != nil {
		t.Fatalf("UpsertMember() error = %v", err)
	}
	if err := db.UpsertMember(ctx, models.Member{ID: 11, Name: "Player", Active: true, Roles: []string{"member"}}); err != nil {
		t.Fatalf("UpsertMember() error = %v", err)
	}

	ps := newPushServer(t)
	keyA, authA := newDeviceKeys(t)
	keyB, authB := newDeviceKeys(t)
	keyC, authC := newDeviceKeys(t)
	subA, err := db.UpsertSubscription(ctx, 10, ps.endpoint("device-a", http.StatusNotFound), authA, keyA, "phone")
	if err != nil {
		t.Fatalf("UpsertSubscription(A) error = %v", err)
	}
	subB, err := db.UpsertSubscription(ctx, 10, ps.endpoint("device-b", http.StatusCreated), authB, keyB, "laptop")
	if err != nil {
		t.Fatalf("UpsertSubscription(B) error = %v", err)
	}
	if _, err := db.UpsertSubscription(ctx, 11, ps.endpoint("device-c", http.StatusCreated), authC, keyC, "tablet"); err != nil {
		t.Fatalf("UpsertSubscription(C) error = %v", err)
	}

	cfg := testPushConfig(t)
	d := NewDispatcher(
		audience.NewResolver(db, nil),
		NewRegistry(NewDirectPushChannel(cfg, db, &nopLogger)),
		NewCleaner(db, &nopLogger),
		DispatcherConfig{Parallelism: 4},
		&nopLogger,
	)

	report, err := d.Dispatch(ctx, models.ForRoles("TRAINER"), testPayload, models.ChannelDirectPush)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.AudienceSize != 1 || report.Attempted != 2 || report.Succeeded != 1 || report.Removed != 1 {
		t.Errorf("report = %+v", report)
	}
	if ps.hitCount("device-c") != 0 {
		t.Error("member outside the audience was notified")
	}

	if _, err := db.GetSubscriptionByEndpoint(ctx, subA.Endpoint); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("device A lookup error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetSubscriptionByEndpoint(ctx, subB.Endpoint); err != nil {
		t.Errorf("device B lookup error = %v, want it kept", err)
	}

	report, err = d.Dispatch(ctx, models.ForRoles("trainer"), testPayload, models.ChannelDirectPush)
	if err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if report.Attempted != 1 || report.Succeeded != 1 {
		t.Errorf("second report = %+v, want only device B", report)
	}
	if ps.hitCount("device-a") != 1 {
		t.Errorf("device A hit %d times, want 1", ps.hitCount("device-a"))
	}
}
