// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package delivery

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/config"
	"github.com/tomtom215/clubpush/internal/models"
)

var nopLogger = zerolog.Nop()

// testPayload is a valid notification used across tests.
var testPayload = models.NotificationPayload{
	Title: "Training cancelled",
	Body:  "Pitch is flooded, see you Thursday.",
	URL:   "/events/42",
}

// newDeviceKeys returns browser-style p256dh and auth values.
func newDeviceKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

// testPushConfig returns an enabled push configuration with fresh VAPID keys.
func testPushConfig(t *testing.T) config.PushConfig {
	t.Helper()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys() error = %v", err)
	}
	return config.PushConfig{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      "mailto:ops@example.org",
		TTL:             86400,
		Urgency:         "normal",
		Timeout:         2 * time.Second,
		Parallelism:     4,
	}
}

// pushServer stands in for browser push services. Each device path gets its
// own status code and optional delay.
type pushServer struct {
	server *httptest.Server

	mu      sync.Mutex
	status  map[string]int
	delay   map[string]time.Duration
	hits    map[string]int
	headers map[string]http.Header
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()

	ps := &pushServer{
		status:  make(map[string]int),
		delay:   make(map[string]time.Duration),
		hits:    make(map[string]int),
		headers: make(map[string]http.Header),
	}
	ps.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)

		ps.mu.Lock()
		ps.hits[r.URL.Path]++
		ps.headers[r.URL.Path] = r.Header.Clone()
		status, ok := ps.status[r.URL.Path]
		delay := ps.delay[r.URL.Path]
		ps.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if !ok {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"reason":"test"}`))
	}))
	t.Cleanup(ps.server.Close)
	return ps
}

// endpoint registers a device path and returns its full endpoint URL.
func (ps *pushServer) endpoint(path string, status int) string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.status["/"+path] = status
	return ps.server.URL + "/" + path
}

func (ps *pushServer) setDelay(path string, d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.delay["/"+path] = d
}

func (ps *pushServer) hitCount(path string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hits["/"+path]
}

func (ps *pushServer) totalHits() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := 0
	for _, h := range ps.hits {
		n += h
	}
	return n
}

func (ps *pushServer) header(path string) http.Header {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.headers["/"+path]
}

// memStore is an in-memory subscription store.
type memStore struct {
	mu        sync.Mutex
	subs      map[string]models.Subscription
	deleted   []string
	listErr   error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]models.Subscription)}
}

func (s *memStore) add(t *testing.T, id string, memberID int64, endpoint string) {
	t.Helper()
	p256dh, auth := newDeviceKeys(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = models.Subscription{
		ID:            id,
		MemberID:      memberID,
		Endpoint:      endpoint,
		EncryptionKey: p256dh,
		AuthSecret:    auth,
	}
}

func (s *memStore) ListSubscriptionsByMemberIDs(_ context.Context, ids []int64) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Subscription
	for _, sub := range s.subs {
		if want[sub.MemberID] {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) DeleteSubscriptionByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	delete(s.subs, id)
	return nil
}

func (s *memStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	return ok
}

func (s *memStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// stubResolver returns a fixed audience and counts calls.
type stubResolver struct {
	mu    sync.Mutex
	ids   []int64
	err   error
	calls int
}

func (r *stubResolver) Resolve(_ context.Context, _ models.TargetingSpec) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return append([]int64{}, r.ids...), nil
}

// funcChannel is a Channel whose behaviour is supplied by the test.
type funcChannel struct {
	name    models.ChannelName
	targets func(ids []int64) ([]Target, error)
	send    func(target Target) models.DeliveryOutcome
}

func (c *funcChannel) Name() models.ChannelName { return c.name }
func (c *funcChannel) Enabled() bool            { return true }

func (c *funcChannel) Targets(_ context.Context, ids []int64) ([]Target, error) {
	return c.targets(ids)
}

func (c *funcChannel) Send(_ context.Context, target Target, _ models.NotificationPayload) models.DeliveryOutcome {
	return c.send(target)
}

// subscriptionTargets builds one direct-push style target per member.
func subscriptionTargets(ids []int64) ([]Target, error) {
	targets := make([]Target, len(ids))
	for i, id := range ids {
		targets[i] = Target{Subscription: &models.Subscription{
			ID:       fmt.Sprintf("sub-%d", id),
			MemberID: id,
			Endpoint: fmt.Sprintf("https://push.example.org/%d", id),
		}}
	}
	return targets, nil
}

// fakeDedup flags every key it has seen before.
type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (f *fakeDedup) CheckAndMark(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	dup := f.seen[key]
	f.seen[key] = true
	return dup, nil
}

func (f *fakeDedup) Name() string { return "fake" }

var errStoreDown = errors.New("store down")
