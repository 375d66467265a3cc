// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package api

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/clubpush/internal/auth"
	"github.com/tomtom215/clubpush/internal/authz"
	"github.com/tomtom215/clubpush/internal/config"
	"github.com/tomtom215/clubpush/internal/database"
	"github.com/tomtom215/clubpush/internal/delivery"
	"github.com/tomtom215/clubpush/internal/models"
)

var nopLogger = zerolog.Nop()

// stubChannel satisfies delivery.Channel without sending anything.
type stubChannel struct {
	name    models.ChannelName
	enabled bool
}

func (c *stubChannel) Name() models.ChannelName { return c.name }
func (c *stubChannel) Enabled() bool            { return c.enabled }

func (c *stubChannel) Targets(context.Context, []int64) ([]delivery.Target, error) {
	return nil, nil
}

func (c *stubChannel) Send(context.Context, delivery.Target, models.NotificationPayload) models.DeliveryOutcome {
	return models.DeliveryOutcome{Success: true}
}

// stubKeys is a VAPIDKeySource.
type stubKeys struct {
	public string
}

func (k stubKeys) Enabled() bool     { return k.public != "" }
func (k stubKeys) PublicKey() string { return k.public }

// recordingSubmitter captures queued requests.
type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []delivery.DispatchRequest
	err  error
}

func (s *recordingSubmitter) Submit(_ context.Context, req delivery.DispatchRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.reqs = append(s.reqs, req)
	return "dispatch-" + strconv.Itoa(len(s.reqs)), nil
}

func (s *recordingSubmitter) requests() []delivery.DispatchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.DispatchRequest(nil), s.reqs...)
}

// stubExecutor returns a fixed report or error.
type stubExecutor struct {
	report *models.DispatchReport
	err    error
	got    delivery.DispatchRequest
}

func (e *stubExecutor) Execute(_ context.Context, req delivery.DispatchRequest) (*models.DispatchReport, error) {
	e.got = req
	return e.report, e.err
}

// testEnv is a fully wired router over an in-memory database.
type testEnv struct {
	db        *database.DB
	submitter *recordingSubmitter
	executor  *stubExecutor
	handler   http.Handler
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		db:        newTestDB(t),
		submitter: &recordingSubmitter{},
		executor:  &stubExecutor{report: &models.DispatchReport{DispatchID: "sync-1", Status: models.DispatchStatusDelivered}},
	}
	registry := delivery.NewRegistry(
		&stubChannel{name: models.ChannelDirectPush, enabled: true},
		&stubChannel{name: models.ChannelHostedProvider, enabled: false},
	)
	h := NewHandler(Deps{
		Store:     env.db,
		Health:    env.db,
		Keys:      stubKeys{public: "BPublicKey"},
		Channels:  registry,
		Submitter: env.submitter,
		Executor:  env.executor,
	}, &nopLogger)

	env.handler = newTestRouter(t, h)
	return env
}

// newTestRouter routes h with dev-mode authentication and the embedded policy.
func newTestRouter(t *testing.T, h *Handler) http.Handler {
	t.Helper()
	enforcer, err := authz.NewEnforcer(authz.EnforcerConfig{})
	if err != nil {
		t.Fatalf("authz.NewEnforcer() error = %v", err)
	}
	t.Cleanup(enforcer.Close)
	return NewRouter(h,
		auth.NewMiddleware(nil, auth.ModeNone, &nopLogger),
		authz.NewMiddleware(enforcer, &nopLogger),
		nil,
	).SetupChi()
}

// caller identifies the member making a request in auth mode none.
type caller struct {
	memberID int64
	roles    string
}

var (
	anonymous = caller{}
	member7   = caller{memberID: 7}
	member8   = caller{memberID: 8}
	orga      = caller{memberID: 2, roles: "orga"}
	admin     = caller{memberID: 1, roles: "admin"}
	trainer   = caller{memberID: 3, roles: "trainer"}
)

func (env *testEnv) do(t *testing.T, c caller, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-browser/1.0")
	if c.memberID > 0 {
		req.Header.Set(auth.HeaderDevMemberID, strconv.FormatInt(c.memberID, 10))
		req.Header.Set(auth.HeaderDevRoles, c.roles)
	}

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope decodes the response envelope, with data into dst if non-nil.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) APIResponse {
	t.Helper()

	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
		Meta    *APIMeta        `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("response is not an API envelope: %v\n%s", err, rec.Body.String())
	}
	if dst != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, dst); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return APIResponse{Success: raw.Success, Error: raw.Error, Meta: raw.Meta}
}

// deviceKeys returns browser-style p256dh and auth values.
func deviceKeys(t *testing.T) map[string]string {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	secret := make([]byte, 16)
	_, _ = rand.Read(secret)
	return map[string]string{
		"p256dh": base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		"auth":   base64.RawURLEncoding.EncodeToString(secret),
	}
}

func subscribeBody(t *testing.T, endpoint string) map[string]interface{} {
	return map[string]interface{}{
		"endpoint":       endpoint,
		"keys":           deviceKeys(t),
		"expirationTime": nil,
	}
}

// newRecorderFor calls a single handler directly, bypassing the router.
func newRecorderFor(h http.HandlerFunc, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(method, path, nil))
	return rec
}
