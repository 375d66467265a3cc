// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/clubpush/internal/config"
)

// setupTestDB opens a fresh in-memory SQLite database with all migrations applied.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

// fakeClock makes updated_at deterministic.
func fakeClock(db *DB, start time.Time) func(time.Duration) {
	now := start
	db.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.runVersionedMigrations(ctx); err != nil {
		t.Fatalf("second migration run error = %v", err)
	}
	v, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := migrations[len(migrations)-1].Version; v != want {
		t.Errorf("SchemaVersion() = %d, want %d", v, want)
	}
}

func TestUpsertSubscription_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	advance := fakeClock(db, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	first, err := db.UpsertSubscription(ctx, 7, "https://push.example/ep-1", "auth-1", "key-1", "Firefox")
	if err != nil {
		t.Fatalf("first upsert error = %v", err)
	}
	advance(time.Minute)
	second, err := db.UpsertSubscription(ctx, 7, "https://push.example/ep-1", "auth-2", "key-2", "Firefox 130")
	if err != nil {
		t.Fatalf("second upsert error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("id changed on re-subscribe: %s -> %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at not advanced: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
	if second.AuthSecret != "auth-2" || second.EncryptionKey != "key-2" || second.UserAgent != "Firefox 130" {
		t.Errorf("key material not updated: %+v", second)
	}

	n, err := db.CountSubscriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountSubscriptions() = %d, want 1", n)
	}
}

func TestUpsertSubscription_ReassignsOwner(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.UpsertSubscription(ctx, 1, "https://push.example/shared", "a", "k", ""); err != nil {
		t.Fatal(err)
	}
	sub, err := db.UpsertSubscription(ctx, 2, "https://push.example/shared", "a", "k", "")
	if err != nil {
		t.Fatal(err)
	}
	if sub.MemberID != 2 {
		t.Errorf("MemberID = %d, want 2", sub.MemberID)
	}

	old, err := db.ListSubscriptionsByMemberIDs(ctx, []int64{1})
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 0 {
		t.Errorf("previous owner still has %d subscriptions", len(old))
	}
}

func TestUpsertSubscription_Invalid(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		member   int64
		endpoint string
		auth     string
		key      string
	}{
		{"zero member", 0, "https://push.example/x", "a", "k"},
		{"blank endpoint", 1, "  ", "a", "k"},
		{"missing auth", 1, "https://push.example/x", "", "k"},
		{"missing key", 1, "https://push.example/x", "a", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.UpsertSubscription(ctx, tt.member, tt.endpoint, tt.auth, tt.key, "")
			if !errors.Is(err, ErrInvalidSubscription) {
				t.Errorf("error = %v, want ErrInvalidSubscription", err)
			}
		})
	}
}

func TestSubscriptions_UniqueEndpoint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Several members re-registering overlapping endpoints.
	for i := 0; i < 20; i++ {
		member := int64(i%4 + 1)
		endpoint := fmt.Sprintf("https://push.example/ep-%d", i%7)
		if _, err := db.UpsertSubscription(ctx, member, endpoint, "a", fmt.Sprintf("k%d", i), ""); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := db.ListSubscriptionsByMemberIDs(ctx, []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 7 {
		t.Errorf("got %d subscriptions, want 7", len(subs))
	}
	seen := map[string]string{}
	for _, s := range subs {
		if other, dup := seen[s.Endpoint]; dup && other != s.ID {
			t.Errorf("endpoint %s stored twice (%s, %s)", s.Endpoint, other, s.ID)
		}
		seen[s.Endpoint] = s.ID
	}
}

func TestListSubscriptionsByMemberIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	advance := fakeClock(db, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	mustUpsert := func(member int64, endpoint string) {
		t.Helper()
		advance(time.Second)
		if _, err := db.UpsertSubscription(ctx, member, endpoint, "a", "k", ""); err != nil {
			t.Fatal(err)
		}
	}
	mustUpsert(2, "https://push.example/b1")
	mustUpsert(1, "https://push.example/a1")
	mustUpsert(1, "https://push.example/a2")
	mustUpsert(3, "https://push.example/c1")

	subs, err := db.ListSubscriptionsByMemberIDs(ctx, []int64{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range subs {
		got = append(got, s.Endpoint)
	}
	want := []string{"https://push.example/a1", "https://push.example/a2", "https://push.example/b1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("endpoints = %v, want %v", got, want)
	}

	empty, err := db.ListSubscriptionsByMemberIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty id list = %v, %v", empty, err)
	}
}

func TestListSubscriptionsByMemberIDs_Chunked(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ids := make([]int64, 0, listChunkSize+10)
	for i := int64(1); i <= int64(listChunkSize+10); i++ {
		ids = append(ids, i)
	}
	for _, id := range []int64{1, int64(listChunkSize + 5)} {
		if _, err := db.UpsertSubscription(ctx, id, fmt.Sprintf("https://push.example/%d", id), "a", "k", ""); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := db.ListSubscriptionsByMemberIDs(ctx, ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Errorf("got %d subscriptions across chunks, want 2", len(subs))
	}
}

func TestDeleteSubscriptions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, _ := db.UpsertSubscription(ctx, 1, "https://push.example/a", "x", "y", "")
	if _, err := db.UpsertSubscription(ctx, 1, "https://push.example/b", "x", "y", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertSubscription(ctx, 2, "https://push.example/c", "x", "y", ""); err != nil {
		t.Fatal(err)
	}

	t.Run("by id is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := db.DeleteSubscriptionByID(ctx, a.ID); err != nil {
				t.Fatalf("delete #%d error = %v", i+1, err)
			}
		}
		if _, err := db.GetSubscriptionByEndpoint(ctx, a.Endpoint); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSubscriptionByEndpoint() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("by endpoint is idempotent", func(t *testing.T) {
		if err := db.DeleteSubscriptionByEndpoint(ctx, "https://push.example/b"); err != nil {
			t.Fatal(err)
		}
		if err := db.DeleteSubscriptionByEndpoint(ctx, "https://push.example/b"); err != nil {
			t.Fatal(err)
		}
		if err := db.DeleteSubscriptionByEndpoint(ctx, "https://push.example/never"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("member scoped", func(t *testing.T) {
		removed, err := db.DeleteMemberSubscriptionByEndpoint(ctx, 1, "https://push.example/c")
		if err != nil {
			t.Fatal(err)
		}
		if removed {
			t.Error("member 1 removed member 2's subscription")
		}
		removed, err = db.DeleteMemberSubscriptionByEndpoint(ctx, 2, "https://push.example/c")
		if err != nil {
			t.Fatal(err)
		}
		if !removed {
			t.Error("owner could not remove own subscription")
		}
	})

	n, err := db.CountSubscriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("CountSubscriptions() = %d, want 0", n)
	}
}

func TestSqlDriverName(t *testing.T) {
	if name, err := sqlDriverName("postgres"); err != nil || name != "pgx" {
		t.Errorf("postgres -> %q, %v", name, err)
	}
	if _, err := sqlDriverName("oracle"); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, compiled := sqlDrivers["duckdb"]; !compiled {
		if _, err := sqlDriverName("duckdb"); err == nil {
			t.Error("expected error for duckdb without build tag")
		}
	}
}

func TestIsSharedMemoryDSN(t *testing.T) {
	tests := []struct {
		driver, dsn string
		want        bool
	}{
		{"sqlite", ":memory:", true},
		{"sqlite", "file:test?mode=memory&cache=shared", true},
		{"sqlite", "/data/clubpush.db", false},
		{"postgres", "postgres://localhost/:memory:", false},
	}
	for _, tt := range tests {
		if got := isSharedMemoryDSN(tt.driver, tt.dsn); got != tt.want {
			t.Errorf("isSharedMemoryDSN(%q, %q) = %v, want %v", tt.driver, tt.dsn, got, tt.want)
		}
	}
}

func TestSubscriptionString_HidesKeys(t *testing.T) {
	db := setupTestDB(t)
	sub, err := db.UpsertSubscription(context.Background(), 1, "https://push.example/k", "secret-auth", "secret-key", "")
	if err != nil {
		t.Fatal(err)
	}
	s := sub.String()
	for _, secret := range []string{"secret-auth", "secret-key"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
}
