// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/tomtom215/clubpush/internal/models"
)

// ErrInvalidSubscription is returned when a subscription is missing its owner,
// endpoint or key material.
var ErrInvalidSubscription = errors.New("invalid subscription")

const subscriptionsTable = "push_subscriptions"

var subscriptionColumns = []string{
	"id", "member_id", "endpoint", "auth_secret", "encryption_key", "user_agent", "created_at", "updated_at",
}

// listChunkSize keeps IN lists well below every driver's bind parameter limit.
const listChunkSize = 500

// UpsertSubscription stores a device subscription for memberID. Re-subscribing an
// existing endpoint updates key material, owner, user agent and updated_at in
// place; id and created_at are kept.
func (db *DB) UpsertSubscription(ctx context.Context, memberID int64, endpoint, authSecret, encryptionKey, userAgent string) (*models.Subscription, error) {
	if memberID <= 0 {
		return nil, fmt.Errorf("%w: member id must be positive", ErrInvalidSubscription)
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	if authSecret == "" || encryptionKey == "" {
		return nil, fmt.Errorf("%w: key material is required", ErrInvalidSubscription)
	}

	now := db.now().UnixMilli()
	query, args, err := db.sb.Insert(subscriptionsTable).
		Columns(subscriptionColumns...).
		Values(uuid.NewString(), memberID, endpoint, authSecret, encryptionKey, userAgent, now, now).
		Suffix(`ON CONFLICT (endpoint) DO UPDATE SET
			member_id = excluded.member_id,
			auth_secret = excluded.auth_secret,
			encryption_key = excluded.encryption_key,
			user_agent = excluded.user_agent,
			updated_at = excluded.updated_at
			RETURNING ` + strings.Join(subscriptionColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build subscription upsert: %w", err)
	}

	start := time.Now()
	sub, err := scanSubscription(db.conn.QueryRowContext(ctx, query, args...))
	observe("UPSERT", subscriptionsTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByEndpoint returns the subscription for endpoint or ErrNotFound.
func (db *DB) GetSubscriptionByEndpoint(ctx context.Context, endpoint string) (*models.Subscription, error) {
	query, args, err := db.sb.Select(subscriptionColumns...).
		From(subscriptionsTable).
		Where(sq.Eq{"endpoint": endpoint}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build subscription query: %w", err)
	}

	start := time.Now()
	sub, err := scanSubscription(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		observe("SELECT", subscriptionsTable, start, nil)
		return nil, ErrNotFound
	}
	observe("SELECT", subscriptionsTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptionsByMemberIDs returns every subscription owned by any of ids,
// ordered by member and creation time.
func (db *DB) ListSubscriptionsByMemberIDs(ctx context.Context, ids []int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	for lo := 0; lo < len(ids); lo += listChunkSize {
		hi := min(lo+listChunkSize, len(ids))
		chunk, err := db.listSubscriptionsChunk(ctx, ids[lo:hi])
		if err != nil {
			return nil, err
		}
		subs = append(subs, chunk...)
	}
	return subs, nil
}

func (db *DB) listSubscriptionsChunk(ctx context.Context, ids []int64) ([]models.Subscription, error) {
	query, args, err := db.sb.Select(subscriptionColumns...).
		From(subscriptionsTable).
		Where(sq.Eq{"member_id": ids}).
		OrderBy("member_id", "created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build subscription list: %w", err)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		observe("SELECT", subscriptionsTable, start, err)
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			observe("SELECT", subscriptionsTable, start, err)
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	err = rows.Err()
	observe("SELECT", subscriptionsTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscriptionByEndpoint removes the subscription for endpoint. Deleting an
// unknown endpoint is not an error.
func (db *DB) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	_, err := db.deleteSubscriptions(ctx, sq.Eq{"endpoint": endpoint})
	return err
}

// DeleteMemberSubscriptionByEndpoint removes endpoint only if memberID owns it and
// reports whether a row was removed.
func (db *DB) DeleteMemberSubscriptionByEndpoint(ctx context.Context, memberID int64, endpoint string) (bool, error) {
	n, err := db.deleteSubscriptions(ctx, sq.Eq{"endpoint": endpoint, "member_id": memberID})
	return n > 0, err
}

// DeleteSubscriptionByID removes a subscription by id. Deleting an unknown id is
// not an error.
func (db *DB) DeleteSubscriptionByID(ctx context.Context, id string) error {
	_, err := db.deleteSubscriptions(ctx, sq.Eq{"id": id})
	return err
}

func (db *DB) deleteSubscriptions(ctx context.Context, where sq.Eq) (int64, error) {
	query, args, err := db.sb.Delete(subscriptionsTable).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build subscription delete: %w", err)
	}

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, query, args...)
	observe("DELETE", subscriptionsTable, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// CountSubscriptions returns the number of stored subscriptions.
func (db *DB) CountSubscriptions(ctx context.Context) (int64, error) {
	query, args, err := db.sb.Select("COUNT(*)").From(subscriptionsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build subscription count: %w", err)
	}

	var n int64
	start := time.Now()
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&n)
	observe("COUNT", subscriptionsTable, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		s                models.Subscription
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.MemberID, &s.Endpoint, &s.AuthSecret, &s.EncryptionKey, &s.UserAgent, &created, &updated); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(created).UTC()
	s.UpdatedAt = time.UnixMilli(updated).UTC()
	return &s, nil
}
