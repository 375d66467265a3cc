// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/clubpush/internal/config"
)

// RedisStore shares dedup keys between instances through Redis SET NX.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	ownsDB bool
}

// NewRedisStore connects to the Redis server named in cfg. The connection is
// lazy; the first CheckAndMark surfaces connection errors.
func NewRedisStore(cfg config.DedupConfig) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	s := NewRedisStoreWithClient(rdb, cfg.KeyPrefix, cfg.TTL)
	s.ownsDB = true
	return s
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps ownership of rdb.
func NewRedisStoreWithClient(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "dedup:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttlOrDefault(ttl)}
}

// CheckAndMark implements Store.
func (s *RedisStore) CheckAndMark(ctx context.Context, key string) (bool, error) {
	set, err := s.rdb.SetNX(ctx, s.prefix+hashKey(key), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup: %w", err)
	}
	return !set, nil
}

// Name implements Store.
func (s *RedisStore) Name() string { return BackendRedis }

// Close implements Store.
func (s *RedisStore) Close() error {
	if s.ownsDB {
		return s.rdb.Close()
	}
	return nil
}
