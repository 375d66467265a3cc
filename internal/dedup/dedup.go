// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package dedup suppresses repeated dispatches.
//
// Callers attach a dedup key to a dispatch request (for example
// "event-42-cancelled"). The first request with a key goes through; any
// request with the same key inside the TTL window is suppressed. Three
// backends are available:
//   - memory: per-process map, lost on restart
//   - badger: local persistent store, survives restarts
//   - redis: shared between instances
//
// A Store is always injected into the dispatcher; there is no package-level
// instance.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/clubpush/internal/config"
)

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("dedup store is closed")

// Store records dedup keys.
type Store interface {
	// CheckAndMark atomically records key and reports whether it was already
	// recorded within the TTL window.
	CheckAndMark(ctx context.Context, key string) (duplicate bool, err error)

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases resources held by the store.
	Close() error
}

// Maintainer is implemented by stores that need periodic housekeeping.
// Redis expires keys itself and does not implement it.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Backend names.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// New builds the store selected by cfg. It returns a nil Store for the
// "none" backend.
func New(cfg config.DedupConfig) (Store, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemoryStore(cfg.TTL), nil
	case BackendBadger:
		s, err := OpenBadgerStore(cfg.BadgerPath, cfg.KeyPrefix, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		return NewRedisStore(cfg), nil
	default:
		return nil, fmt.Errorf("unknown dedup backend: %q", cfg.Backend)
	}
}

// hashKey bounds the stored key size regardless of what callers pass in.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// defaultTTL applies when a store is built with a non-positive TTL.
const defaultTTL = 10 * time.Minute

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}
