// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package dedup

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many writes pass between sweeps of expired keys.
const sweepEvery = 256

// MemoryStore is an in-process dedup store. Keys are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	ttl     time.Duration
	writes  int
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		ttl:     ttlOrDefault(ttl),
		now:     time.Now,
	}
}

// CheckAndMark implements Store.
func (s *MemoryStore) CheckAndMark(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	now := s.now()
	k := hashKey(key)
	if expiry, ok := s.entries[k]; ok && now.Before(expiry) {
		return true, nil
	}

	s.entries[k] = now.Add(s.ttl)
	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweepLocked(now)
	}
	return false, nil
}

// CleanupExpired removes expired keys and returns how many were dropped.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Maintain implements Maintainer.
func (s *MemoryStore) Maintain(context.Context) error {
	s.CleanupExpired()
	return nil
}

// Len returns the number of keys held, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Name implements Store.
func (s *MemoryStore) Name() string { return BackendMemory }

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
