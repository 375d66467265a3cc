// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists dedup keys in BadgerDB. Expiry uses Badger's native
// entry TTL, so expired keys are invisible to reads without a sweep.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	ttl    time.Duration
	ownsDB bool

	mu     sync.RWMutex
	closed bool
}

// OpenBadgerStore opens (or creates) a BadgerDB at path. An empty path opens
// an in-memory instance.
func OpenBadgerStore(path, prefix string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for dedup: %w", err)
	}
	s := NewBadgerStore(db, prefix, ttl)
	s.ownsDB = true
	return s, nil
}

// NewBadgerStore wraps an already open BadgerDB. The caller keeps ownership of db.
func NewBadgerStore(db *badger.DB, prefix string, ttl time.Duration) *BadgerStore {
	if prefix == "" {
		prefix = "dedup:"
	}
	return &BadgerStore{
		db:     db,
		prefix: []byte(prefix),
		ttl:    ttlOrDefault(ttl),
	}
}

func (s *BadgerStore) makeKey(key string) []byte {
	return append(append([]byte{}, s.prefix...), hashKey(key)...)
}

// CheckAndMark implements Store.
func (s *BadgerStore) CheckAndMark(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	k := s.makeKey(key)
	duplicate := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		switch {
		case err == nil:
			duplicate = true
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.SetEntry(badger.NewEntry(k, []byte{1}).WithTTL(s.ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction wrote the same key first.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger dedup: %w", err)
	}
	return duplicate, nil
}

// Maintain implements Maintainer by running value log GC until nothing
// is left to rewrite.
func (s *BadgerStore) Maintain(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.db.Opts().InMemory {
		return nil
	}

	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
	return ctx.Err()
}

// Name implements Store.
func (s *BadgerStore) Name() string { return BackendBadger }

// Close implements Store. The database is closed only if the store opened it.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
