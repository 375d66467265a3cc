// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

// countingService fails its first failures runs, then blocks until canceled.
type countingService struct {
	name     string
	failures int32
	starts   atomic.Int32
	stops    atomic.Int32
}

func newCountingService(name string, failures int32) *countingService {
	return &countingService{name: name, failures: failures}
}

func (s *countingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	defer s.stops.Add(1)
	if n <= s.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) StartCount() int32 { return s.starts.Load() }
func (s *countingService) StopCount() int32  { return s.stops.Load() }
func (s *countingService) String() string    { return s.name }
