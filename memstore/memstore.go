/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package memstore provides an in-process implementation of the sliding-window
// store. It is used in tests and in single-instance deployments where sharing
// counters between processes is not needed; distributed deployments should use
// the redisstore package instead.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/acronis/go-ratelimit"
)

// DefaultTTLBuffer is added to the window when computing a bucket's
// time-to-live, mirroring the keepalive buffer of backend stores.
const DefaultTTLBuffer = 10 * time.Second

type bucket struct {
	events    []int64 // unix-milli timestamps, ascending
	expiresAt int64   // unix-milli deadline after which the whole bucket is dropped
}

// Store is an in-memory sliding-window event store.
// All state is local to the process; the zero cross-instance coordination
// makes it unsuitable for horizontally scaled services.
type Store struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	ttlBuffer time.Duration
}

var _ ratelimit.Store = (*Store)(nil)

// Opts represents options for the Store.
type Opts struct {
	// TTLBuffer is added to the window when refreshing a bucket's time-to-live.
	// DefaultTTLBuffer is used when it is 0.
	TTLBuffer time.Duration
}

// New creates a new in-memory sliding-window store.
func New() *Store {
	return NewWithOpts(Opts{})
}

// NewWithOpts is a configurable version of New.
func NewWithOpts(opts Opts) *Store {
	if opts.TTLBuffer == 0 {
		opts.TTLBuffer = DefaultTTLBuffer
	}
	return &Store{
		buckets:   make(map[string]*bucket),
		ttlBuffer: opts.TTLBuffer,
	}
}

// Take implements the ratelimit.Store interface.
func (s *Store) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (ratelimit.TakeResult, error) {
	nowMs := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.liveBucket(key, nowMs)
	if b == nil {
		b = &bucket{}
		s.buckets[key] = b
	}
	b.events = pruned(b.events, nowMs-window.Milliseconds())

	count := len(b.events)
	if count >= limit {
		return ratelimit.TakeResult{Allowed: false, Count: count}, nil
	}

	b.events = append(b.events, nowMs)
	b.expiresAt = nowMs + (window + s.ttlBuffer).Milliseconds()
	return ratelimit.TakeResult{Allowed: true, Count: count + 1}, nil
}

// Count implements the ratelimit.Store interface.
func (s *Store) Count(_ context.Context, key string, window time.Duration, now time.Time) (int, error) {
	nowMs := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.liveBucket(key, nowMs)
	if b == nil {
		return 0, nil
	}
	cutoff := nowMs - window.Milliseconds()
	count := 0
	for _, ts := range b.events {
		if ts >= cutoff {
			count++
		}
	}
	return count, nil
}

// Reset implements the ratelimit.Store interface.
func (s *Store) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// liveBucket returns the bucket for the key, dropping it first if its
// time-to-live has passed. Must be called with the mutex held.
func (s *Store) liveBucket(key string, nowMs int64) *bucket {
	b, ok := s.buckets[key]
	if !ok {
		return nil
	}
	if nowMs >= b.expiresAt {
		delete(s.buckets, key)
		return nil
	}
	return b
}

// pruned drops all events recorded before the cutoff.
// Events are appended in arrival order, so the slice stays sorted.
func pruned(events []int64, cutoff int64) []int64 {
	i := 0
	for i < len(events) && events[i] < cutoff {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}
