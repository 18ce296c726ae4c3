/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"time"
)

// TakeResult is the outcome of a Store.Take call.
type TakeResult struct {
	// Allowed reports whether the event was recorded.
	Allowed bool

	// Count is the number of events in the window after the attempt,
	// including the newly recorded event when Allowed is true.
	Count int
}

// Store performs sliding-window event counting against a backend keyed by
// serialized bucket keys. Implementations share no state with the Engine;
// all per-key coordination happens inside the backend.
//
// The reference time is passed in by the caller so that all operations of one
// admission decision observe the same instant and so that tests can drive the
// clock.
type Store interface {
	// Take removes events recorded before now-window, counts the remaining
	// ones, and, if the count is below limit, records a new unique event at
	// now and refreshes the key's time-to-live so abandoned keys self-clean.
	// When the count has reached the limit, nothing is recorded.
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (TakeResult, error)

	// Count reports the number of events within the window without recording
	// anything and without touching the key's time-to-live.
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)

	// Reset deletes all state recorded for the key. The next Take for the key
	// behaves as if the client had never been seen.
	Reset(ctx context.Context, key string) error
}
