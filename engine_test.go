/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acronis/go-appkit/log/logtest"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimit"
	"github.com/acronis/go-ratelimit/memstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore simulates a store whose every operation fails
// (connection refused, timeout, protocol error).
type failingStore struct {
	err error
}

func (s *failingStore) Take(context.Context, string, int, time.Duration, time.Time) (ratelimit.TakeResult, error) {
	return ratelimit.TakeResult{}, s.err
}

func (s *failingStore) Count(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, s.err
}

func (s *failingStore) Reset(context.Context, string) error {
	return s.err
}

func newTestEngine(t *testing.T, clock *testClock) *ratelimit.Engine {
	t.Helper()
	return ratelimit.NewWithOpts(memstore.New(), nil, ratelimit.EngineOpts{TimeNow: clock.Now})
}

func TestEngineCheckSequentialQuota(t *testing.T) {
	// Scenario: profile (5, 900s), six sequential requests from one client.
	clock := newTestClock()
	engine := newTestEngine(t, clock)
	profile := ratelimit.Profile{
		Name: "authentication", MaxRequests: 5, Window: 900 * time.Second,
		KeyPrefix: "auth", Identification: ratelimit.ModeIP,
	}
	ctx := context.Background()
	const client = "ip:203.0.113.5"

	for i, wantRemaining := range []int{4, 3, 2, 1, 0} {
		d := engine.Check(ctx, client, profile)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		require.Equal(t, wantRemaining, d.Remaining, "request %d", i+1)
		require.Equal(t, 5, d.Limit)
		require.Equal(t, clock.Now().Add(900*time.Second), d.ResetAt)
	}

	d := engine.Check(ctx, client, profile)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, 900*time.Second, d.RetryAfter(clock.Now()))
}

func TestEngineBoundedness(t *testing.T) {
	// Under strictly sequential access at most MaxRequests decisions are
	// allowed within any rolling window, no matter how many are attempted.
	clock := newTestClock()
	engine := newTestEngine(t, clock)
	profile := ratelimit.Profile{
		Name: "search", MaxRequests: 30, Window: time.Minute,
		KeyPrefix: "search", Identification: ratelimit.ModeIP,
	}
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 100; i++ {
		if engine.Check(ctx, "ip:198.51.100.7", profile).Allowed {
			allowed++
		}
		clock.Advance(100 * time.Millisecond) // 100 requests span 10s, well inside the window
	}
	require.Equal(t, 30, allowed)
}

func TestEngineBucketIsolation(t *testing.T) {
	// Scenario: two clients each exhaust the same profile independently.
	clock := newTestClock()
	engine := newTestEngine(t, clock)
	profile := ratelimit.Profile{
		Name: "checkout", MaxRequests: 5, Window: time.Minute,
		KeyPrefix: "checkout", Identification: ratelimit.ModeIP,
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, engine.Check(ctx, "ip:A", profile).Allowed)
		require.True(t, engine.Check(ctx, "ip:B", profile).Allowed)
	}
	require.False(t, engine.Check(ctx, "ip:A", profile).Allowed)
	require.False(t, engine.Check(ctx, "ip:B", profile).Allowed)

	// Distinct profiles with distinct prefixes are isolated too.
	other := ratelimit.Profile{
		Name: "upload", MaxRequests: 5, Window: time.Minute,
		KeyPrefix: "upload", Identification: ratelimit.ModeIP,
	}
	require.True(t, engine.Check(ctx, "ip:A", other).Allowed)
}

func TestEngineWindowExpiry(t *testing.T) {
	// Scenario: after the window passes with no further requests,
	// the client starts from a full quota again.
	clock := newTestClock()
	engine := newTestEngine(t, clock)
	profile := ratelimit.Profile{
		Name: "authentication", MaxRequests: 5, Window: 900 * time.Second,
		KeyPrefix: "auth", Identification: ratelimit.ModeIP,
	}
	ctx := context.Background()
	const client = "ip:203.0.113.5"

	for i := 0; i < 5; i++ {
		require.True(t, engine.Check(ctx, client, profile).Allowed)
	}
	require.False(t, engine.Check(ctx, client, profile).Allowed)

	clock.Advance(901 * time.Second)

	d := engine.Check(ctx, client, profile)
	require.True(t, d.Allowed)
	require.Equal(t, 4, d.Remaining)
}

func TestEngineFailOpen(t *testing.T) {
	// A store outage must never become a service outage: every check against
	// a failing store is allowed with a full quota, and the failure is logged.
	clock := newTestClock()
	logRecorder := logtest.NewRecorder()
	engine := ratelimit.NewWithOpts(&failingStore{err: errors.New("connection refused")}, nil, ratelimit.EngineOpts{
		Logger:  logRecorder,
		TimeNow: clock.Now,
	})
	profile := ratelimit.Profile{
		Name: "checkout", MaxRequests: 10, Window: time.Minute,
		KeyPrefix: "checkout", Identification: ratelimit.ModeIP,
	}
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d := engine.Check(ctx, "ip:203.0.113.5", profile)
		require.True(t, d.Allowed, "request %d", i+1)
		require.Equal(t, 10, d.Remaining)
		require.Equal(t, 10, d.Limit)
	}

	entry, found := logRecorder.FindEntry("rate limit store operation failed, failing open")
	require.True(t, found)
	_, found = entry.FindField(ratelimit.BucketKeyLogFieldKey)
	require.True(t, found)
}

func TestEngineStatusDoesNotMutate(t *testing.T) {
	// Peeking at the status N times must not change the outcome of a
	// subsequent check compared to checking directly.
	clock := newTestClock()
	engine := newTestEngine(t, clock)
	profile := ratelimit.Profile{
		Name: "upload", MaxRequests: 3, Window: 10 * time.Minute,
		KeyPrefix: "upload", Identification: ratelimit.ModeIP,
	}
	ctx := context.Background()
	const client = "ip:203.0.113.5"

	st := engine.Status(ctx, client, profile)
	require.True(t, st.Allowed)
	require.Equal(t, 3, st.Remaining)

	require.True(t, engine.Check(ctx, client, profile).Allowed)
	require.True(t, engine.Check(ctx, client, profile).Allowed)

	for i := 0; i < 10; i++ {
		st = engine.Status(ctx, client, profile)
		require.Equal(t, 1, st.Remaining)
		require.True(t, st.Allowed)
	}

	d := engine.Check(ctx, client, profile)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)

	st = engine.Status(ctx, client, profile)
	require.False(t, st.Allowed)
	require.Equal(t, 0, st.Remaining)
}

func TestEngineReset(t *testing.T) {
	// Scenario: resetting a saturated bucket makes the very next request pass
	// even though the natural window has not elapsed.
	clock := newTestClock()
	engine := newTestEngine(t, clock)
	profile := ratelimit.Profile{
		Name: "authentication", MaxRequests: 5, Window: 900 * time.Second,
		KeyPrefix: "auth", Identification: ratelimit.ModeIP,
	}
	ctx := context.Background()
	const client = "ip:203.0.113.5"

	for i := 0; i < 5; i++ {
		require.True(t, engine.Check(ctx, client, profile).Allowed)
	}
	require.False(t, engine.Check(ctx, client, profile).Allowed)

	require.NoError(t, engine.Reset(ctx, client, profile.KeyPrefix))

	d := engine.Check(ctx, client, profile)
	require.True(t, d.Allowed)
	require.Equal(t, 4, d.Remaining)
}

func TestEngineResetReportsStoreFailure(t *testing.T) {
	engine := ratelimit.New(&failingStore{err: errors.New("connection refused")}, nil)
	err := engine.Reset(context.Background(), "ip:203.0.113.5", "auth")
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}

func TestEngineProfileLookup(t *testing.T) {
	reg := ratelimit.MustNewRegistry(ratelimit.DefaultProfiles()...)
	engine := ratelimit.New(memstore.New(), reg)

	p, err := engine.Profile(ratelimit.ProfileSearch)
	require.NoError(t, err)
	require.Equal(t, 30, p.MaxRequests)

	_, err = engine.Profile("nope")
	require.Error(t, err)

	noReg := ratelimit.New(memstore.New(), nil)
	_, err = noReg.Profile(ratelimit.ProfileSearch)
	require.Error(t, err)
}

func TestEngineConcurrentSameBucket(t *testing.T) {
	// The memory store counts atomically, so even concurrent racers cannot
	// exceed the limit; the distributed store documents a bounded overcount
	// instead. Either way the engine itself must stay race-free.
	clock := newTestClock()
	engine := newTestEngine(t, clock)
	profile := ratelimit.Profile{
		Name: "admin-operations", MaxRequests: 200, Window: time.Minute,
		KeyPrefix: "admin", Identification: ratelimit.ModeSession,
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if engine.Check(ctx, "session:op-1", profile).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 200, allowed)
}

func ExampleEngine() {
	reg := ratelimit.MustNewRegistry(ratelimit.Profile{
		Name:           "password-reset",
		MaxRequests:    3,
		Window:         time.Hour,
		KeyPrefix:      "pwreset",
		Identification: ratelimit.ModeIP,
	})
	engine := ratelimit.New(memstore.New(), reg)

	profile, _ := engine.Profile("password-reset")
	for i := 0; i < 4; i++ {
		d := engine.Check(context.Background(), "ip:203.0.113.5", profile)
		fmt.Println(d.Allowed, d.Remaining)
	}

	// Output:
	// true 2
	// true 1
	// true 0
	// false 0
}
