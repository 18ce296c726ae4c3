/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/log"
)

// DefaultStoreTimeout bounds a single store operation made by the Engine.
const DefaultStoreTimeout = 500 * time.Millisecond

// BucketKeyLogFieldKey is the name of the logged field that contains the serialized bucket key.
const BucketKeyLogFieldKey = "rate_limit_bucket_key"

// ProfileLogFieldName is the name of the logged field that contains the profile name.
const ProfileLogFieldName = "rate_limit_profile"

// EngineOpts represents options for the Engine.
type EngineOpts struct {
	// Logger is used for reporting store failures and fail-open events.
	// If nil, logging is disabled.
	Logger log.FieldLogger

	// StoreTimeout bounds every single store operation.
	// DefaultStoreTimeout is used when it is 0.
	StoreTimeout time.Duration

	// GetSessionID extracts an opaque session or user token from the request
	// for profiles with session identification. DefaultSessionIDGetter is used
	// when it is nil.
	GetSessionID SessionIDGetter

	// TimeNow allows overriding the clock, e.g. in tests. time.Now is used when it is nil.
	TimeNow func() time.Time
}

// Engine makes admission-control decisions by combining a client key,
// a throttling profile and a sliding-window store.
//
// The Engine itself holds no mutable state and is safe for concurrent use.
// It never returns an error from the request path: any store failure is logged
// and converted into an allowing Decision (fail-open), because a throttling
// outage must never become a service outage.
type Engine struct {
	store        Store
	registry     *Registry
	logger       log.FieldLogger
	storeTimeout time.Duration
	getSessionID SessionIDGetter
	timeNow      func() time.Time
}

// New creates a new Engine with default options.
func New(store Store, registry *Registry) *Engine {
	return NewWithOpts(store, registry, EngineOpts{})
}

// NewWithOpts is a configurable version of New.
func NewWithOpts(store Store, registry *Registry, opts EngineOpts) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.GetSessionID == nil {
		opts.GetSessionID = DefaultSessionIDGetter
	}
	if opts.TimeNow == nil {
		opts.TimeNow = time.Now
	}
	return &Engine{
		store:        store,
		registry:     registry,
		logger:       opts.Logger,
		storeTimeout: opts.StoreTimeout,
		getSessionID: opts.GetSessionID,
		timeNow:      opts.TimeNow,
	}
}

// Profile looks up a profile by name in the Engine's registry.
func (e *Engine) Profile(name string) (Profile, error) {
	if e.registry == nil {
		return Profile{}, fmt.Errorf("no profile registry configured")
	}
	return e.registry.Lookup(name)
}

// Check decides whether the client identified by clientKey may proceed under
// the passed profile. The attempt is recorded when it is allowed.
func (e *Engine) Check(ctx context.Context, clientKey string, profile Profile) Decision {
	now := e.timeNow()
	key := NewBucketKey(profile.KeyPrefix, clientKey)

	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	res, err := e.store.Take(opCtx, key.String(), profile.MaxRequests, profile.Window, now)
	if err != nil {
		return e.failOpen(profile, key, now, err)
	}

	d := Decision{Allowed: res.Allowed, Limit: profile.MaxRequests, ResetAt: now.Add(profile.Window)}
	if res.Allowed {
		if d.Remaining = profile.MaxRequests - res.Count; d.Remaining < 0 {
			d.Remaining = 0
		}
	}
	return d
}

// CheckRequest resolves the client identifier from the HTTP request according
// to the profile's identification mode and calls Check with the request's context.
func (e *Engine) CheckRequest(r *http.Request, profile Profile) Decision {
	return e.Check(r.Context(), ClientID(r, profile.Identification, e.getSessionID), profile)
}

// Status is a read-only peek at the client's current quota: it reports the
// same Decision a Check call would produce right now, but records nothing,
// so subsequent Check outcomes are unaffected.
func (e *Engine) Status(ctx context.Context, clientKey string, profile Profile) Decision {
	now := e.timeNow()
	key := NewBucketKey(profile.KeyPrefix, clientKey)

	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	count, err := e.store.Count(opCtx, key.String(), profile.Window, now)
	if err != nil {
		return e.failOpen(profile, key, now, err)
	}

	d := Decision{Allowed: count < profile.MaxRequests, Limit: profile.MaxRequests, ResetAt: now.Add(profile.Window)}
	if d.Remaining = profile.MaxRequests - count; d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}

// Reset deletes all recorded state for the client under the passed key prefix.
// The immediately following request behaves as if the client had never been
// seen. It is an out-of-band operator action (e.g. clearing a false positive)
// and, unlike the request-path methods, reports store failures to the caller.
func (e *Engine) Reset(ctx context.Context, clientKey, prefix string) error {
	key := NewBucketKey(prefix, clientKey)

	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	if err := e.store.Reset(opCtx, key.String()); err != nil {
		return fmt.Errorf("reset rate limit state for key %q: %w", key.String(), err)
	}
	return nil
}

func (e *Engine) failOpen(profile Profile, key BucketKey, now time.Time, err error) Decision {
	e.logger.Warn("rate limit store operation failed, failing open",
		log.String(BucketKeyLogFieldKey, key.String()),
		log.String(ProfileLogFieldName, profile.Name),
		log.Error(err),
	)
	return Decision{
		Allowed:   true,
		Remaining: profile.MaxRequests,
		Limit:     profile.MaxRequests,
		ResetAt:   now.Add(profile.Window),
	}
}
