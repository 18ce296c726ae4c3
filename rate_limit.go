/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// Mode determines how a client is identified for bucketing.
type Mode string

// Supported client identification modes.
const (
	// ModeIP buckets clients by their network address.
	ModeIP Mode = "ip"

	// ModeSession buckets clients by an opaque session or user token,
	// falling back to ModeIP when no token can be resolved.
	ModeSession Mode = "session"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (m *Mode) UnmarshalText(text []byte) error {
	switch v := Mode(text); v {
	case ModeIP, ModeSession:
		*m = v
		return nil
	case "":
		*m = ModeIP
		return nil
	}
	return fmt.Errorf("unknown identification mode %q, should be %q or %q", string(text), ModeIP, ModeSession)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

// Profile is a named, immutable throttling policy.
// Profiles are defined once at process start and referenced by name from call sites.
type Profile struct {
	// Name identifies the profile in the Registry and in logs.
	Name string

	// MaxRequests is the maximum number of allowed requests per Window. Must be positive.
	MaxRequests int

	// Window is the length of the sliding window. Must be positive.
	Window time.Duration

	// KeyPrefix namespaces this profile's buckets in the store.
	// Must be non-empty and unique across profiles to prevent cross-profile collisions.
	KeyPrefix string

	// Identification determines how clients are bucketed.
	Identification Mode
}

// Validate checks that the profile parameters are usable.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("profile %q: max requests must be positive, got %d", p.Name, p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("profile %q: window must be positive, got %s", p.Name, p.Window)
	}
	if p.KeyPrefix == "" {
		return fmt.Errorf("profile %q: key prefix must not be empty", p.Name)
	}
	if p.Identification != ModeIP && p.Identification != ModeSession {
		return fmt.Errorf("profile %q: unknown identification mode %q", p.Name, p.Identification)
	}
	return nil
}

// BucketKey addresses one client's counter state within one profile's namespace.
// Constructing keys through this type instead of ad hoc string concatenation
// keeps serialization in one place and collision-free.
type BucketKey struct {
	Prefix     string
	Identifier string
}

// NewBucketKey builds a BucketKey for the given profile prefix and client identifier.
func NewBucketKey(prefix, identifier string) BucketKey {
	return BucketKey{Prefix: prefix, Identifier: identifier}
}

// String serializes the key deterministically into a single store key.
// Implements fmt.Stringer interface.
func (k BucketKey) String() string {
	return k.Prefix + ":" + k.Identifier
}

// Decision is the verdict of a rate limiting check together with quota metadata.
// It is derived per request and never stored.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the number of requests the client may still make in the current window.
	Remaining int

	// Limit is the profile's maximum number of requests per window.
	Limit int

	// ResetAt is the approximate time at which the client's quota is fully restored.
	ResetAt time.Time
}

// RetryAfter returns the duration the client should wait before retrying,
// rounded up to a whole second. It is never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	ra := d.ResetAt.Sub(now)
	if ra <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(ra.Seconds())) * time.Second
}
