/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides distributed request rate limiting for stateless
// application instances that coordinate through a shared store.
//
// The limiting algorithm is a sliding window over recorded request events:
// every attempt trims events older than the profile's window, counts the rest
// and records a new event if the count is below the limit. Counting is
// performed by a Store implementation; the redisstore subpackage shares state
// between instances via Redis sorted sets, and the memstore subpackage keeps
// it in process memory.
//
// Admission decisions are made by the Engine. The Engine never propagates
// store failures to callers: if the store is unreachable or slow, the request
// is allowed and the failure is logged (fail-open). A throttling outage must
// not become a service outage.
//
// Policies are expressed as named immutable Profiles collected in a Registry.
// The middleware subpackage wraps http.Handler values so that requests over
// the limit are rejected with HTTP 429 and allowed responses carry
// X-RateLimit-* quota headers.
package ratelimit
