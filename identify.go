/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
	headerSessionID    = "X-Session-ID"

	sessionIDCookieName = "session_id"

	// UnknownClientAddr is the shared bucket identifier for requests whose
	// network address cannot be resolved. Collapsing them into one bucket is
	// an intentional conservative fallback, not an error.
	UnknownClientAddr = "unknown"
)

// SessionIDGetter extracts an opaque session or user token from the request.
// An empty return value means no session could be resolved.
type SessionIDGetter func(r *http.Request) string

// DefaultSessionIDGetter reads the session token from the X-Session-ID header
// or, failing that, from the "session_id" cookie.
func DefaultSessionIDGetter(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(headerSessionID)); v != "" {
		return v
	}
	if c, err := r.Cookie(sessionIDCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// ClientID derives a stable bucket identifier from the request.
// It is deterministic: identical request data always yields the same string.
//
// In session mode the identifier is "session:<token>"; when no token resolves,
// the request falls back to IP mode. In IP mode the identifier is "ip:<addr>",
// where the address is taken from the request's remote address, then from the
// first X-Forwarded-For entry, then from X-Real-IP, and finally defaults to
// UnknownClientAddr. The mode prefix keeps session and network buckets apart
// within one profile.
func ClientID(r *http.Request, mode Mode, getSessionID SessionIDGetter) string {
	if mode == ModeSession {
		if getSessionID == nil {
			getSessionID = DefaultSessionIDGetter
		}
		if token := getSessionID(r); token != "" {
			return "session:" + token
		}
	}
	return "ip:" + clientAddr(r)
}

func clientAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	if forwardedFor := r.Header.Get(headerForwardedFor); forwardedFor != "" {
		if i := strings.IndexByte(forwardedFor, ','); i != -1 {
			forwardedFor = forwardedFor[:i]
		}
		if addr := strings.TrimSpace(forwardedFor); addr != "" {
			return addr
		}
	}
	if addr := strings.TrimSpace(r.Header.Get(headerRealIP)); addr != "" {
		return addr
	}
	return UnknownClientAddr
}
