/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware provides the net/http integration of the rate limiting
// engine: a middleware that short-circuits over-limit requests with
// HTTP 429 and annotates allowed responses with quota headers.
// It is the only integration point business handlers need; they select a
// profile by name and stay unaware of the limiting mechanism.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	appkitmiddleware "github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/acronis/go-ratelimit"
)

// RateLimitErrCode is the machine-readable error code carried by 429 response bodies.
const RateLimitErrCode = "RATE_LIMIT_EXCEEDED"

// Quota headers attached to allowed responses.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// HeaderRetryAfter is set on denied responses to the number of seconds the client should wait.
const HeaderRetryAfter = "Retry-After"

// RateLimitLogFieldKey is the name of the logged field that contains the profile name of the rejecting limiter.
const RateLimitLogFieldKey = "rate_limit_profile"

// RateLimitParams contains data that relates to a rejected request
// and could be used for building a custom rejection response.
type RateLimitParams struct {
	ProfileName string
	Decision    ratelimit.Decision
	RetryAfter  time.Duration
}

// RateLimitOnRejectFunc is a function that is called for rejecting the HTTP request
// when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOpts represents options for the RateLimit middleware.
type RateLimitOpts struct {
	// DryRun makes the middleware log and count would-be rejections
	// but serve all requests anyway.
	DryRun bool

	// OnReject is called to reject the request. DefaultRateLimitOnReject is used when it is nil.
	OnReject RateLimitOnRejectFunc

	// OnRejectInDryRun is called instead of OnReject in the dry-run mode.
	// DefaultRateLimitOnRejectInDryRun is used when it is nil.
	OnRejectInDryRun RateLimitOnRejectFunc

	// MetricsCollector collects allow/reject counters. Metrics are disabled when it is nil.
	MetricsCollector MetricsCollector
}

type rateLimitHandler struct {
	next     http.Handler
	engine   *ratelimit.Engine
	profile  ratelimit.Profile
	onReject RateLimitOnRejectFunc
	dryRun   bool
	metrics  MetricsCollector
}

// RateLimit is a middleware that limits the rate of HTTP requests using the
// named profile from the engine's registry. The profile is resolved at
// construction time so that a broken policy reference fails fast at startup.
func RateLimit(engine *ratelimit.Engine, profileName string) (func(next http.Handler) http.Handler, error) {
	return RateLimitWithOpts(engine, profileName, RateLimitOpts{})
}

// MustRateLimit is a version of RateLimit that panics if an error occurs.
func MustRateLimit(engine *ratelimit.Engine, profileName string) func(next http.Handler) http.Handler {
	mw, err := RateLimit(engine, profileName)
	if err != nil {
		panic(err)
	}
	return mw
}

// RateLimitWithOpts is a configurable version of a middleware to limit the rate of HTTP requests.
func RateLimitWithOpts(
	engine *ratelimit.Engine, profileName string, opts RateLimitOpts,
) (func(next http.Handler) http.Handler, error) {
	profile, err := engine.Profile(profileName)
	if err != nil {
		return nil, err
	}

	onReject := opts.OnReject
	onRejectInDryRun := opts.OnRejectInDryRun
	if onReject == nil {
		onReject = DefaultRateLimitOnReject
	}
	if onRejectInDryRun == nil {
		onRejectInDryRun = DefaultRateLimitOnRejectInDryRun
	}
	if opts.DryRun {
		onReject = onRejectInDryRun
	}

	metrics := opts.MetricsCollector
	if metrics == nil {
		metrics = disabledMetrics{}
	}

	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:     next,
			engine:   engine,
			profile:  profile,
			onReject: onReject,
			dryRun:   opts.DryRun,
			metrics:  metrics,
		}
	}, nil
}

// MustRateLimitWithOpts is a version of RateLimitWithOpts that panics if an error occurs.
func MustRateLimitWithOpts(
	engine *ratelimit.Engine, profileName string, opts RateLimitOpts,
) func(next http.Handler) http.Handler {
	mw, err := RateLimitWithOpts(engine, profileName, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	decision := h.engine.CheckRequest(r, h.profile)
	if decision.Allowed {
		h.metrics.IncAllows(h.profile.Name)
		setQuotaHeaders(rw.Header(), decision)
		h.next.ServeHTTP(rw, r)
		return
	}

	h.metrics.IncRejects(h.profile.Name, h.dryRun)
	params := RateLimitParams{
		ProfileName: h.profile.Name,
		Decision:    decision,
		RetryAfter:  decision.RetryAfter(time.Now()),
	}
	h.onReject(rw, r, params, h.next, appkitmiddleware.GetLoggerFromContext(r.Context()))
}

func setQuotaHeaders(header http.Header, d ratelimit.Decision) {
	header.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	header.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	header.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// RateLimitResponseBody is the JSON body of a 429 response.
type RateLimitResponseBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Limit      int    `json:"limit"`
	ResetAt    int64  `json:"resetAt"`
	RetryAfter int    `json:"retryAfter"`
}

// DefaultRateLimitOnReject sends a 429 response with the Retry-After header
// and a structured JSON body when the rate limit is exceeded.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, _ http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests",
			log.String(RateLimitLogFieldKey, params.ProfileName),
			log.String("user_agent", r.UserAgent()),
		)
	}
	retryAfterSecs := int(params.RetryAfter.Seconds())
	rw.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfterSecs))
	restapi.RespondCodeAndJSON(rw, http.StatusTooManyRequests, RateLimitResponseBody{
		Error:      "Too many requests.",
		Code:       RateLimitErrCode,
		Limit:      params.Decision.Limit,
		ResetAt:    params.Decision.ResetAt.Unix(),
		RetryAfter: retryAfterSecs,
	}, logger)
}

// DefaultRateLimitOnRejectInDryRun logs the would-be rejection and serves the request.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitLogFieldKey, params.ProfileName),
			log.String("user_agent", r.UserAgent()),
		)
	}
	setQuotaHeaders(rw.Header(), params.Decision)
	next.ServeHTTP(rw, r)
}
