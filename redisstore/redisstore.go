/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package redisstore provides the Redis-backed implementation of the
// sliding-window store. Each bucket is a sorted set whose members are opaque
// unique event tokens scored by their arrival time in unix milliseconds, so
// the state is shared by all process instances connected to the same Redis.
//
// By default the trim-count-record sequence is executed as two pipelined round
// trips and is deliberately not atomic: concurrent requests for the same
// bucket may both observe a sub-limit count and both be admitted, overcounting
// by at most the number of truly concurrent racers minus one. This is an
// accepted availability-over-precision trade-off; WithScript switches the
// store to a single server-side Lua script when exact counting is required.
package redisstore

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/acronis/go-ratelimit"
)

// DefaultNamespace is the prefix prepended to all bucket keys in Redis.
const DefaultNamespace = "ratelimit"

// DefaultTTLBuffer is added to the window when refreshing a bucket key's
// time-to-live so abandoned keys self-clean slightly after their window passes.
const DefaultTTLBuffer = 10 * time.Second

//go:embed take.lua
var takeScriptSrc string

var takeScript = redis.NewScript(takeScriptSrc)

// Store is a Redis sliding-window event store.
type Store struct {
	client    redis.Cmdable
	namespace string
	ttlBuffer time.Duration
	useScript bool
}

var _ ratelimit.Store = (*Store)(nil)

// Opts represents options for the Store.
type Opts struct {
	// Namespace is prepended to all bucket keys. DefaultNamespace is used when it is empty.
	Namespace string

	// TTLBuffer is added to the window when refreshing a key's time-to-live.
	// DefaultTTLBuffer is used when it is 0.
	TTLBuffer time.Duration

	// UseScript makes Take execute the trim-count-record sequence as one
	// atomic server-side Lua script instead of pipelined commands,
	// eliminating the bounded overcount at the cost of requiring script
	// execution permissions on the Redis deployment.
	UseScript bool
}

// New creates a new Redis sliding-window store.
// It expects a pre-configured redis.Cmdable (e.g. redis.Client or redis.ClusterClient);
// connection management is owned by the caller.
func New(client redis.Cmdable) *Store {
	return NewWithOpts(client, Opts{})
}

// NewWithOpts is a configurable version of New.
func NewWithOpts(client redis.Cmdable, opts Opts) *Store {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.TTLBuffer == 0 {
		opts.TTLBuffer = DefaultTTLBuffer
	}
	return &Store{
		client:    client,
		namespace: opts.Namespace,
		ttlBuffer: opts.TTLBuffer,
		useScript: opts.UseScript,
	}
}

// Take implements the ratelimit.Store interface.
func (s *Store) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ratelimit.TakeResult, error) {
	if s.useScript {
		return s.takeWithScript(ctx, key, limit, window, now)
	}
	return s.takeWithPipeline(ctx, key, limit, window, now)
}

func (s *Store) takeWithPipeline(
	ctx context.Context, key string, limit int, window time.Duration, now time.Time,
) (ratelimit.TakeResult, error) {
	rKey := s.bucketKey(key)
	nowMs := now.UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rKey, "-inf", exclusiveScore(trimCutoff(nowMs, window)))
	countCmd := pipe.ZCard(ctx, rKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.TakeResult{}, fmt.Errorf("trim and count events for key %q: %w", rKey, err)
	}

	count := int(countCmd.Val())
	if count >= limit {
		return ratelimit.TakeResult{Allowed: false, Count: count}, nil
	}

	// The count observed above may already be stale here: a concurrent racer
	// can record its own event between the two round trips. The resulting
	// overcount is bounded by the number of racers and is accepted; see the
	// package comment and Opts.UseScript.
	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, rKey, redis.Z{Score: float64(nowMs), Member: xid.New().String()})
	pipe.PExpire(ctx, rKey, window+s.ttlBuffer)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.TakeResult{}, fmt.Errorf("record event for key %q: %w", rKey, err)
	}
	return ratelimit.TakeResult{Allowed: true, Count: count + 1}, nil
}

func (s *Store) takeWithScript(
	ctx context.Context, key string, limit int, window time.Duration, now time.Time,
) (ratelimit.TakeResult, error) {
	rKey := s.bucketKey(key)
	args := []interface{}{
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		xid.New().String(),
		(window + s.ttlBuffer).Milliseconds(),
	}
	res, err := takeScript.Run(ctx, s.client, []string{rKey}, args...).Result()
	if err != nil {
		return ratelimit.TakeResult{}, fmt.Errorf("run admission script for key %q: %w", rKey, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return ratelimit.TakeResult{}, fmt.Errorf("unexpected admission script result for key %q: %v", rKey, res)
	}
	allowed, okA := vals[0].(int64)
	count, okC := vals[1].(int64)
	if !okA || !okC {
		return ratelimit.TakeResult{}, fmt.Errorf("unexpected admission script result types for key %q: %v", rKey, res)
	}
	return ratelimit.TakeResult{Allowed: allowed == 1, Count: int(count)}, nil
}

// Count implements the ratelimit.Store interface.
// It is a pure read: nothing is trimmed or recorded and the key's time-to-live
// is left untouched, so status peeks cannot influence admission decisions.
func (s *Store) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	rKey := s.bucketKey(key)
	cutoff := trimCutoff(now.UnixMilli(), window)
	count, err := s.client.ZCount(ctx, rKey, inclusiveScore(cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count events for key %q: %w", rKey, err)
	}
	return int(count), nil
}

// Reset implements the ratelimit.Store interface.
func (s *Store) Reset(ctx context.Context, key string) error {
	rKey := s.bucketKey(key)
	if err := s.client.Del(ctx, rKey).Err(); err != nil {
		return fmt.Errorf("delete key %q: %w", rKey, err)
	}
	return nil
}

func (s *Store) bucketKey(key string) string {
	return s.namespace + ":" + key
}

// trimCutoff returns the oldest score (inclusive) that still counts as inside the window.
func trimCutoff(nowMs int64, window time.Duration) int64 {
	return nowMs - window.Milliseconds()
}

// exclusiveScore formats a score as an exclusive range bound for ZRANGEBYSCORE-style commands.
func exclusiveScore(v int64) string {
	return "(" + strconv.FormatInt(v, 10)
}

func inclusiveScore(v int64) string {
	return strconv.FormatInt(v, 10)
}
