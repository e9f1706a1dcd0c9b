package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SurfaceResult is the outcome of a coarse surface-level check.
type SurfaceResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// SurfaceLimiter performs sliding-window limiting per surface, backed by
// Redis sorted sets. It runs ahead of every other pipeline stage so a
// flooding surface is shed before any per-request work happens. If rdb is
// nil, all checks pass (fail open) — the per-user buckets still apply.
type SurfaceLimiter struct {
	rdb *redis.Client
}

func NewSurfaceLimiter(rdb *redis.Client) *SurfaceLimiter {
	return &SurfaceLimiter{rdb: rdb}
}

// slidingWindowScript atomically: removes expired entries, adds current, counts.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro) — used as both score and member uniqueness
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// Returns: [current_count, 1=allowed/0=denied]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, ttl)
    return {count + 1, 1}
end

redis.call('EXPIRE', key, ttl)
return {count, 0}
`)

// Check performs a sliding-window check for the surface.
func (l *SurfaceLimiter) Check(ctx context.Context, surfaceID string, limit int64, window time.Duration) (SurfaceResult, error) {
	if l.rdb == nil {
		return SurfaceResult{Allowed: true, Remaining: limit - 1, ResetAt: time.Now().Add(window)}, nil
	}

	now := time.Now()
	windowStart := now.Add(-window).UnixMicro()
	nowMicro := now.UnixMicro()
	ttlSecs := int64(window.Seconds()) + 1

	redisKey := fmt.Sprintf("warden:surface:%s", surfaceID)

	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{redisKey},
		windowStart, nowMicro, limit, ttlSecs,
	).Int64Slice()
	if err != nil {
		// Fail open on Redis errors; the per-user buckets still gate.
		return SurfaceResult{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, nil
	}

	count := result[0]
	allowed := result[1] == 1
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return SurfaceResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}, nil
}
