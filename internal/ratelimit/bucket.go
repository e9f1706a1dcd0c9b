// Package ratelimit provides per-user token-bucket admission and a coarse
// per-surface limit for raw volume shedding.
package ratelimit

import (
	"sync"
	"time"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// AcquireResult is the outcome of one admission attempt.
type AcquireResult struct {
	Admitted   bool
	Remaining  float64
	RetryAfter time.Duration
}

// bucket is one user's token bucket. Tokens replenish continuously and
// stay within [0, capacity].
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(cfg config.TierLimitConfig) *bucket {
	return &bucket{
		tokens:     cfg.Capacity,
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillPerSecond,
		lastRefill: time.Now(),
	}
}

// refill adds tokens based on elapsed time. Must be called with mu held.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// tryAcquire consumes one token if available, otherwise computes how long
// until one would be.
func (b *bucket) tryAcquire() AcquireResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())

	if b.tokens >= 1 {
		b.tokens--
		return AcquireResult{Admitted: true, Remaining: b.tokens}
	}

	deficit := 1 - b.tokens
	retry := time.Duration(deficit / b.refillRate * float64(time.Second))
	return AcquireResult{Admitted: false, Remaining: b.tokens, RetryAfter: retry}
}

// snapshot returns the current token count after a refill.
func (b *bucket) snapshot() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	return b.tokens
}

// Limiter manages a token bucket per user. Buckets are created lazily with
// the tier configuration in effect at first sight of the user; each bucket
// has its own lock so unrelated users never contend.
type Limiter struct {
	cfg func() config.RateLimitConfig

	mu      sync.RWMutex
	buckets map[string]*bucket
	maxKeys int
}

func NewLimiter(cfg func() config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		maxKeys: 10000,
	}
}

// TryAcquire consumes one token from the user's bucket, creating it from
// the tier table on first use. Disabled limiting admits everything.
func (l *Limiter) TryAcquire(userID string, tier types.Tier) AcquireResult {
	cfg := l.cfg()
	if !cfg.Enabled {
		return AcquireResult{Admitted: true}
	}
	return l.getBucket(userID, tier, cfg).tryAcquire()
}

// Tokens reports the user's current token count. Mostly useful for tests
// and status endpoints; returns capacity semantics only for known users.
func (l *Limiter) Tokens(userID string) (float64, bool) {
	l.mu.RLock()
	b, ok := l.buckets[userID]
	l.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return b.snapshot(), true
}

func (l *Limiter) getBucket(userID string, tier types.Tier, cfg config.RateLimitConfig) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[userID]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if b, ok = l.buckets[userID]; ok {
		return b
	}

	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}

	tierCfg, ok := cfg.Tiers[string(tier)]
	if !ok {
		// Unknown tier is a config gap: the standard tier is the
		// restrictive default.
		tierCfg = cfg.Tiers[string(types.TierStandard)]
	}
	b = newBucket(tierCfg)
	l.buckets[userID] = b
	return b
}

// prune drops buckets that are effectively full (inactive users). Must be
// called with the write lock held.
func (l *Limiter) prune() {
	for key, b := range l.buckets {
		if b.snapshot() >= b.capacity*0.9 {
			delete(l.buckets, key)
		}
	}
}
