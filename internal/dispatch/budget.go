package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BudgetTracker accumulates per-provider daily spend. The authoritative
// counter lives in memory so budget decisions never depend on Redis; when a
// Redis client is supplied, spend is mirrored there for cross-replica
// visibility and dashboards.
type BudgetTracker struct {
	rdb *redis.Client

	mu    sync.Mutex
	day   string
	spend map[string]float64
}

func NewBudgetTracker(rdb *redis.Client) *BudgetTracker {
	return &BudgetTracker{
		rdb:   rdb,
		day:   utcDay(time.Now()),
		spend: make(map[string]float64),
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func dailySpendKey(provider, day string) string {
	return fmt.Sprintf("warden:budget:daily:%s:%s", provider, day)
}

// rollover resets counters when the UTC day changes. Must be called with mu
// held.
func (b *BudgetTracker) rollover(now time.Time) {
	if day := utcDay(now); day != b.day {
		b.day = day
		b.spend = make(map[string]float64)
	}
}

// Spent reports the provider's accumulated spend for the current UTC day.
func (b *BudgetTracker) Spent(provider string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover(time.Now())
	return b.spend[provider]
}

// WithinBudget reports whether the provider's daily spend is below its limit.
// A zero or negative limit means unlimited.
func (b *BudgetTracker) WithinBudget(provider string, limitUSD float64) bool {
	if limitUSD <= 0 {
		return true
	}
	return b.Spent(provider) < limitUSD
}

// RecordSpend adds the cost of a completed request to the provider's daily
// counter. Counters only grow within a day; the day rollover is the only
// reset.
func (b *BudgetTracker) RecordSpend(ctx context.Context, provider string, costUSD float64) {
	if costUSD <= 0 {
		return
	}

	b.mu.Lock()
	now := time.Now()
	b.rollover(now)
	b.spend[provider] += costUSD
	day := b.day
	b.mu.Unlock()

	if b.rdb == nil {
		return
	}

	// Mirror to Redis in cents. Best effort: a mirror failure never affects
	// the in-memory decision counter.
	key := dailySpendKey(provider, day)
	pipe := b.rdb.Pipeline()
	pipe.IncrBy(ctx, key, int64(costUSD*100))
	endOfDay := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, key, endOfDay.Sub(now.UTC())+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("budget mirror write failed", "provider", provider, "error", err)
	}
}
