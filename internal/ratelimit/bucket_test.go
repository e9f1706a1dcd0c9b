package ratelimit

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

func limiterConfig(enabled bool) func() config.RateLimitConfig {
	return func() config.RateLimitConfig {
		return config.RateLimitConfig{
			Enabled: enabled,
			Tiers: map[string]config.TierLimitConfig{
				"standard": {Capacity: 30, RefillPerSecond: 0.5},
				"admin":    {Capacity: 150, RefillPerSecond: 2.5},
			},
		}
	}
}

func TestTryAcquire_CapacityExhaustion(t *testing.T) {
	l := NewLimiter(limiterConfig(true))

	// Capacity 30, refill 30 per 60s: the first 30 requests in a burst are
	// admitted, the 31st is not.
	for i := 0; i < 30; i++ {
		res := l.TryAcquire("u1", types.TierStandard)
		if !res.Admitted {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}

	res := l.TryAcquire("u1", types.TierStandard)
	if res.Admitted {
		t.Fatal("31st request within the window should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("denial must carry a positive retry hint, got %s", res.RetryAfter)
	}
	// Deficit just under 1 token at 0.5 tokens/s means roughly 2 seconds.
	if res.RetryAfter > 3*time.Second {
		t.Errorf("retry hint implausibly large: %s", res.RetryAfter)
	}
}

func TestTryAcquire_AdminTierLargerBurst(t *testing.T) {
	l := NewLimiter(limiterConfig(true))

	for i := 0; i < 100; i++ {
		if res := l.TryAcquire("admin-user", types.TierAdmin); !res.Admitted {
			t.Fatalf("admin request %d should be admitted", i+1)
		}
	}
}

func TestTryAcquire_UnknownTierFallsBackToStandard(t *testing.T) {
	l := NewLimiter(limiterConfig(true))

	for i := 0; i < 30; i++ {
		l.TryAcquire("u2", types.Tier("mystery"))
	}
	if res := l.TryAcquire("u2", types.Tier("mystery")); res.Admitted {
		t.Error("unknown tier should get standard capacity, not unlimited")
	}
}

func TestTryAcquire_Disabled(t *testing.T) {
	l := NewLimiter(limiterConfig(false))
	for i := 0; i < 1000; i++ {
		if res := l.TryAcquire("u3", types.TierStandard); !res.Admitted {
			t.Fatal("disabled limiter must admit everything")
		}
	}
}

func TestTryAcquire_IndependentUsers(t *testing.T) {
	l := NewLimiter(limiterConfig(true))

	for i := 0; i < 30; i++ {
		l.TryAcquire("heavy", types.TierStandard)
	}
	if res := l.TryAcquire("heavy", types.TierStandard); res.Admitted {
		t.Fatal("heavy user should be exhausted")
	}
	if res := l.TryAcquire("light", types.TierStandard); !res.Admitted {
		t.Error("an exhausted user must not affect another user")
	}
}

// TestTokens_BoundedInvariant hammers one bucket from many goroutines with
// randomized pauses and checks 0 <= tokens <= capacity at every observation.
func TestTokens_BoundedInvariant(t *testing.T) {
	cfg := func() config.RateLimitConfig {
		return config.RateLimitConfig{
			Enabled: true,
			Tiers: map[string]config.TierLimitConfig{
				"standard": {Capacity: 5, RefillPerSecond: 100},
			},
		}
	}
	l := NewLimiter(cfg)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
				}
				l.TryAcquire("shared", types.TierStandard)
				if rng.Intn(4) == 0 {
					time.Sleep(time.Duration(rng.Intn(500)) * time.Microsecond)
				}
			}
		}(int64(g))
	}

	deadline := time.After(200 * time.Millisecond)
observe:
	for {
		select {
		case <-deadline:
			break observe
		default:
		}
		if tokens, ok := l.Tokens("shared"); ok {
			if tokens < 0 || tokens > 5 {
				close(stop)
				wg.Wait()
				t.Fatalf("token invariant violated: %.3f not in [0, 5]", tokens)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestTryAcquire_RefillRestoresAdmission(t *testing.T) {
	cfg := func() config.RateLimitConfig {
		return config.RateLimitConfig{
			Enabled: true,
			Tiers: map[string]config.TierLimitConfig{
				"standard": {Capacity: 1, RefillPerSecond: 50},
			},
		}
	}
	l := NewLimiter(cfg)

	if res := l.TryAcquire("u4", types.TierStandard); !res.Admitted {
		t.Fatal("first request should be admitted")
	}
	if res := l.TryAcquire("u4", types.TierStandard); res.Admitted {
		t.Fatal("second immediate request should be denied")
	}

	time.Sleep(40 * time.Millisecond) // 2 tokens at 50/s; capacity caps at 1

	if res := l.TryAcquire("u4", types.TierStandard); !res.Admitted {
		t.Error("request after refill should be admitted")
	}
}
