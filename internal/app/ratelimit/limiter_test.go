package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/windrunne/6ix-app/internal/app/clock"
)

func TestAllowDeniesAtLimit(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk)
	ctx := context.Background()

	quota := MustQuota("intro_request", 3, time.Hour)
	identity := UserIdentity("alice")

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, identity, quota)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if want := 3 - i - 1; decision.Remaining != want {
			t.Fatalf("call %d: remaining = %d, want %d", i, decision.Remaining, want)
		}
	}

	decision, err := limiter.Allow(ctx, identity, quota)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("fourth call should be denied")
	}
	if decision.Scope != "intro_request" {
		t.Fatalf("denied scope = %q", decision.Scope)
	}
	if decision.RetryAfter != time.Hour {
		t.Fatalf("retry after = %s, want 1h", decision.RetryAfter)
	}
}

func TestAllowWindowSlides(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk)
	ctx := context.Background()

	quota := MustQuota("intro_request", 2, time.Hour)
	identity := UserIdentity("alice")

	mustAllow(t, limiter, identity, quota)
	clk.Advance(20 * time.Minute)
	mustAllow(t, limiter, identity, quota)

	decision, _ := limiter.Allow(ctx, identity, quota)
	if decision.Allowed {
		t.Fatal("third call inside the window should be denied")
	}
	if want := 40 * time.Minute; decision.RetryAfter != want {
		t.Fatalf("retry after = %s, want %s", decision.RetryAfter, want)
	}

	// The first hit leaves the window; exactly one slot opens.
	clk.Advance(40*time.Minute + time.Second)
	mustAllow(t, limiter, identity, quota)
	decision, _ = limiter.Allow(ctx, identity, quota)
	if decision.Allowed {
		t.Fatal("window should be full again")
	}
}

func TestAllowDeniedCallRecordsNothing(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk)
	ctx := context.Background()

	hourly := MustQuota("intro_request", 2, time.Hour)
	daily := MustQuota("intro_request", 3, 24*time.Hour)
	identity := UserIdentity("alice")

	mustAllow(t, limiter, identity, hourly, daily)
	mustAllow(t, limiter, identity, hourly, daily)

	// Denied by the hourly cap; the daily series must not grow.
	decision, _ := limiter.Allow(ctx, identity, hourly, daily)
	if decision.Allowed {
		t.Fatal("third call should be denied by hourly quota")
	}
	if decision.Scope != "intro_request" {
		t.Fatalf("denied scope = %q", decision.Scope)
	}

	clk.Advance(time.Hour + time.Second)
	mustAllow(t, limiter, identity, hourly, daily)

	decision, _ = limiter.Allow(ctx, identity, hourly, daily)
	if decision.Allowed {
		t.Fatal("fourth recorded call should be denied by daily quota")
	}
}

func TestAllowIsolatesIdentitiesAndScopes(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk)
	ctx := context.Background()

	quota := MustQuota("intro_request", 1, time.Hour)

	mustAllow(t, limiter, UserIdentity("alice"), quota)

	if decision, _ := limiter.Allow(ctx, UserIdentity("alice"), quota); decision.Allowed {
		t.Fatal("alice should be at her limit")
	}
	mustAllow(t, limiter, UserIdentity("bob"), quota)
	mustAllow(t, limiter, IPIdentity("10.0.0.1"), quota)
	mustAllow(t, limiter, UserIdentity("alice"), MustQuota("ghost_ask", 1, time.Hour))
}

func TestEvictStale(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk)

	quota := MustQuota("intro_request", 3, time.Hour)
	mustAllow(t, limiter, UserIdentity("alice"), quota)
	mustAllow(t, limiter, UserIdentity("bob"), quota)

	if evicted := limiter.EvictStale(clk.Now()); evicted != 0 {
		t.Fatalf("evicted %d live entries", evicted)
	}

	clk.Advance(3 * time.Hour)
	mustAllow(t, limiter, UserIdentity("bob"), quota)

	if evicted := limiter.EvictStale(clk.Now()); evicted != 1 {
		t.Fatalf("evicted = %d, want 1 (alice idle, bob active)", evicted)
	}

	// An evicted identity starts over.
	mustAllow(t, limiter, UserIdentity("alice"), quota)
}

func TestAllowConcurrentCallersStayWithinLimit(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk)

	quota := MustQuota("intro_request", 3, time.Hour)
	identity := UserIdentity("alice")

	const callers = 16
	allowed := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision, err := limiter.Allow(context.Background(), identity, quota)
			if err != nil {
				t.Errorf("allow %d: %v", i, err)
				return
			}
			allowed[i] = decision.Allowed
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, ok := range allowed {
		if ok {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted %d of %d concurrent callers, want exactly 3", admitted, callers)
	}
}

func TestAllowConcurrentWithEviction(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk)

	quota := MustQuota("intro_request", 100, time.Hour)

	// Allow and EvictStale race on the same window map; every call must
	// still land on a live window.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				decision, err := limiter.Allow(context.Background(), UserIdentity("alice"), quota)
				if err != nil {
					t.Errorf("allow: %v", err)
					return
				}
				if !decision.Allowed {
					t.Errorf("call denied (scope %s)", decision.Scope)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			limiter.EvictStale(clk.Now().Add(2 * time.Hour))
		}
	}()
	wg.Wait()
}

func TestNewQuotaValidation(t *testing.T) {
	if _, err := NewQuota("", 3, time.Hour); err == nil {
		t.Fatal("empty scope should fail")
	}
	if _, err := NewQuota("op", 0, time.Hour); err == nil {
		t.Fatal("zero limit should fail")
	}
	if _, err := NewQuota("op", 3, 0); err == nil {
		t.Fatal("zero window should fail")
	}
	if _, err := NewQuota("op", 3, time.Hour); err != nil {
		t.Fatalf("valid quota rejected: %v", err)
	}
}

func mustAllow(t *testing.T, limiter Limiter, identity string, quotas ...Quota) {
	t.Helper()
	decision, err := limiter.Allow(context.Background(), identity, quotas...)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("call for %s denied (scope %s, retry %s)", identity, decision.Scope, decision.RetryAfter)
	}
}
