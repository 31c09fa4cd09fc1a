package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/store/volatile/memory"
)

func newLimiter(store *memory.Store, limit int, window time.Duration) *Limiter {
	return New(store, config.RateLimitConfig{
		Download: map[string]config.RateLimitRule{
			"free":      {Limit: limit, Window: window},
			"anonymous": {Limit: 2, Window: window},
		},
	}, nil)
}

func TestLimiterBudget(t *testing.T) {
	store := memory.New()
	limiter := newLimiter(store, 3, time.Minute)
	ctx := context.Background()

	id := UserIdentifier("alice")
	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, TypeDownload, id, "free")
		if err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i-1 {
			t.Errorf("request %d: remaining = %d, want %d", i, d.Remaining, 3-i-1)
		}
	}

	d, err := limiter.Check(ctx, TypeDownload, id, "free")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth request should be denied")
	}
	if d.RetryAfter < time.Second || d.RetryAfter > time.Minute {
		t.Errorf("retryAfter %v outside [1s, window]", d.RetryAfter)
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	store := memory.New()
	limiter := newLimiter(store, 2, time.Minute)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	id := IPIdentifier("10.0.0.1")
	for i := 0; i < 2; i++ {
		if d, _ := limiter.Check(ctx, TypeDownload, id, "free"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if d, _ := limiter.Check(ctx, TypeDownload, id, "free"); d.Allowed {
		t.Fatal("window should be full")
	}

	// Past the window, the old entries age out
	limiter.now = func() time.Time { return base.Add(61 * time.Second) }
	if d, _ := limiter.Check(ctx, TypeDownload, id, "free"); !d.Allowed {
		t.Fatal("request after the window should be allowed")
	}
}

func TestLimiterIsolatesIdentifiers(t *testing.T) {
	store := memory.New()
	limiter := newLimiter(store, 1, time.Minute)
	ctx := context.Background()

	if d, _ := limiter.Check(ctx, TypeDownload, UserIdentifier("alice"), "free"); !d.Allowed {
		t.Fatal("alice's first request should be allowed")
	}
	if d, _ := limiter.Check(ctx, TypeDownload, UserIdentifier("alice"), "free"); d.Allowed {
		t.Fatal("alice's budget is spent")
	}
	if d, _ := limiter.Check(ctx, TypeDownload, UserIdentifier("bob"), "free"); !d.Allowed {
		t.Fatal("bob has his own window")
	}
}

func TestLimiterFallsBackToAnonymousTier(t *testing.T) {
	store := memory.New()
	limiter := newLimiter(store, 3, time.Minute)
	ctx := context.Background()

	id := IPIdentifier("10.0.0.9")
	// The "premium" tier is absent from the table, so the anonymous rule
	// (limit 2) applies.
	for i := 0; i < 2; i++ {
		if d, _ := limiter.Check(ctx, TypeDownload, id, "premium"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if d, _ := limiter.Check(ctx, TypeDownload, id, "premium"); d.Allowed {
		t.Fatal("anonymous fallback budget should be spent")
	}
}

func TestLimiterUnconfiguredTypeAllows(t *testing.T) {
	store := memory.New()
	limiter := newLimiter(store, 1, time.Minute)

	d, err := limiter.Check(context.Background(), TypeAuth, UserIdentifier("alice"), "free")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !d.Allowed {
		t.Fatal("a type with no rules must not limit")
	}
}

func TestLimiterFailsOpen(t *testing.T) {
	store := memory.New()
	limiter := newLimiter(store, 1, time.Minute)
	ctx := context.Background()

	id := UserIdentifier("alice")
	if d, _ := limiter.Check(ctx, TypeDownload, id, "free"); !d.Allowed {
		t.Fatal("first request should be allowed")
	}

	store.SetUnavailable(true)
	d, err := limiter.Check(ctx, TypeDownload, id, "free")
	if err != nil {
		t.Fatalf("degraded check should not error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("limiter must fail open when the store is down")
	}
}

func TestAbuseGateBlocksAtThreshold(t *testing.T) {
	store := memory.New()
	gate := NewAbuseGate(store, 3, time.Hour, nil)
	ctx := context.Background()

	ip := "203.0.113.7"
	gate.Record(ctx, ip, "chunk_validation")
	gate.Record(ctx, ip, "chunk_validation")
	if gate.Blocked(ctx, ip) {
		t.Fatal("ip should not be blocked below the threshold")
	}

	gate.Record(ctx, ip, "path_traversal")
	if !gate.Blocked(ctx, ip) {
		t.Fatal("ip should be blocked at the threshold")
	}

	if gate.Blocked(ctx, "203.0.113.8") {
		t.Fatal("other addresses are unaffected")
	}
}

func TestAbuseGateFailsOpen(t *testing.T) {
	store := memory.New()
	gate := NewAbuseGate(store, 1, time.Hour, nil)
	ctx := context.Background()

	ip := "203.0.113.7"
	gate.Record(ctx, ip, "chunk_validation")
	if !gate.Blocked(ctx, ip) {
		t.Fatal("ip should be blocked")
	}

	store.SetUnavailable(true)
	if gate.Blocked(ctx, ip) {
		t.Fatal("gate must fail open when the store is down")
	}
}

func TestRateLimitErrorShape(t *testing.T) {
	err := RateLimitError(&Decision{Limit: 10, RetryAfter: 30 * time.Second})
	if err.StatusCode != 429 {
		t.Errorf("expected status 429, got %d", err.StatusCode)
	}
	if err.Context["retryAfter"] != int64(30) {
		t.Errorf("expected retryAfter 30, got %v", err.Context["retryAfter"])
	}
}
