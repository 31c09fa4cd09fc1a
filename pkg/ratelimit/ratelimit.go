// Package ratelimit implements a sliding-window request limiter and an
// abuse gate, both backed by the volatile store.
//
// Windows are sorted sets keyed ratelimit:<type>:<identifier> with
// millisecond scores. The limiter fails open: when the volatile store is
// unreachable, requests are allowed.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/event"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// Type selects which limit table applies to a request.
type Type string

const (
	TypeUpload   Type = "upload"
	TypeDownload Type = "download"
	TypeAuth     Type = "auth"
)

// TierAnonymous keys the limit table for unauthenticated callers.
const TierAnonymous = "anonymous"

// UserIdentifier keys a window by authenticated user.
func UserIdentifier(userID string) string {
	return "user:" + userID
}

// IPIdentifier keys a window by client address.
func IPIdentifier(addr string) string {
	return "ip:" + addr
}

// Decision is the limiter's verdict for one request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Limiter enforces sliding-window budgets.
type Limiter struct {
	store volatile.Store
	cfg   config.RateLimitConfig
	sink  event.Sink

	now func() time.Time
}

// New creates a limiter.
func New(store volatile.Store, cfg config.RateLimitConfig, sink event.Sink) *Limiter {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Limiter{store: store, cfg: cfg, sink: sink, now: time.Now}
}

// rule looks up the budget for a request type and role tier, falling back to
// the anonymous tier.
func (l *Limiter) rule(t Type, tier string) (config.RateLimitRule, bool) {
	var table map[string]config.RateLimitRule
	switch t {
	case TypeUpload:
		table = l.cfg.Upload
	case TypeDownload:
		table = l.cfg.Download
	case TypeAuth:
		table = l.cfg.Auth
	default:
		return config.RateLimitRule{}, false
	}
	if r, ok := table[tier]; ok {
		return r, true
	}
	r, ok := table[TierAnonymous]
	return r, ok
}

// Check consumes one slot from the window for (t, identifier) under the
// tier's budget. When the window is full the request is denied and
// RetryAfter reports when the oldest entry leaves the window.
func (l *Limiter) Check(ctx context.Context, t Type, identifier, tier string) (*Decision, error) {
	rule, ok := l.rule(t, tier)
	if !ok || rule.Limit <= 0 {
		return &Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}, nil
	}

	key := fmt.Sprintf("%s%s:%s", volatile.PrefixRateLimit, t, identifier)
	nowMillis := l.now().UnixMilli()
	windowStart := nowMillis - rule.Window.Milliseconds()

	pipe := l.store.TxPipeline()
	pipe.ZRemRangeByScore(key, 0, float64(windowStart))
	card := pipe.ZCard(key)
	if err := pipe.Exec(ctx); err != nil {
		// Fail open
		logger.Warn("rate limit check degraded, allowing request",
			"type", string(t), "identifier", identifier, logger.KeyError, err)
		return &Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}, nil
	}

	count := card.Val
	if count >= int64(rule.Limit) {
		retryAfter := l.retryAfter(ctx, key, rule.Window)
		l.sink.Emit(event.RateLimited,
			"type", string(t), "identifier", identifier, "limit", rule.Limit)
		return &Decision{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			RetryAfter: retryAfter,
		}, nil
	}

	member := fmt.Sprintf("%d:%06d", nowMillis, rand.Intn(1000000))
	pipe = l.store.TxPipeline()
	pipe.ZAdd(key, float64(nowMillis), member)
	pipe.Expire(key, rule.Window)
	if err := pipe.Exec(ctx); err != nil {
		logger.Warn("rate limit record degraded, allowing request",
			"type", string(t), "identifier", identifier, logger.KeyError, err)
		return &Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - int(count) - 1}, nil
	}

	return &Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - int(count) - 1,
	}, nil
}

// retryAfter derives the wait from the oldest window entry. Falls back to the
// full window when the set cannot be read.
func (l *Limiter) retryAfter(ctx context.Context, key string, window time.Duration) time.Duration {
	members, err := l.store.ZRangeWithScores(ctx, key, 0, 0)
	if err != nil || len(members) == 0 {
		return window
	}
	expiry := int64(members[0].Score) + window.Milliseconds()
	wait := time.Duration(expiry-l.now().UnixMilli()) * time.Millisecond
	if wait < time.Second {
		wait = time.Second
	}
	if wait > window {
		wait = window
	}
	return wait
}

// RateLimitError builds the client-visible denial for a decision.
func RateLimitError(d *Decision) *errs.Error {
	return errs.New(errs.CodeRateLimit, "rate limit exceeded").
		With("retryAfter", int64(d.RetryAfter.Seconds())).
		With("limit", d.Limit)
}
