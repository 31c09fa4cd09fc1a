package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/event"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// AbuseGate scores policy violations per client IP and blocks addresses
// whose score reaches the threshold within the window.
type AbuseGate struct {
	store     volatile.Store
	threshold int64
	window    time.Duration
	sink      event.Sink
}

// NewAbuseGate creates the gate.
func NewAbuseGate(store volatile.Store, threshold int64, window time.Duration, sink event.Sink) *AbuseGate {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &AbuseGate{store: store, threshold: threshold, window: window, sink: sink}
}

// Record increments the IP's abuse score for one violation. Reaching the
// threshold arms a block that lasts until the counter's TTL lapses.
func (g *AbuseGate) Record(ctx context.Context, ip, violation string) {
	key := volatile.PrefixAbuse + ip
	score, err := g.store.Incr(ctx, key)
	if err != nil {
		logger.Warn("abuse score increment failed", "ip", ip, logger.KeyError, err)
		return
	}
	if score == 1 {
		_ = g.store.Expire(ctx, key, g.window)
	}

	g.sink.Emit(event.AbuseScored, "ip", ip, "violation", violation, "score", score)

	if score >= g.threshold {
		if err := g.store.Set(ctx, volatile.PrefixBlocked+ip, "1", g.window); err != nil {
			logger.Warn("failed to arm ip block", "ip", ip, logger.KeyError, err)
			return
		}
		logger.Warn("ip blocked for abuse", "ip", ip, "score", score)
		g.sink.Emit(event.IPBlocked, "ip", ip, "score", score)
	}
}

// Blocked reports whether the IP is currently blocked. Fails open when the
// volatile store is unreachable.
func (g *AbuseGate) Blocked(ctx context.Context, ip string) bool {
	exists, err := g.store.Exists(ctx, volatile.PrefixBlocked+ip)
	if err != nil && errors.Is(err, volatile.ErrUnavailable) {
		return false
	}
	return exists
}

// BlockedError is the client-visible denial for a blocked IP.
func BlockedError() *errs.Error {
	return errs.New(errs.CodeIPBlocked, "too many policy violations from this address")
}
