// Package volatile defines the ephemeral coordination store used for session
// caches, chunk bitmaps, rate-limit windows, metadata caches, and the token
// blacklist.
//
// The canonical implementation is Redis (subpackage redis); the memory
// subpackage provides an in-process implementation for tests.
//
// Availability contract: implementations return ErrUnavailable when the store
// cannot be reached. Callers decide what that means: rate limiting and the
// abuse gate fail open, cache reads degrade to a miss, and session operations
// surface SERVICE_UNAVAILABLE.
package volatile

import (
	"context"
	"errors"
	"time"
)

// Key prefixes namespace the shared keyspace.
const (
	PrefixSession   = "upload_session:" // denormalized live session JSON
	PrefixChunks    = "upload_chunks:"  // set of completed chunk indices
	PrefixFile      = "file:"           // metadata cache, TTL 300s
	PrefixRateLimit = "ratelimit:"      // sliding-window sorted sets
	PrefixAbuse     = "abuse:"          // per-IP abuse score
	PrefixBlocked   = "blocked:"        // per-IP block flag
	PrefixBlacklist = "blacklist:"      // revoked token JTIs
)

var (
	// ErrNotFound indicates the key (or hash field) is absent or expired.
	ErrNotFound = errors.New("volatile: key not found")

	// ErrUnavailable indicates the store cannot be reached.
	ErrUnavailable = errors.New("volatile: store unavailable")
)

// ZMember is one sorted-set member with its score.
type ZMember struct {
	Member string
	Score  float64
}

// IntResult holds the outcome of a queued pipeline command after Exec.
type IntResult struct {
	Val int64
}

// Pipeline batches commands into a single round trip. Queued result holders
// are valid only after Exec returns nil.
type Pipeline interface {
	ZRemRangeByScore(key string, min, max float64)
	ZCard(key string) *IntResult
	ZAdd(key string, score float64, member string)
	SAdd(key string, members ...string)
	Incr(key string) *IntResult
	Expire(key string, ttl time.Duration)

	Exec(ctx context.Context) error
}

// Store is the ephemeral key-value store. All operations are safe for
// concurrent use.
type Store interface {
	// Plain keys. Set with zero ttl stores without expiry.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Integer counters.
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// Hashes.
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Sorted sets (sliding windows).
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// TxPipeline starts a batched multi-op.
	TxPipeline() Pipeline

	// DeletePattern removes every key matching a glob pattern. Used by cache
	// invalidation and tests; not a hot-path operation.
	DeletePattern(ctx context.Context, pattern string) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	Close() error
}
