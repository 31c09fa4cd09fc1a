// Package redis implements the volatile store on a Redis server using
// go-redis. Connectivity failures are normalized to volatile.ErrUnavailable
// so callers can apply their fail-open policies without inspecting driver
// errors.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	DialTimeout time.Duration
	ReadTimeout time.Duration
	MaxRetries  int
}

// Store is the Redis-backed volatile store.
type Store struct {
	client *goredis.Client
}

var _ volatile.Store = (*Store)(nil)

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		MaxRetries:  cfg.MaxRetries,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{client: client}, nil
}

// translate maps driver errors onto the volatile package's sentinel errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.Nil) {
		return volatile.ErrNotFound
	}
	return fmt.Errorf("%w: %v", volatile.ErrUnavailable, err)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	return val, translate(err)
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return translate(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return translate(s.client.Del(ctx, keys...).Err())
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, translate(err)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return translate(s.client.Expire(ctx, key, ttl).Err())
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, translate(err)
	}
	// -2 means the key does not exist
	if d < -time.Second {
		return 0, volatile.ErrNotFound
	}
	return d, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, translate(err)
}

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, key, n).Result()
	return v, translate(err)
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return translate(s.client.HSet(ctx, key, args...).Err())
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	return val, translate(err)
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	return m, translate(err)
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return translate(s.client.HDel(ctx, key, fields...).Err())
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return translate(s.client.SAdd(ctx, key, args...).Err())
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	return ok, translate(err)
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	return members, translate(err)
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	return n, translate(err)
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return translate(s.client.ZAdd(ctx, key, &goredis.Z{Score: score, Member: member}).Err())
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return translate(s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err())
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return n, translate(err)
}

func (s *Store) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]volatile.ZMember, error) {
	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, translate(err)
	}
	members := make([]volatile.ZMember, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		members[i] = volatile.ZMember{Member: member, Score: z.Score}
	}
	return members, nil
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}

// pipeline adapts a go-redis pipeliner to volatile.Pipeline.
type pipeline struct {
	pipe    goredis.Pipeliner
	results []func()
}

func (s *Store) TxPipeline() volatile.Pipeline {
	return &pipeline{pipe: s.client.TxPipeline()}
}

func (p *pipeline) ZRemRangeByScore(key string, min, max float64) {
	p.pipe.ZRemRangeByScore(context.Background(), key, formatScore(min), formatScore(max))
}

func (p *pipeline) ZCard(key string) *volatile.IntResult {
	res := &volatile.IntResult{}
	cmd := p.pipe.ZCard(context.Background(), key)
	p.results = append(p.results, func() { res.Val = cmd.Val() })
	return res
}

func (p *pipeline) ZAdd(key string, score float64, member string) {
	p.pipe.ZAdd(context.Background(), key, &goredis.Z{Score: score, Member: member})
}

func (p *pipeline) SAdd(key string, members ...string) {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SAdd(context.Background(), key, args...)
}

func (p *pipeline) Incr(key string) *volatile.IntResult {
	res := &volatile.IntResult{}
	cmd := p.pipe.Incr(context.Background(), key)
	p.results = append(p.results, func() { res.Val = cmd.Val() })
	return res
}

func (p *pipeline) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(context.Background(), key, ttl)
}

func (p *pipeline) Exec(ctx context.Context) error {
	if _, err := p.pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return translate(err)
	}
	for _, fill := range p.results {
		fill()
	}
	return nil
}

// DeletePattern removes all keys matching a glob pattern using SCAN to avoid
// blocking the server on large keyspaces.
func (s *Store) DeletePattern(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return translate(err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return translate(err)
	}
	if len(keys) > 0 {
		return translate(s.client.Del(ctx, keys...).Err())
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return translate(s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}
