// Package memory implements the volatile store in process memory. It exists
// for tests and single-binary development setups; production deployments use
// the redis implementation.
package memory

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tidestore/tidestore/pkg/store/volatile"
)

type entry struct {
	value     string
	hash      map[string]string
	set       map[string]struct{}
	zset      map[string]float64
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is the in-memory volatile store.
type Store struct {
	mu          sync.Mutex
	entries     map[string]*entry
	unavailable bool

	// Now is the clock; tests may override it.
	Now func() time.Time
}

var _ volatile.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		Now:     time.Now,
	}
}

// SetUnavailable makes every subsequent operation fail with ErrUnavailable.
// Tests use this to exercise fail-open and cache-miss degradation.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	s.unavailable = down
	s.mu.Unlock()
}

func (s *Store) check() error {
	if s.unavailable {
		return volatile.ErrUnavailable
	}
	return nil
}

// live returns the entry for key, dropping it if expired.
func (s *Store) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.Now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *Store) upsert(key string) *entry {
	if e := s.live(key); e != nil {
		return e
	}
	e := &entry{}
	s.entries[key] = e
	return e
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", err
	}
	e := s.live(key)
	if e == nil {
		return "", volatile.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	return s.live(key) != nil, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if e := s.live(key); e != nil {
		e.expiresAt = s.Now().Add(ttl)
	}
	return nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	e := s.live(key)
	if e == nil {
		return 0, volatile.ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(s.Now()), nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	e := s.upsert(key)
	cur, _ := strconv.ParseInt(e.value, 10, 64)
	cur += n
	e.value = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	e := s.upsert(key)
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", err
	}
	e := s.live(key)
	if e == nil {
		return "", volatile.ErrNotFound
	}
	v, ok := e.hash[field]
	if !ok {
		return "", volatile.ErrNotFound
	}
	return v, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if e := s.live(key); e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if e := s.live(key); e != nil {
		for _, f := range fields {
			delete(e.hash, f)
		}
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	e := s.upsert(key)
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	return nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	e := s.live(key)
	if e == nil {
		return false, nil
	}
	_, ok := e.set[member]
	return ok, nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil {
		return nil, nil
	}
	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	e := s.upsert(key)
	if e.zset == nil {
		e.zset = make(map[string]float64)
	}
	e.zset[member] = score
	return nil
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if e := s.live(key); e != nil {
		for m, score := range e.zset {
			if score >= min && score <= max {
				delete(e.zset, m)
			}
		}
	}
	return nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.zset)), nil
}

func (s *Store) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]volatile.ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil {
		return nil, nil
	}
	members := make([]volatile.ZMember, 0, len(e.zset))
	for m, score := range e.zset {
		members = append(members, volatile.ZMember{Member: m, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})

	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return members[start : stop+1], nil
}

// pipeline executes queued ops sequentially under a single lock acquisition.
type pipeline struct {
	store *Store
	ops   []func(ctx context.Context) error
}

func (s *Store) TxPipeline() volatile.Pipeline {
	return &pipeline{store: s}
}

func (p *pipeline) ZRemRangeByScore(key string, min, max float64) {
	p.ops = append(p.ops, func(ctx context.Context) error {
		return p.store.ZRemRangeByScore(ctx, key, min, max)
	})
}

func (p *pipeline) ZCard(key string) *volatile.IntResult {
	res := &volatile.IntResult{}
	p.ops = append(p.ops, func(ctx context.Context) error {
		n, err := p.store.ZCard(ctx, key)
		res.Val = n
		return err
	})
	return res
}

func (p *pipeline) ZAdd(key string, score float64, member string) {
	p.ops = append(p.ops, func(ctx context.Context) error {
		return p.store.ZAdd(ctx, key, score, member)
	})
}

func (p *pipeline) SAdd(key string, members ...string) {
	p.ops = append(p.ops, func(ctx context.Context) error {
		return p.store.SAdd(ctx, key, members...)
	})
}

func (p *pipeline) Incr(key string) *volatile.IntResult {
	res := &volatile.IntResult{}
	p.ops = append(p.ops, func(ctx context.Context) error {
		n, err := p.store.Incr(ctx, key)
		res.Val = n
		return err
	})
	return res
}

func (p *pipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(ctx context.Context) error {
		return p.store.Expire(ctx, key, ttl)
	})
}

func (p *pipeline) Exec(ctx context.Context) error {
	for _, op := range p.ops {
		if err := op(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeletePattern(ctx context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for k := range s.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

func (s *Store) Close() error {
	return nil
}
