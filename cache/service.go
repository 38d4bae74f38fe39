package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Service orchestrates entries against a Repository. It is stateless
// between calls apart from process-local hit/miss accounting and carries no
// internal locks; concurrency is bounded only by the repository's own
// guarantees. A miss is never an error: Get returns an empty string.
type Service struct {
	repo Repository
	opts Options

	sf     singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// Item is one key/value pair for batch writes and warm-up. A nil TTL means
// the service default.
type Item struct {
	Key      string
	Value    string
	TTL      *TTL
	Tags     []string
	Metadata map[string]string
}

// Loader computes a value on a cache miss for GetOrSet.
type Loader func(ctx context.Context) (string, error)

// NewService wires a Service to repo.
func NewService(repo Repository, opts ...Option) *Service {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Service{repo: repo, opts: cfg}
}

// Get returns the value cached under key, or an empty string on a miss.
// An expired entry counts as a miss and is deleted from the repository as a
// side effect (lazy eviction); that corrective delete is best-effort. A hit
// increments the entry's hit counter and persists it.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	k, err := s.key(key)
	if err != nil {
		return "", err
	}
	entry, err := s.repo.FindByKey(ctx, k)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.misses.Add(1)
			return "", nil
		}
		return "", backendErr("get", err)
	}
	entry.withClock(s.opts.Clock)
	if entry.IsExpiredAt(s.opts.Clock()) {
		s.misses.Add(1)
		// Read-path correctness does not depend on this delete landing.
		_ = s.repo.Delete(ctx, k)
		s.publishExpiry(entry)
		return "", nil
	}
	entry.IncrementHitCount()
	if err := s.repo.Save(ctx, entry); err != nil {
		return "", backendErr("get", err)
	}
	s.hits.Add(1)
	return entry.Value(), nil
}

// Set stores value under key, replacing any existing entry (last writer
// wins). Writes default to the service TTL unless WithTTL is given.
func (s *Service) Set(ctx context.Context, key, value string, opts ...WriteOption) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	entry, err := s.buildEntry(k, value, opts)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, entry); err != nil {
		return backendErr("set", err)
	}
	s.publish(entry)
	return nil
}

// GetOrSet implements the cache-aside pattern: a hit returns the cached
// value; a miss invokes loader, stores the result, and returns it. By
// default concurrent callers missing on the same key each run their own
// loader; WithStampedeProtection collapses them into one shared run.
func (s *Service) GetOrSet(ctx context.Context, key string, loader Loader, opts ...WriteOption) (string, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if value != "" {
		return value, nil
	}
	if !s.opts.StampedeProtection {
		return s.loadAndSet(ctx, key, loader, opts)
	}
	v, err, _ := s.sf.Do(key, func() (any, error) {
		// Another flight may have populated the key while we queued. The
		// outer Get already counted this lookup, so re-check without
		// touching the accounting.
		cached, err := s.peek(ctx, key)
		if err != nil {
			return "", err
		}
		if cached != "" {
			return cached, nil
		}
		return s.loadAndSet(ctx, key, loader, opts)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// peek reads key straight from the repository: no hit/miss accounting, no
// hit-counter persistence, no corrective delete. Expired and absent both
// read as empty.
func (s *Service) peek(ctx context.Context, key string) (string, error) {
	k, err := s.key(key)
	if err != nil {
		return "", err
	}
	entry, err := s.repo.FindByKey(ctx, k)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", backendErr("get", err)
	}
	if entry.IsExpiredAt(s.opts.Clock()) {
		return "", nil
	}
	return entry.Value(), nil
}

func (s *Service) loadAndSet(ctx context.Context, key string, loader Loader, opts []WriteOption) (string, error) {
	value, err := loader(ctx)
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, key, value, opts...); err != nil {
		return "", err
	}
	return value, nil
}

// Delete removes key. Deleting an absent key succeeds.
func (s *Service) Delete(ctx context.Context, key string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	if s.opts.EventSink != nil {
		if entry, err := s.repo.FindByKey(ctx, k); err == nil {
			entry.withClock(s.opts.Clock).MarkDeleted()
			s.publish(entry)
		}
	}
	if err := s.repo.Delete(ctx, k); err != nil {
		return backendErr("delete", err)
	}
	return nil
}

// DeleteByTag removes every entry tagged with tag and returns the count.
func (s *Service) DeleteByTag(ctx context.Context, tag string) (int64, error) {
	t, err := NewTag(tag)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteByTag(ctx, t)
	if err != nil {
		return 0, backendErr("delete by tag", err)
	}
	return n, nil
}

// DeleteByTags removes every entry matching any of tags (union semantics).
func (s *Service) DeleteByTags(ctx context.Context, tags ...string) (int64, error) {
	if len(tags) == 0 {
		return 0, ErrNotApplicable
	}
	ts, err := NewTags(tags...)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteByTags(ctx, ts)
	if err != nil {
		return 0, backendErr("delete by tags", err)
	}
	return n, nil
}

// DeleteByPattern removes every entry whose key matches the glob pattern.
func (s *Service) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, ErrNotApplicable
	}
	n, err := s.repo.DeleteByPattern(ctx, s.pattern(pattern))
	if err != nil {
		return 0, backendErr("delete by pattern", err)
	}
	return n, nil
}

// Invalidate removes entries matching any of tags or the pattern. Supplying
// neither returns ErrNotApplicable.
func (s *Service) Invalidate(ctx context.Context, tags []string, pattern string) (int64, error) {
	if len(tags) == 0 && pattern == "" {
		return 0, ErrNotApplicable
	}
	var total int64
	if len(tags) > 0 {
		n, err := s.DeleteByTags(ctx, tags...)
		if err != nil {
			return total, err
		}
		total += n
	}
	if pattern != "" {
		n, err := s.DeleteByPattern(ctx, pattern)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Clear removes every entry and returns how many were removed.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	n, err := s.repo.Clear(ctx)
	if err != nil {
		return 0, backendErr("clear", err)
	}
	return n, nil
}

// Exists reports whether key holds a live (present, unexpired) entry.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	k, err := s.key(key)
	if err != nil {
		return false, err
	}
	entry, err := s.repo.FindByKey(ctx, k)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, backendErr("exists", err)
	}
	return !entry.IsExpiredAt(s.opts.Clock()), nil
}

// Statistics merges repository aggregates with the service's process-local
// accounting: Hits reflects persisted per-entry counts (surviving restarts),
// while Misses and HitRate come from reads this process served.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return Statistics{}, backendErr("statistics", err)
	}
	hits := s.hits.Load()
	stats.Misses = s.misses.Load()
	if total := hits + stats.Misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats, nil
}

// InvalidateExpired removes expired entries one by one and returns the
// count. Housekeeping only: read-path correctness never depends on it.
func (s *Service) InvalidateExpired(ctx context.Context) (int64, error) {
	expired, err := s.repo.FindExpired(ctx)
	if err != nil {
		return 0, backendErr("invalidate expired", err)
	}
	var removed int64
	for _, entry := range expired {
		if err := s.repo.Delete(ctx, entry.Key()); err != nil {
			return removed, backendErr("invalidate expired", err)
		}
		removed++
		s.publishExpiry(entry.withClock(s.opts.Clock))
	}
	return removed, nil
}

// WarmUp bulk-populates the cache, defaulting missing TTLs.
func (s *Service) WarmUp(ctx context.Context, items []Item) error {
	entries, err := s.buildItems(items)
	if err != nil {
		return err
	}
	if err := s.repo.SetMany(ctx, entries); err != nil {
		return backendErr("warm up", err)
	}
	for _, entry := range entries {
		s.publish(entry)
	}
	return nil
}

// SetMany upserts items in one round-trip where the backend allows; no
// cross-key atomicity, and partial application on failure is not rolled
// back.
func (s *Service) SetMany(ctx context.Context, items []Item) error {
	return s.WarmUp(ctx, items)
}

// GetMany returns the values present among keys; missing keys are omitted.
// Expired entries are omitted (and left for lazy eviction on point reads).
func (s *Service) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	ks := make([]Key, 0, len(keys))
	for _, raw := range keys {
		k, err := s.key(raw)
		if err != nil {
			return nil, err
		}
		ks = append(ks, k)
	}
	entries, err := s.repo.FindByKeys(ctx, ks)
	if err != nil {
		return nil, backendErr("get many", err)
	}
	now := s.opts.Clock()
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsExpiredAt(now) {
			continue
		}
		out[s.strip(entry.Key())] = entry.Value()
	}
	return out, nil
}

// Increment atomically adds amount to the counter under key, creating it at
// zero when absent, and returns the new value.
func (s *Service) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	k, err := s.key(key)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.Increment(ctx, k, amount, s.opts.DefaultTTL)
	if err != nil {
		return 0, backendErr("increment", err)
	}
	return n, nil
}

// Decrement atomically subtracts amount from the counter under key.
func (s *Service) Decrement(ctx context.Context, key string, amount int64) (int64, error) {
	k, err := s.key(key)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.Decrement(ctx, k, amount, s.opts.DefaultTTL)
	if err != nil {
		return 0, backendErr("decrement", err)
	}
	return n, nil
}

// GetAndSet atomically swaps in value and returns the previous value;
// present is false when the key was absent.
func (s *Service) GetAndSet(ctx context.Context, key, value string, opts ...WriteOption) (string, bool, error) {
	k, err := s.key(key)
	if err != nil {
		return "", false, err
	}
	ttl, err := s.writeTTL(opts)
	if err != nil {
		return "", false, err
	}
	prev, present, err := s.repo.GetAndSet(ctx, k, value, ttl)
	if err != nil {
		return "", false, backendErr("get and set", err)
	}
	return prev, present, nil
}

// SetIfNotExists stores value only when key is absent and reports whether
// the write happened.
func (s *Service) SetIfNotExists(ctx context.Context, key, value string, opts ...WriteOption) (bool, error) {
	k, err := s.key(key)
	if err != nil {
		return false, err
	}
	ttl, err := s.writeTTL(opts)
	if err != nil {
		return false, err
	}
	set, err := s.repo.SetIfNotExists(ctx, k, value, ttl)
	if err != nil {
		return false, backendErr("set if not exists", err)
	}
	return set, nil
}

// GetAndDelete atomically pops the value under key; present is false when
// the key was absent.
func (s *Service) GetAndDelete(ctx context.Context, key string) (string, bool, error) {
	k, err := s.key(key)
	if err != nil {
		return "", false, err
	}
	value, present, err := s.repo.GetAndDelete(ctx, k)
	if err != nil {
		return "", false, backendErr("get and delete", err)
	}
	return value, present, nil
}

// ExtendTTL refreshes the expiry of key without rewriting its value and
// reports whether the key was present.
func (s *Service) ExtendTTL(ctx context.Context, key string, ttl TTL) (bool, error) {
	k, err := s.key(key)
	if err != nil {
		return false, err
	}
	ok, err := s.repo.ExtendTTL(ctx, k, ttl)
	if err != nil {
		return false, backendErr("extend ttl", err)
	}
	return ok, nil
}

// Ping verifies backend connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return backendErr("ping", err)
	}
	return nil
}

func (s *Service) key(raw string) (Key, error) {
	k, err := NewKey(raw)
	if err != nil {
		return Key{}, err
	}
	if s.opts.KeyPrefix != "" {
		k = k.WithPrefix(s.opts.KeyPrefix)
	}
	return k, nil
}

func (s *Service) strip(k Key) string {
	raw := k.String()
	if s.opts.KeyPrefix == "" {
		return raw
	}
	prefix := s.opts.KeyPrefix + ":"
	if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
		return raw[len(prefix):]
	}
	return raw
}

func (s *Service) pattern(p string) string {
	if s.opts.KeyPrefix == "" {
		return p
	}
	return s.opts.KeyPrefix + ":" + p
}

func (s *Service) writeTTL(opts []WriteOption) (TTL, error) {
	var w writeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&w)
		}
	}
	if w.ttl != nil {
		return *w.ttl, nil
	}
	return s.opts.DefaultTTL, nil
}

func (s *Service) buildEntry(k Key, value string, opts []WriteOption) (*Entry, error) {
	var w writeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&w)
		}
	}
	ttl := s.opts.DefaultTTL
	if w.ttl != nil {
		ttl = *w.ttl
	}
	tags, err := NewTags(w.tags...)
	if err != nil {
		return nil, err
	}
	return newEntry(k, value, ttl, tags, w.metadata, s.opts.Clock)
}

func (s *Service) buildItems(items []Item) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(items))
	for _, item := range items {
		k, err := s.key(item.Key)
		if err != nil {
			return nil, err
		}
		ttl := s.opts.DefaultTTL
		if item.TTL != nil {
			ttl = *item.TTL
		}
		tags, err := NewTags(item.Tags...)
		if err != nil {
			return nil, err
		}
		entry, err := newEntry(k, item.Value, ttl, tags, item.Metadata, s.opts.Clock)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) publish(entry *Entry) {
	if s.opts.EventSink == nil {
		entry.DrainEvents()
		return
	}
	if events := entry.DrainEvents(); len(events) > 0 {
		s.opts.EventSink.Publish(events...)
	}
}

func (s *Service) publishExpiry(entry *Entry) {
	if s.opts.EventSink == nil {
		return
	}
	entry.Expire()
	s.publish(entry)
}

// ResetAccounting zeroes the process-local hit/miss counters.
func (s *Service) ResetAccounting() {
	s.hits.Store(0)
	s.misses.Store(0)
}
