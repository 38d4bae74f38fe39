// Package redis implements the cache.Repository contract against a Redis
// server, speaking RESP directly over a pooled TCP connection. Entries are
// stored as hashes, the tag index as sets, and multi-step atomic
// primitives run as server-side Lua scripts. Redis's own PEXPIREAT handles
// expiry, so this backend actively sweeps where the others rely on lazy
// read-time eviction alone.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/khanakat/cachekit/cache"
)

// Repository is a Redis-backed cache.Repository.
type Repository struct {
	opts   Options
	dialFn dialFunc
	pool   chan *clientConn
	closed atomic.Bool
}

// NewRepository builds a Redis repository. It does not dial eagerly; the
// first operation (or Ping) establishes a connection.
func NewRepository(opts Options) *Repository {
	cfg := opts.withDefaults()
	return &Repository{opts: cfg, dialFn: defaultDial, pool: make(chan *clientConn, cfg.PoolSize)}
}

// WithDial allows overriding the dialer (useful for tests/mocks).
func (r *Repository) WithDial(fn dialFunc) {
	if fn != nil {
		r.dialFn = fn
	}
}

func (r *Repository) entryKey(raw string) string { return r.opts.KeyPrefix + "e:" + raw }
func (r *Repository) tagPrefix() string          { return r.opts.KeyPrefix + "t:" }
func (r *Repository) tagKey(tag cache.Tag) string {
	return r.tagPrefix() + tag.String()
}
func (r *Repository) keySet() string { return r.opts.KeyPrefix + "keys" }

func (r *Repository) rawKey(entryKey string) string {
	return strings.TrimPrefix(entryKey, r.opts.KeyPrefix+"e:")
}

func (r *Repository) Save(ctx context.Context, entry *cache.Entry) error {
	if r.closed.Load() {
		return cache.ErrClosed
	}
	rec, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	raw := entry.Key().String()
	_, err = r.do(ctx, "EVAL", saveScript, "1", r.entryKey(raw),
		rec.value, formatInt(rec.ttl), formatInt(rec.hits),
		formatInt(rec.created), formatInt(rec.updated), formatInt(rec.expires),
		rec.tags, rec.meta,
		raw, r.tagPrefix(), r.keySet(),
	)
	return err
}

func (r *Repository) FindByKey(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	if r.closed.Load() {
		return nil, cache.ErrClosed
	}
	resp, err := r.do(ctx, "HGETALL", r.entryKey(key.String()))
	if err != nil {
		return nil, err
	}
	return decodeEntry(key.String(), resp)
}

func (r *Repository) FindByKeys(ctx context.Context, keys []cache.Key) (map[cache.Key]*cache.Entry, error) {
	out := make(map[cache.Key]*cache.Entry, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	p, err := r.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		p.queue("HGETALL", r.entryKey(k.String()))
	}
	replies, err := p.exec(ctx)
	if err != nil {
		return nil, err
	}
	for i, reply := range replies {
		entry, err := decodeEntry(keys[i].String(), reply)
		if err != nil {
			if err == cache.ErrNotFound {
				continue
			}
			return nil, err
		}
		out[keys[i]] = entry
	}
	return out, nil
}

func (r *Repository) Exists(ctx context.Context, key cache.Key) (bool, error) {
	resp, err := r.do(ctx, "EXISTS", r.entryKey(key.String()))
	if err != nil {
		return false, err
	}
	n, _ := resp.(int64)
	return n > 0, nil
}

func (r *Repository) Delete(ctx context.Context, key cache.Key) error {
	_, err := r.deleteRaw(ctx, key.String())
	return err
}

func (r *Repository) deleteRaw(ctx context.Context, raw string) (int64, error) {
	resp, err := r.do(ctx, "EVAL", deleteScript, "1", r.entryKey(raw),
		raw, r.tagPrefix(), r.keySet())
	if err != nil {
		return 0, err
	}
	n, _ := resp.(int64)
	return n, nil
}

func (r *Repository) DeleteMany(ctx context.Context, keys []cache.Key) (int64, error) {
	var removed int64
	for _, k := range keys {
		n, err := r.deleteRaw(ctx, k.String())
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (r *Repository) DeleteByTag(ctx context.Context, tag cache.Tag) (int64, error) {
	return r.DeleteByTags(ctx, []cache.Tag{tag})
}

func (r *Repository) DeleteByTags(ctx context.Context, tags []cache.Tag) (int64, error) {
	raws, err := r.keysTaggedAny(ctx, tags)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, raw := range raws {
		n, err := r.deleteRaw(ctx, raw)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (r *Repository) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	entryKeys, err := r.scan(ctx, r.opts.KeyPrefix+"e:"+pattern)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, ek := range entryKeys {
		n, err := r.deleteRaw(ctx, r.rawKey(ek))
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (r *Repository) Clear(ctx context.Context) (int64, error) {
	entryKeys, err := r.scan(ctx, r.opts.KeyPrefix+"e:*")
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, ek := range entryKeys {
		resp, err := r.do(ctx, "DEL", ek)
		if err != nil {
			return removed, err
		}
		if n, _ := resp.(int64); n > 0 {
			removed += n
		}
	}
	tagKeys, err := r.scan(ctx, r.tagPrefix()+"*")
	if err != nil {
		return removed, err
	}
	for _, tk := range tagKeys {
		if _, err := r.do(ctx, "DEL", tk); err != nil {
			return removed, err
		}
	}
	if _, err := r.do(ctx, "DEL", r.keySet()); err != nil {
		return removed, err
	}
	return removed, nil
}

func (r *Repository) Search(ctx context.Context, criteria cache.Criteria) ([]*cache.Entry, error) {
	match := r.opts.KeyPrefix + "e:*"
	if criteria.KeyPattern != "" {
		match = r.opts.KeyPrefix + "e:" + criteria.KeyPattern
	}
	entryKeys, err := r.scan(ctx, match)
	if err != nil {
		return nil, err
	}
	entries, err := r.load(ctx, entryKeys)
	if err != nil {
		return nil, err
	}
	var out []*cache.Entry
	for _, entry := range entries {
		if !criteria.Matches(entry) {
			continue
		}
		out = append(out, entry)
		if criteria.Limit > 0 && len(out) >= criteria.Limit {
			break
		}
	}
	return out, nil
}

func (r *Repository) FindByTag(ctx context.Context, tag cache.Tag) ([]*cache.Entry, error) {
	return r.FindByTags(ctx, []cache.Tag{tag})
}

func (r *Repository) FindByTags(ctx context.Context, tags []cache.Tag) ([]*cache.Entry, error) {
	raws, err := r.keysTaggedAny(ctx, tags)
	if err != nil {
		return nil, err
	}
	entryKeys := make([]string, len(raws))
	for i, raw := range raws {
		entryKeys[i] = r.entryKey(raw)
	}
	return r.load(ctx, entryKeys)
}

func (r *Repository) FindByPattern(ctx context.Context, pattern string) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{KeyPattern: pattern})
}

// FindExpired is usually empty on Redis: PEXPIREAT removes entries at their
// deadline, so expired keys vanish on their own.
func (r *Repository) FindExpired(ctx context.Context) ([]*cache.Entry, error) {
	entries, err := r.Search(ctx, cache.Criteria{})
	if err != nil {
		return nil, err
	}
	var out []*cache.Entry
	for _, entry := range entries {
		if entry.IsExpired() {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *Repository) FindExpiringBefore(ctx context.Context, at time.Time) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{ExpiresBefore: at})
}

func (r *Repository) Count(ctx context.Context, criteria cache.Criteria) (int64, error) {
	entries, err := r.Search(ctx, criteria)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

func (r *Repository) CountAll(ctx context.Context) (int64, error) {
	entryKeys, err := r.scan(ctx, r.opts.KeyPrefix+"e:*")
	if err != nil {
		return 0, err
	}
	return int64(len(entryKeys)), nil
}

func (r *Repository) CountExpired(ctx context.Context) (int64, error) {
	expired, err := r.FindExpired(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(expired)), nil
}

func (r *Repository) Statistics(ctx context.Context) (cache.Statistics, error) {
	entries, err := r.Search(ctx, cache.Criteria{})
	if err != nil {
		return cache.Statistics{}, err
	}
	stats := cache.Statistics{EntriesByTag: make(map[string]int64)}
	for _, entry := range entries {
		stats.TotalEntries++
		if entry.IsExpired() {
			stats.ExpiredEntries++
		} else {
			stats.ActiveEntries++
		}
		stats.Hits += entry.HitCount()
		stats.MemoryBytes += int64(len(entry.Key().String()) + len(entry.Value()))
		if stats.OldestEntry.IsZero() || entry.CreatedAt().Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt()
		}
		if entry.CreatedAt().After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt()
		}
		for _, tag := range entry.Tags() {
			stats.EntriesByTag[tag.String()]++
		}
	}
	return stats, nil
}

func (r *Repository) KeysByTag(ctx context.Context, tag cache.Tag) ([]cache.Key, error) {
	raws, err := r.keysTaggedAny(ctx, []cache.Tag{tag})
	if err != nil {
		return nil, err
	}
	return r.toKeys(raws)
}

func (r *Repository) KeysByPattern(ctx context.Context, pattern string) ([]cache.Key, error) {
	entryKeys, err := r.scan(ctx, r.opts.KeyPrefix+"e:"+pattern)
	if err != nil {
		return nil, err
	}
	raws := make([]string, len(entryKeys))
	for i, ek := range entryKeys {
		raws[i] = r.rawKey(ek)
	}
	return r.toKeys(raws)
}

func (r *Repository) AllKeys(ctx context.Context) ([]cache.Key, error) {
	return r.KeysByPattern(ctx, "*")
}

func (r *Repository) Increment(ctx context.Context, key cache.Key, amount int64, ttl cache.TTL) (int64, error) {
	return r.applyDelta(ctx, key, amount, ttl)
}

func (r *Repository) Decrement(ctx context.Context, key cache.Key, amount int64, ttl cache.TTL) (int64, error) {
	return r.applyDelta(ctx, key, -amount, ttl)
}

func (r *Repository) applyDelta(ctx context.Context, key cache.Key, delta int64, ttl cache.TTL) (int64, error) {
	now := time.Now().UTC()
	expires := int64(0)
	if at, ok := ttl.ExpiresAt(now); ok {
		expires = at.UnixMilli()
	}
	resp, err := r.do(ctx, "EVAL", incrementScript, "1", r.entryKey(key.String()),
		formatInt(delta), formatInt(ttl.Seconds()), formatInt(now.UnixMilli()),
		formatInt(expires), key.String(), r.keySet())
	if err != nil {
		return 0, err
	}
	n, _ := resp.(int64)
	return n, nil
}

func (r *Repository) GetAndSet(ctx context.Context, key cache.Key, value string, ttl cache.TTL) (string, bool, error) {
	now := time.Now().UTC()
	expires := int64(0)
	if at, ok := ttl.ExpiresAt(now); ok {
		expires = at.UnixMilli()
	}
	resp, err := r.do(ctx, "EVAL", getAndSetScript, "1", r.entryKey(key.String()),
		value, formatInt(ttl.Seconds()), formatInt(now.UnixMilli()), formatInt(expires),
		key.String(), r.tagPrefix(), r.keySet())
	if err != nil {
		return "", false, err
	}
	if resp == nil {
		return "", false, nil
	}
	prev, _ := bulkString(resp)
	return prev, true, nil
}

func (r *Repository) SetIfNotExists(ctx context.Context, key cache.Key, value string, ttl cache.TTL) (bool, error) {
	now := time.Now().UTC()
	expires := int64(0)
	if at, ok := ttl.ExpiresAt(now); ok {
		expires = at.UnixMilli()
	}
	resp, err := r.do(ctx, "EVAL", setIfNotExistsScript, "1", r.entryKey(key.String()),
		value, formatInt(ttl.Seconds()), formatInt(now.UnixMilli()), formatInt(expires),
		key.String(), r.keySet())
	if err != nil {
		return false, err
	}
	n, _ := resp.(int64)
	return n == 1, nil
}

func (r *Repository) GetAndDelete(ctx context.Context, key cache.Key) (string, bool, error) {
	resp, err := r.do(ctx, "EVAL", getAndDeleteScript, "1", r.entryKey(key.String()),
		key.String(), r.tagPrefix(), r.keySet())
	if err != nil {
		return "", false, err
	}
	if resp == nil {
		return "", false, nil
	}
	value, _ := bulkString(resp)
	return value, true, nil
}

func (r *Repository) SetMany(ctx context.Context, entries []*cache.Entry) error {
	for _, entry := range entries {
		if err := r.Save(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetMany(ctx context.Context, keys []cache.Key) (map[cache.Key]string, error) {
	entries, err := r.FindByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[cache.Key]string, len(entries))
	for k, entry := range entries {
		out[k] = entry.Value()
	}
	return out, nil
}

func (r *Repository) ExtendTTL(ctx context.Context, key cache.Key, ttl cache.TTL) (bool, error) {
	now := time.Now().UTC()
	expires := int64(0)
	if at, ok := ttl.ExpiresAt(now); ok {
		expires = at.UnixMilli()
	}
	resp, err := r.do(ctx, "EVAL", extendTTLScript, "1", r.entryKey(key.String()),
		formatInt(ttl.Seconds()), formatInt(now.UnixMilli()), formatInt(expires))
	if err != nil {
		return false, err
	}
	n, _ := resp.(int64)
	return n == 1, nil
}

func (r *Repository) GetTTL(ctx context.Context, key cache.Key) (int64, error) {
	resp, err := r.do(ctx, "PTTL", r.entryKey(key.String()))
	if err != nil {
		return 0, err
	}
	ms, _ := resp.(int64)
	switch {
	case ms == -2:
		return 0, cache.ErrNotFound
	case ms < 0:
		return 0, nil
	default:
		return ms / 1000, nil
	}
}

// IsExpired reports false for any live entry: Redis removes entries at
// their deadline, so a present key is by definition unexpired and an
// absent one is ErrNotFound.
func (r *Repository) IsExpired(ctx context.Context, key cache.Key) (bool, error) {
	ok, err := r.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, cache.ErrNotFound
	}
	return false, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	resp, err := r.do(ctx, "PING")
	if err != nil {
		return err
	}
	if msg, ok := resp.(string); ok && strings.EqualFold(msg, "PONG") {
		return nil
	}
	return fmt.Errorf("redis: unexpected PING reply %v", resp)
}

func (r *Repository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	for {
		select {
		case conn := <-r.pool:
			_ = conn.Close()
		default:
			return nil
		}
	}
}

// keysTaggedAny unions the tag index sets for tags.
func (r *Repository) keysTaggedAny(ctx context.Context, tags []cache.Tag) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, tag := range tags {
		resp, err := r.do(ctx, "SMEMBERS", r.tagKey(tag))
		if err != nil {
			return nil, err
		}
		arr, _ := resp.([]any)
		for _, member := range arr {
			raw, ok := bulkString(member)
			if !ok {
				continue
			}
			if _, dup := seen[raw]; dup {
				continue
			}
			seen[raw] = struct{}{}
			out = append(out, raw)
		}
	}
	return out, nil
}

// scan walks the keyspace with SCAN MATCH, never KEYS.
func (r *Repository) scan(ctx context.Context, match string) ([]string, error) {
	var (
		cursor = "0"
		out    []string
	)
	for {
		resp, err := r.do(ctx, "SCAN", cursor, "MATCH", match, "COUNT", formatInt(int64(r.opts.ScanCount)))
		if err != nil {
			return nil, err
		}
		arr, ok := resp.([]any)
		if !ok || len(arr) != 2 {
			return nil, fmt.Errorf("redis: unexpected SCAN reply %T", resp)
		}
		next, _ := bulkString(arr[0])
		batch, _ := arr[1].([]any)
		for _, item := range batch {
			if s, ok := bulkString(item); ok {
				out = append(out, s)
			}
		}
		if next == "0" {
			return out, nil
		}
		cursor = next
	}
}

// load fetches and decodes entry hashes in one pipelined round-trip.
func (r *Repository) load(ctx context.Context, entryKeys []string) ([]*cache.Entry, error) {
	if len(entryKeys) == 0 {
		return nil, nil
	}
	p, err := r.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	for _, ek := range entryKeys {
		p.queue("HGETALL", ek)
	}
	replies, err := p.exec(ctx)
	if err != nil {
		return nil, err
	}
	var out []*cache.Entry
	for i, reply := range replies {
		entry, err := decodeEntry(r.rawKey(entryKeys[i]), reply)
		if err != nil {
			if err == cache.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *Repository) toKeys(raws []string) ([]cache.Key, error) {
	out := make([]cache.Key, 0, len(raws))
	for _, raw := range raws {
		k, err := cache.NewKey(raw)
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}
