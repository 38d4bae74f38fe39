// Package memory provides the reference in-memory implementation of the
// cache.Repository contract. It is the default backend when no external
// store is configured and doubles as the fixture for service tests.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/khanakat/cachekit/cache"
)

// Options configures a Repository.
type Options struct {
	// JanitorInterval enables a background sweep of expired entries at
	// the given period. Zero disables the janitor; lazy read-time expiry
	// keeps the cache correct either way.
	JanitorInterval time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithJanitor enables the background expiry sweep.
func WithJanitor(interval time.Duration) Option {
	return func(o *Options) {
		if interval > 0 {
			o.JanitorInterval = interval
		}
	}
}

// Repository is a map-backed cache.Repository guarded by a single RWMutex.
// Mutations run under the write lock, which satisfies the per-key
// atomicity the contract asks for.
type Repository struct {
	mu      sync.RWMutex
	entries map[string]*cache.Entry
	closed  bool
	stop    chan struct{}
}

// NewRepository builds an empty in-memory repository.
func NewRepository(opts ...Option) *Repository {
	var cfg Options
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	r := &Repository{entries: make(map[string]*cache.Entry)}
	if cfg.JanitorInterval > 0 {
		r.stop = make(chan struct{})
		go r.janitor(cfg.JanitorInterval)
	}
	return r
}

func (r *Repository) Save(_ context.Context, entry *cache.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return cache.ErrClosed
	}
	r.entries[entry.Key().String()] = snapshot(entry)
	return nil
}

func (r *Repository) FindByKey(_ context.Context, key cache.Key) (*cache.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, cache.ErrClosed
	}
	entry, ok := r.entries[key.String()]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return snapshot(entry), nil
}

func (r *Repository) FindByKeys(_ context.Context, keys []cache.Key) (map[cache.Key]*cache.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, cache.ErrClosed
	}
	out := make(map[cache.Key]*cache.Entry, len(keys))
	for _, k := range keys {
		if entry, ok := r.entries[k.String()]; ok {
			out[k] = snapshot(entry)
		}
	}
	return out, nil
}

func (r *Repository) Exists(_ context.Context, key cache.Key) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, cache.ErrClosed
	}
	entry, ok := r.entries[key.String()]
	return ok && !entry.IsExpired(), nil
}

func (r *Repository) Delete(_ context.Context, key cache.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return cache.ErrClosed
	}
	delete(r.entries, key.String())
	return nil
}

func (r *Repository) DeleteMany(_ context.Context, keys []cache.Key) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, cache.ErrClosed
	}
	var removed int64
	for _, k := range keys {
		if _, ok := r.entries[k.String()]; ok {
			delete(r.entries, k.String())
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) DeleteByTag(ctx context.Context, tag cache.Tag) (int64, error) {
	return r.DeleteByTags(ctx, []cache.Tag{tag})
}

func (r *Repository) DeleteByTags(_ context.Context, tags []cache.Tag) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, cache.ErrClosed
	}
	var removed int64
	for key, entry := range r.entries {
		if entry.HasAnyTag(tags...) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) DeleteByPattern(_ context.Context, pattern string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, cache.ErrClosed
	}
	var removed int64
	for key := range r.entries {
		if globMatch(pattern, key) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) Clear(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, cache.ErrClosed
	}
	removed := int64(len(r.entries))
	r.entries = make(map[string]*cache.Entry)
	return removed, nil
}

func (r *Repository) Search(_ context.Context, criteria cache.Criteria) ([]*cache.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, cache.ErrClosed
	}
	var out []*cache.Entry
	for key, entry := range r.entries {
		if criteria.KeyPattern != "" && !globMatch(criteria.KeyPattern, key) {
			continue
		}
		if !criteria.Matches(entry) {
			continue
		}
		out = append(out, snapshot(entry))
		if criteria.Limit > 0 && len(out) >= criteria.Limit {
			break
		}
	}
	return out, nil
}

func (r *Repository) FindByTag(ctx context.Context, tag cache.Tag) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{Tags: []cache.Tag{tag}})
}

func (r *Repository) FindByTags(ctx context.Context, tags []cache.Tag) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{Tags: tags})
}

func (r *Repository) FindByPattern(ctx context.Context, pattern string) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{KeyPattern: pattern})
}

func (r *Repository) FindExpired(_ context.Context) ([]*cache.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, cache.ErrClosed
	}
	var out []*cache.Entry
	for _, entry := range r.entries {
		if entry.IsExpired() {
			out = append(out, snapshot(entry))
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

func (r *Repository) CountAll(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, cache.ErrClosed
	}
	return int64(len(r.entries)), nil
}

func (r *Repository) CountExpired(ctx context.Context) (int64, error) {
	expired, err := r.FindExpired(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(expired)), nil
}

func (r *Repository) Statistics(_ context.Context) (cache.Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return cache.Statistics{}, cache.ErrClosed
	}
	stats := cache.Statistics{EntriesByTag: make(map[string]int64)}
	for key, entry := range r.entries {
		stats.TotalEntries++
		if entry.IsExpired() {
			stats.ExpiredEntries++
		} else {
			stats.ActiveEntries++
		}
		stats.Hits += entry.HitCount()
		stats.MemoryBytes += approxSize(key, entry)
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
	entries, err := r.FindByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	return keysOf(entries), nil
}

func (r *Repository) KeysByPattern(ctx context.Context, pattern string) ([]cache.Key, error) {
	entries, err := r.FindByPattern(ctx, pattern)
	if err != nil {
		return nil, err
	}
	return keysOf(entries), nil
}

func (r *Repository) AllKeys(_ context.Context) ([]cache.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, cache.ErrClosed
	}
	out := make([]cache.Key, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Key())
	}
	return out, nil
}

func (r *Repository) Increment(_ context.Context, key cache.Key, amount int64, ttl cache.TTL) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, cache.ErrClosed
	}
	var current int64
	entry, ok := r.entries[key.String()]
	if ok && !entry.IsExpired() {
		parsed, err := strconv.ParseInt(entry.Value(), 10, 64)
		if err != nil {
			return 0, &cache.BackendError{Op: "increment", Err: err}
		}
		current = parsed
	}
	next := current + amount
	if ok && !entry.IsExpired() {
		entry.Update(strconv.FormatInt(next, 10), nil)
		r.entries[key.String()] = snapshot(entry)
		return next, nil
	}
	fresh, err := cache.NewEntry(key, strconv.FormatInt(next, 10), ttl, nil, nil)
	if err != nil {
		return 0, err
	}
	r.entries[key.String()] = snapshot(fresh)
	return next, nil
}

func (r *Repository) Decrement(ctx context.Context, key cache.Key, amount int64, ttl cache.TTL) (int64, error) {
	return r.Increment(ctx, key, -amount, ttl)
}

func (r *Repository) GetAndSet(_ context.Context, key cache.Key, value string, ttl cache.TTL) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", false, cache.ErrClosed
	}
	var (
		prev    string
		present bool
	)
	if entry, ok := r.entries[key.String()]; ok && !entry.IsExpired() {
		prev, present = entry.Value(), true
	}
	fresh, err := cache.NewEntry(key, value, ttl, nil, nil)
	if err != nil {
		return "", false, err
	}
	r.entries[key.String()] = snapshot(fresh)
	return prev, present, nil
}

func (r *Repository) SetIfNotExists(_ context.Context, key cache.Key, value string, ttl cache.TTL) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, cache.ErrClosed
	}
	if entry, ok := r.entries[key.String()]; ok && !entry.IsExpired() {
		return false, nil
	}
	fresh, err := cache.NewEntry(key, value, ttl, nil, nil)
	if err != nil {
		return false, err
	}
	r.entries[key.String()] = snapshot(fresh)
	return true, nil
}

func (r *Repository) GetAndDelete(_ context.Context, key cache.Key) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", false, cache.ErrClosed
	}
	entry, ok := r.entries[key.String()]
	if !ok {
		return "", false, nil
	}
	delete(r.entries, key.String())
	if entry.IsExpired() {
		return "", false, nil
	}
	return entry.Value(), true, nil
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

func (r *Repository) ExtendTTL(_ context.Context, key cache.Key, ttl cache.TTL) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, cache.ErrClosed
	}
	entry, ok := r.entries[key.String()]
	if !ok || entry.IsExpired() {
		return false, nil
	}
	entry.Update(entry.Value(), &ttl)
	r.entries[key.String()] = snapshot(entry)
	return true, nil
}

func (r *Repository) GetTTL(_ context.Context, key cache.Key) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, cache.ErrClosed
	}
	entry, ok := r.entries[key.String()]
	if !ok {
		return 0, cache.ErrNotFound
	}
	return entry.RemainingTTL(), nil
}

func (r *Repository) IsExpired(_ context.Context, key cache.Key) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, cache.ErrClosed
	}
	entry, ok := r.entries[key.String()]
	if !ok {
		return false, cache.ErrNotFound
	}
	return entry.IsExpired(), nil
}

func (r *Repository) Ping(_ context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return cache.ErrClosed
	}
	return nil
}

func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.stop != nil {
		close(r.stop)
	}
	r.entries = nil
	return nil
}

func (r *Repository) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.closed {
				r.mu.Unlock()
				return
			}
			for key, entry := range r.entries {
				if entry.IsExpired() {
					delete(r.entries, key)
				}
			}
			r.mu.Unlock()
		}
	}
}

// snapshot clones an entry so callers never alias the stored copy. Cloning
// through RestoreEntry also drops any pending events.
func snapshot(entry *cache.Entry) *cache.Entry {
	expires, _ := entry.ExpiresAt()
	return cache.RestoreEntry(
		entry.Key(),
		entry.Value(),
		entry.TTL(),
		entry.Tags(),
		entry.Metadata(),
		entry.HitCount(),
		entry.CreatedAt(),
		entry.UpdatedAt(),
		expires,
	)
}

func approxSize(key string, entry *cache.Entry) int64 {
	size := int64(len(key) + len(entry.Value()))
	for _, tag := range entry.Tags() {
		size += int64(len(tag.String()))
	}
	for k, v := range entry.Metadata() {
		size += int64(len(k) + len(v))
	}
	return size
}

func keysOf(entries []*cache.Entry) []cache.Key {
	out := make([]cache.Key, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Key())
	}
	return out
}
