package cache

import (
	"context"
	"time"
)

// Repository is the storage contract the engine depends on. Implementations
// may be in-memory maps, Redis, SQL tables, or anything else that satisfies
// the semantics below.
//
// All operations must be safe for concurrent use. Operations scoped to a
// single key (Save, Delete, Increment, Decrement, GetAndSet, SetIfNotExists,
// GetAndDelete, ExtendTTL) must behave atomically with respect to that key:
// two callers racing on the same key observe one operation applied before
// the other, never an interleaving. No atomicity is required across keys, so
// SetMany and GetMany may partially apply on failure.
//
// Point lookups return ErrNotFound for absent keys. Expiry enforcement is
// lazy at the engine level; a repository may additionally sweep expired
// entries (see FindExpired / FindExpiringBefore) but nothing depends on it
// doing so.
type Repository interface {
	// Save upserts the entry under its key, replacing any previous entry.
	Save(ctx context.Context, entry *Entry) error

	// FindByKey returns the entry stored under key, or ErrNotFound.
	FindByKey(ctx context.Context, key Key) (*Entry, error)

	// FindByKeys returns the entries present among keys; absent keys are
	// simply omitted from the result.
	FindByKeys(ctx context.Context, keys []Key) (map[Key]*Entry, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key Key) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	// DeleteMany removes the given keys and returns how many were present.
	DeleteMany(ctx context.Context, keys []Key) (int64, error)

	// DeleteByTag removes every entry whose tag set contains tag and
	// returns the number removed.
	DeleteByTag(ctx context.Context, tag Tag) (int64, error)

	// DeleteByTags removes every entry matching any of tags (union
	// semantics) and returns the number removed.
	DeleteByTags(ctx context.Context, tags []Tag) (int64, error)

	// DeleteByPattern removes every entry whose key matches the glob
	// pattern and returns the number removed. The glob dialect is
	// backend-defined but must be self-consistent.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	// Clear removes all entries and returns the number removed.
	Clear(ctx context.Context) (int64, error)

	// Search returns the entries matching criteria.
	Search(ctx context.Context, criteria Criteria) ([]*Entry, error)

	// Enumeration helpers.
	FindByTag(ctx context.Context, tag Tag) ([]*Entry, error)
	FindByTags(ctx context.Context, tags []Tag) ([]*Entry, error)
	FindByPattern(ctx context.Context, pattern string) ([]*Entry, error)
	FindExpired(ctx context.Context) ([]*Entry, error)
	FindExpiringBefore(ctx context.Context, at time.Time) ([]*Entry, error)

	// Counters.
	Count(ctx context.Context, criteria Criteria) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountExpired(ctx context.Context) (int64, error)

	// Statistics aggregates repository-wide counters. Miss accounting is
	// the service's job; the Misses and HitRate fields are left zero here.
	Statistics(ctx context.Context) (Statistics, error)

	// Key enumeration.
	KeysByTag(ctx context.Context, tag Tag) ([]Key, error)
	KeysByPattern(ctx context.Context, pattern string) ([]Key, error)
	AllKeys(ctx context.Context) ([]Key, error)

	// Increment atomically adds amount to the numeric counter stored under
	// key, creating it at zero first when absent, and returns the new
	// value. The counter entry carries the given ttl when created.
	Increment(ctx context.Context, key Key, amount int64, ttl TTL) (int64, error)

	// Decrement is Increment with a negated amount.
	Decrement(ctx context.Context, key Key, amount int64, ttl TTL) (int64, error)

	// GetAndSet atomically replaces the value under key and returns the
	// previous value; previous is false when the key was absent.
	GetAndSet(ctx context.Context, key Key, value string, ttl TTL) (prev string, present bool, err error)

	// SetIfNotExists stores value only when key is absent and reports
	// whether the write happened.
	SetIfNotExists(ctx context.Context, key Key, value string, ttl TTL) (bool, error)

	// GetAndDelete atomically removes key and returns its value; present
	// is false when the key was absent.
	GetAndDelete(ctx context.Context, key Key) (value string, present bool, err error)

	// SetMany upserts entries with no cross-key atomicity.
	SetMany(ctx context.Context, entries []*Entry) error

	// GetMany is FindByKeys returning raw values.
	GetMany(ctx context.Context, keys []Key) (map[Key]string, error)

	// ExtendTTL refreshes the expiry of key from now without rewriting the
	// value; it reports whether the key was present.
	ExtendTTL(ctx context.Context, key Key, ttl TTL) (bool, error)

	// GetTTL returns the remaining lifetime of key in seconds; zero for
	// entries with no expiration, ErrNotFound for absent keys.
	GetTTL(ctx context.Context, key Key) (int64, error)

	// IsExpired reports whether key is present but past its expiry.
	IsExpired(ctx context.Context, key Key) (bool, error)

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases resources held by the repository.
	Close() error
}

// Criteria narrows Search and Count. Zero-valued fields are ignored; the
// populated fields combine conjunctively.
type Criteria struct {
	// Tags matches entries carrying any of the given tags.
	Tags []Tag
	// KeyPattern matches keys against a backend-defined glob.
	KeyPattern string
	// CreatedAfter / CreatedBefore bound the creation instant.
	CreatedAfter  time.Time
	CreatedBefore time.Time
	// ExpiresBefore matches entries whose expiry falls before the instant;
	// entries with no expiration never match.
	ExpiresBefore time.Time
	// MinHitCount matches entries read at least this many times.
	MinHitCount int64
	// Limit caps the result set; zero means unbounded.
	Limit int
}

// IsZero reports whether no criterion is set.
func (c Criteria) IsZero() bool {
	return len(c.Tags) == 0 && c.KeyPattern == "" &&
		c.CreatedAfter.IsZero() && c.CreatedBefore.IsZero() &&
		c.ExpiresBefore.IsZero() && c.MinHitCount == 0 && c.Limit == 0
}

// Matches reports whether entry satisfies every populated criterion except
// KeyPattern, which backends evaluate in their own glob dialect.
func (c Criteria) Matches(entry *Entry) bool {
	if len(c.Tags) > 0 && !entry.HasAnyTag(c.Tags...) {
		return false
	}
	if !c.CreatedAfter.IsZero() && !entry.CreatedAt().After(c.CreatedAfter) {
		return false
	}
	if !c.CreatedBefore.IsZero() && !entry.CreatedAt().Before(c.CreatedBefore) {
		return false
	}
	if !c.ExpiresBefore.IsZero() {
		at, ok := entry.ExpiresAt()
		if !ok || !at.Before(c.ExpiresBefore) {
			return false
		}
	}
	if c.MinHitCount > 0 && entry.HitCount() < c.MinHitCount {
		return false
	}
	return true
}

// Statistics is a point-in-time aggregate over the whole cache.
type Statistics struct {
	TotalEntries   int64
	ActiveEntries  int64
	ExpiredEntries int64
	// Hits is the sum of per-entry hit counts; Misses and HitRate are
	// filled in by the service from its own accounting.
	Hits    int64
	Misses  int64
	HitRate float64
	// MemoryBytes approximates the payload footprint.
	MemoryBytes int64
	OldestEntry time.Time
	NewestEntry time.Time
	// EntriesByTag counts entries per tag.
	EntriesByTag map[string]int64
}
