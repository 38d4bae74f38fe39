package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/khanakat/cachekit/cache"
	testpg "github.com/khanakat/cachekit/internal/testutil/postgrescontainer"
	"github.com/khanakat/cachekit/postgres"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	if err := testpg.Setup(); err != nil {
		fmt.Println("postgres integration tests skipped:", err)
	} else {
		db, err := testpg.Open()
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to open test database:", err)
			os.Exit(1)
		}
		testDB = db
	}

	code := m.Run()

	if testDB != nil {
		_ = testDB.Close()
		if err := testpg.Teardown(); err != nil {
			fmt.Fprintln(os.Stderr, "warning: failed to stop postgres test container:", err)
		}
	}

	os.Exit(code)
}

func newTestRepository(t *testing.T) *postgres.Repository {
	t.Helper()
	if testDB == nil {
		t.Skip("docker unavailable")
	}
	if _, err := testDB.Exec("TRUNCATE cache_entries"); err != nil {
		t.Fatalf("failed to reset table: %v", err)
	}
	return postgres.NewRepository(testDB)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustEntry(t *testing.T, key, value string, ttl cache.TTL, tags ...string) *cache.Entry {
	t.Helper()
	parsed, err := cache.NewTags(tags...)
	if err != nil {
		t.Fatalf("NewTags() error = %v", err)
	}
	entry, err := cache.NewEntry(cache.MustKey(key), value, ttl, parsed, map[string]string{"origin": "test"})
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	return entry
}

// expiredEntry builds an entry whose expiry already passed.
func expiredEntry(t *testing.T, key string) *cache.Entry {
	t.Helper()
	past := time.Now().UTC().Add(-time.Hour)
	return cache.RestoreEntry(cache.MustKey(key), "stale", cache.TTLOneMinute, nil, nil, 0,
		past, past, past.Add(time.Minute))
}

func TestRepositorySaveFindRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	entry := mustEntry(t, "users:1", "payload", cache.TTLOneHour, "users", "premium")
	if err := repo.Save(ctx, entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.FindByKey(ctx, cache.MustKey("users:1"))
	if err != nil {
		t.Fatalf("FindByKey() error = %v", err)
	}
	if got.Value() != "payload" {
		t.Fatalf("Value() = %q", got.Value())
	}
	if got.TTL() != cache.TTLOneHour {
		t.Fatalf("TTL() = %d", got.TTL().Seconds())
	}
	if !got.HasTag(cache.MustTag("users")) || !got.HasTag(cache.MustTag("premium")) {
		t.Fatalf("Tags() = %v", got.Tags())
	}
	if got.Metadata()["origin"] != "test" {
		t.Fatalf("Metadata() = %v", got.Metadata())
	}

	// Saving the same key again replaces the row.
	if err := repo.Save(ctx, mustEntry(t, "users:1", "updated", cache.TTLOneHour)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err = repo.FindByKey(ctx, cache.MustKey("users:1"))
	if err != nil {
		t.Fatalf("FindByKey() error = %v", err)
	}
	if got.Value() != "updated" {
		t.Fatalf("Value() after upsert = %q", got.Value())
	}
}

func TestRepositoryExpiredVisibility(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	if err := repo.Save(ctx, expiredEntry(t, "gone")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// FindByKey still surfaces the raw row so callers can lazily evict.
	got, err := repo.FindByKey(ctx, cache.MustKey("gone"))
	if err != nil {
		t.Fatalf("FindByKey() error = %v", err)
	}
	if !got.IsExpired() {
		t.Fatal("IsExpired() = false for a stale row")
	}

	// Exists treats the row as absent.
	exists, err := repo.Exists(ctx, cache.MustKey("gone"))
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatal("Exists() = true for a stale row")
	}

	expired, err := repo.FindExpired(ctx)
	if err != nil {
		t.Fatalf("FindExpired() error = %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("FindExpired() len = %d, want 1", len(expired))
	}
}

func TestRepositoryDeleteByTagsOverlap(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	seeds := map[string][]string{
		"a": {"users"},
		"b": {"users", "premium"},
		"c": {"orders"},
	}
	for key, tags := range seeds {
		if err := repo.Save(ctx, mustEntry(t, key, "v", cache.TTLOneHour, tags...)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	tags, _ := cache.NewTags("users", "orders")
	removed, err := repo.DeleteByTags(ctx, tags)
	if err != nil {
		t.Fatalf("DeleteByTags() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("DeleteByTags() = %d, want 3", removed)
	}
}

func TestRepositoryPatternMatching(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	for _, k := range []string{"users:1", "users:22", "orders:1", "users_raw"} {
		if err := repo.Save(ctx, mustEntry(t, k, "v", cache.TTLOneHour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	tests := []struct {
		pattern string
		want    int
	}{
		{"users:*", 2},
		{"users:?", 1},
		{"*:1", 2},
		// Underscore in a key is literal, not a LIKE wildcard.
		{"users_raw", 1},
		{"usersXraw", 0},
	}
	for _, tt := range tests {
		keys, err := repo.KeysByPattern(ctx, tt.pattern)
		if err != nil {
			t.Fatalf("KeysByPattern(%q) error = %v", tt.pattern, err)
		}
		if len(keys) != tt.want {
			t.Fatalf("KeysByPattern(%q) len = %d, want %d", tt.pattern, len(keys), tt.want)
		}
	}

	removed, err := repo.DeleteByPattern(ctx, "users:*")
	if err != nil {
		t.Fatalf("DeleteByPattern() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("DeleteByPattern() = %d, want 2", removed)
	}
}

func TestRepositorySearchCriteria(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	if err := repo.Save(ctx, mustEntry(t, "users:1", "v", cache.TTLOneHour, "users")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, mustEntry(t, "users:2", "v", cache.TTLNoExpiration, "users")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, mustEntry(t, "orders:1", "v", cache.TTLOneHour, "orders")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tags, _ := cache.NewTags("users")
	found, err := repo.Search(ctx, cache.Criteria{Tags: tags})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Search(tags) len = %d, want 2", len(found))
	}

	// No-expiration entries never match ExpiresBefore.
	found, err = repo.Search(ctx, cache.Criteria{ExpiresBefore: time.Now().UTC().Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Search(expiresBefore) len = %d, want 2", len(found))
	}

	count, err := repo.Count(ctx, cache.Criteria{KeyPattern: "users:*"})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("Count() = %d, want 2", count)
	}
}

func TestRepositoryIncrementResetsExpiredCounter(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)
	key := cache.MustKey("counter")

	n, err := repo.Increment(ctx, key, 5, cache.TTLOneHour)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if n != 5 {
		t.Fatalf("Increment() = %d, want 5", n)
	}
	n, err = repo.Decrement(ctx, key, 2, cache.TTLOneHour)
	if err != nil {
		t.Fatalf("Decrement() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Decrement() = %d, want 3", n)
	}

	// An expired counter restarts from zero rather than accumulating.
	if err := repo.Save(ctx, expiredEntryWithValue(t, "stale-counter", "40")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	n, err = repo.Increment(ctx, cache.MustKey("stale-counter"), 2, cache.TTLOneHour)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Increment() over expired = %d, want 2", n)
	}
}

func expiredEntryWithValue(t *testing.T, key, value string) *cache.Entry {
	t.Helper()
	past := time.Now().UTC().Add(-time.Hour)
	return cache.RestoreEntry(cache.MustKey(key), value, cache.TTLOneMinute, nil, nil, 0,
		past, past, past.Add(time.Minute))
}

func TestRepositorySetIfNotExists(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)
	key := cache.MustKey("once")

	set, err := repo.SetIfNotExists(ctx, key, "v1", cache.TTLOneHour)
	if err != nil {
		t.Fatalf("SetIfNotExists() error = %v", err)
	}
	if !set {
		t.Fatal("first SetIfNotExists() = false")
	}
	set, err = repo.SetIfNotExists(ctx, key, "v2", cache.TTLOneHour)
	if err != nil {
		t.Fatalf("SetIfNotExists() error = %v", err)
	}
	if set {
		t.Fatal("second SetIfNotExists() = true")
	}

	// An expired row does not block the write.
	if err := repo.Save(ctx, expiredEntry(t, "stale")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	set, err = repo.SetIfNotExists(ctx, cache.MustKey("stale"), "fresh", cache.TTLOneHour)
	if err != nil {
		t.Fatalf("SetIfNotExists() error = %v", err)
	}
	if !set {
		t.Fatal("SetIfNotExists() over an expired row = false")
	}
}

func TestRepositoryGetAndSetGetAndDelete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)
	key := cache.MustKey("swap")

	prev, present, err := repo.GetAndSet(ctx, key, "first", cache.TTLOneHour)
	if err != nil {
		t.Fatalf("GetAndSet() error = %v", err)
	}
	if present || prev != "" {
		t.Fatalf("GetAndSet(absent) = (%q, %v)", prev, present)
	}
	prev, present, err = repo.GetAndSet(ctx, key, "second", cache.TTLOneHour)
	if err != nil {
		t.Fatalf("GetAndSet() error = %v", err)
	}
	if !present || prev != "first" {
		t.Fatalf("GetAndSet() = (%q, %v)", prev, present)
	}

	value, present, err := repo.GetAndDelete(ctx, key)
	if err != nil {
		t.Fatalf("GetAndDelete() error = %v", err)
	}
	if !present || value != "second" {
		t.Fatalf("GetAndDelete() = (%q, %v)", value, present)
	}
	exists, err := repo.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatal("row survived GetAndDelete()")
	}
}

func TestRepositoryExtendTTLAndGetTTL(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)
	key := cache.MustKey("extend")

	if err := repo.Save(ctx, mustEntry(t, "extend", "v", cache.TTLOneMinute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ok, err := repo.ExtendTTL(ctx, key, cache.TTLOneHour)
	if err != nil {
		t.Fatalf("ExtendTTL() error = %v", err)
	}
	if !ok {
		t.Fatal("ExtendTTL() = false for a live key")
	}
	ttl, err := repo.GetTTL(ctx, key)
	if err != nil {
		t.Fatalf("GetTTL() error = %v", err)
	}
	if ttl <= 60 {
		t.Fatalf("GetTTL() = %d, want > 60", ttl)
	}

	// No-expiration entries report zero remaining.
	if err := repo.Save(ctx, mustEntry(t, "forever", "v", cache.TTLNoExpiration)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ttl, err = repo.GetTTL(ctx, cache.MustKey("forever"))
	if err != nil {
		t.Fatalf("GetTTL() error = %v", err)
	}
	if ttl != 0 {
		t.Fatalf("GetTTL(no expiration) = %d, want 0", ttl)
	}

	if _, err := repo.GetTTL(ctx, cache.MustKey("absent")); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("GetTTL(absent) error = %v, want ErrNotFound", err)
	}

	ok, err = repo.ExtendTTL(ctx, cache.MustKey("absent"), cache.TTLOneHour)
	if err != nil {
		t.Fatalf("ExtendTTL() error = %v", err)
	}
	if ok {
		t.Fatal("ExtendTTL() = true for an absent key")
	}
}

func TestRepositoryStatistics(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	live := mustEntry(t, "live", "0123456789", cache.TTLOneHour, "stats")
	live.IncrementHitCount()
	live.IncrementHitCount()
	if err := repo.Save(ctx, live); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, mustEntry(t, "also", "v", cache.TTLOneHour, "stats")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, expiredEntry(t, "stale")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stats, err := repo.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalEntries != 3 || stats.ActiveEntries != 2 || stats.ExpiredEntries != 1 {
		t.Fatalf("entry counts = %d/%d/%d, want 3/2/1",
			stats.TotalEntries, stats.ActiveEntries, stats.ExpiredEntries)
	}
	if stats.Hits != 2 {
		t.Fatalf("Hits = %d, want 2", stats.Hits)
	}
	if stats.EntriesByTag["stats"] != 2 {
		t.Fatalf("EntriesByTag = %v", stats.EntriesByTag)
	}
	if stats.MemoryBytes <= 0 {
		t.Fatalf("MemoryBytes = %d", stats.MemoryBytes)
	}
	if stats.OldestEntry.After(stats.NewestEntry) {
		t.Fatalf("age bounds inverted: %v > %v", stats.OldestEntry, stats.NewestEntry)
	}
}

func TestRepositoryBatchAndClear(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	entries := []*cache.Entry{
		mustEntry(t, "b:1", "1", cache.TTLOneHour),
		mustEntry(t, "b:2", "2", cache.TTLOneHour),
	}
	if err := repo.SetMany(ctx, entries); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	values, err := repo.GetMany(ctx, []cache.Key{cache.MustKey("b:1"), cache.MustKey("b:2"), cache.MustKey("b:3")})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(values) != 2 || values[cache.MustKey("b:2")] != "2" {
		t.Fatalf("GetMany() = %v", values)
	}

	removed, err := repo.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("Clear() = %d, want 2", removed)
	}
	count, err := repo.CountAll(ctx)
	if err != nil {
		t.Fatalf("CountAll() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("CountAll() after clear = %d", count)
	}
}
