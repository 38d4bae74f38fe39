package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/khanakat/cachekit/cache"
	testredis "github.com/khanakat/cachekit/internal/testutil/rediscontainer"
)

var redisAvailable bool

func TestMain(m *testing.M) {
	if err := testredis.Setup(); err != nil {
		fmt.Println("redis integration tests skipped:", err)
	} else {
		redisAvailable = true
	}

	code := m.Run()

	if redisAvailable {
		if err := testredis.Teardown(); err != nil {
			fmt.Fprintln(os.Stderr, "warning: failed to stop redis test container:", err)
		}
	}

	os.Exit(code)
}

// newTestRepository isolates each test under its own key prefix.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	if !redisAvailable {
		t.Skip("docker unavailable")
	}
	repo := NewRepository(Options{
		Addr:      testredis.Addr(),
		KeyPrefix: fmt.Sprintf("t%d:", time.Now().UnixNano()),
	})
	t.Cleanup(func() { _ = repo.Close() })
	return repo
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
	entry, err := cache.NewEntry(cache.MustKey(key), value, ttl, parsed, map[string]string{"source": "test"})
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	return entry
}

func TestRepositorySaveFindDelete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	entry := mustEntry(t, "users:1", "payload", cache.TTLOneHour, "users")
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
	if !got.HasTag(cache.MustTag("users")) {
		t.Fatal("tag lost in round trip")
	}
	if got.Metadata()["source"] != "test" {
		t.Fatalf("Metadata() = %v", got.Metadata())
	}
	if got.TTL() != cache.TTLOneHour {
		t.Fatalf("TTL() = %d", got.TTL().Seconds())
	}

	if err := repo.Delete(ctx, cache.MustKey("users:1")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.FindByKey(ctx, cache.MustKey("users:1")); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("FindByKey() after delete error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryNativeExpiry(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	ttl, _ := cache.NewTTL(1)
	if err := repo.Save(ctx, mustEntry(t, "short", "v", ttl)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := repo.FindByKey(ctx, cache.MustKey("short")); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("FindByKey() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryFindByKeys(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	for _, k := range []string{"a", "b"} {
		if err := repo.Save(ctx, mustEntry(t, k, "v:"+k, cache.TTLOneHour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	got, err := repo.FindByKeys(ctx, []cache.Key{cache.MustKey("a"), cache.MustKey("b"), cache.MustKey("absent")})
	if err != nil {
		t.Fatalf("FindByKeys() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FindByKeys() len = %d, want 2", len(got))
	}
	if got[cache.MustKey("a")].Value() != "v:a" {
		t.Fatalf("FindByKeys()[a] = %+v", got[cache.MustKey("a")])
	}
}

func TestRepositoryDeleteByTagMaintainsIndex(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	if err := repo.Save(ctx, mustEntry(t, "a", "1", cache.TTLOneHour, "users")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, mustEntry(t, "b", "2", cache.TTLOneHour, "users", "premium")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, mustEntry(t, "c", "3", cache.TTLOneHour, "other")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	keys, err := repo.KeysByTag(ctx, cache.MustTag("users"))
	if err != nil {
		t.Fatalf("KeysByTag() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("KeysByTag() len = %d, want 2", len(keys))
	}

	removed, err := repo.DeleteByTag(ctx, cache.MustTag("users"))
	if err != nil {
		t.Fatalf("DeleteByTag() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("DeleteByTag() = %d, want 2", removed)
	}
	if _, err := repo.FindByKey(ctx, cache.MustKey("c")); err != nil {
		t.Fatalf("untagged entry removed: %v", err)
	}
	// The tag index entry for a removed entry is gone too.
	keys, err = repo.KeysByTag(ctx, cache.MustTag("premium"))
	if err != nil {
		t.Fatalf("KeysByTag() error = %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("stale tag index entries: %v", keys)
	}
}

func TestRepositoryPatternScan(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	for _, k := range []string{"users:1", "users:2", "orders:1"} {
		if err := repo.Save(ctx, mustEntry(t, k, "v", cache.TTLOneHour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	keys, err := repo.KeysByPattern(ctx, "users:*")
	if err != nil {
		t.Fatalf("KeysByPattern() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("KeysByPattern() len = %d, want 2", len(keys))
	}

	removed, err := repo.DeleteByPattern(ctx, "users:*")
	if err != nil {
		t.Fatalf("DeleteByPattern() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("DeleteByPattern() = %d, want 2", removed)
	}
}

func TestRepositoryIncrementAtomic(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)
	key := cache.MustKey("counter")

	const workers = 4
	const perWorker = 25
	done := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			for j := 0; j < perWorker; j++ {
				if _, err := repo.Increment(ctx, key, 1, cache.TTLOneHour); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
	}

	n, err := repo.Increment(ctx, key, 0, cache.TTLOneHour)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if n != workers*perWorker {
		t.Fatalf("counter = %d, want %d", n, workers*perWorker)
	}
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
	if _, err := repo.FindByKey(ctx, key); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("FindByKey() after pop error = %v, want ErrNotFound", err)
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

	if _, err := repo.GetTTL(ctx, cache.MustKey("absent")); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("GetTTL(absent) error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryStatisticsAndClear(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("s:%d", i)
		if err := repo.Save(ctx, mustEntry(t, key, "v", cache.TTLOneHour, "stats")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	stats, err := repo.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalEntries != 3 || stats.ActiveEntries != 3 {
		t.Fatalf("entry counts = %d/%d, want 3/3", stats.TotalEntries, stats.ActiveEntries)
	}
	if stats.EntriesByTag["stats"] != 3 {
		t.Fatalf("EntriesByTag = %v", stats.EntriesByTag)
	}

	removed, err := repo.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("Clear() = %d, want 3", removed)
	}
	count, err := repo.CountAll(ctx)
	if err != nil {
		t.Fatalf("CountAll() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("CountAll() after clear = %d", count)
	}
}

func TestRepositoryPingAndClose(t *testing.T) {
	repo := newTestRepository(t)
	ctx := testContext(t)

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := repo.Ping(ctx); !errors.Is(err, cache.ErrClosed) {
		t.Fatalf("Ping() after close error = %v, want ErrClosed", err)
	}
}
