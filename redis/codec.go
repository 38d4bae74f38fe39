package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/khanakat/cachekit/cache"
)

// Entries are stored as Redis hashes with these fields. Timestamps are unix
// milliseconds; expires is 0 for entries that never expire. tags and meta
// are JSON so Lua scripts can maintain the tag index with cjson.
const (
	fieldValue   = "v"
	fieldTTL     = "ttl"
	fieldHits    = "hits"
	fieldCreated = "created"
	fieldUpdated = "updated"
	fieldExpires = "expires"
	fieldTags    = "tags"
	fieldMeta    = "meta"
)

type entryRecord struct {
	value   string
	ttl     int64
	hits    int64
	created int64
	updated int64
	expires int64
	tags    string
	meta    string
}

func encodeEntry(entry *cache.Entry) (entryRecord, error) {
	tags, err := json.Marshal(cache.TagStrings(entry.Tags()))
	if err != nil {
		return entryRecord{}, err
	}
	meta := []byte("{}")
	if m := entry.Metadata(); len(m) > 0 {
		meta, err = json.Marshal(m)
		if err != nil {
			return entryRecord{}, err
		}
	}
	var expires int64
	if at, ok := entry.ExpiresAt(); ok {
		expires = at.UnixMilli()
	}
	return entryRecord{
		value:   entry.Value(),
		ttl:     entry.TTL().Seconds(),
		hits:    entry.HitCount(),
		created: entry.CreatedAt().UnixMilli(),
		updated: entry.UpdatedAt().UnixMilli(),
		expires: expires,
		tags:    string(tags),
		meta:    string(meta),
	}, nil
}

// decodeEntry rebuilds an entry from an HGETALL reply (alternating field
// and value bulk strings).
func decodeEntry(rawKey string, resp any) (*cache.Entry, error) {
	arr, ok := resp.([]any)
	if !ok || len(arr) == 0 {
		return nil, cache.ErrNotFound
	}
	fields := make(map[string]string, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		name, ok1 := bulkString(arr[i])
		value, ok2 := bulkString(arr[i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("redis: malformed entry hash for %q", rawKey)
		}
		fields[name] = value
	}
	key, err := cache.NewKey(rawKey)
	if err != nil {
		return nil, err
	}
	ttlSeconds, err := parseInt(fields[fieldTTL])
	if err != nil {
		return nil, fmt.Errorf("redis: entry %q: bad ttl: %w", rawKey, err)
	}
	ttl, err := cache.NewTTL(ttlSeconds)
	if err != nil {
		return nil, err
	}
	hits, err := parseInt(fields[fieldHits])
	if err != nil {
		return nil, fmt.Errorf("redis: entry %q: bad hit count: %w", rawKey, err)
	}
	created, err := parseInt(fields[fieldCreated])
	if err != nil {
		return nil, fmt.Errorf("redis: entry %q: bad created: %w", rawKey, err)
	}
	updated, err := parseInt(fields[fieldUpdated])
	if err != nil {
		return nil, fmt.Errorf("redis: entry %q: bad updated: %w", rawKey, err)
	}
	expires, err := parseInt(fields[fieldExpires])
	if err != nil {
		return nil, fmt.Errorf("redis: entry %q: bad expires: %w", rawKey, err)
	}

	var rawTags []string
	if fields[fieldTags] != "" {
		if err := json.Unmarshal([]byte(fields[fieldTags]), &rawTags); err != nil {
			return nil, fmt.Errorf("redis: entry %q: bad tags: %w", rawKey, err)
		}
	}
	tags, err := cache.NewTags(rawTags...)
	if err != nil {
		return nil, err
	}
	var metadata map[string]string
	if fields[fieldMeta] != "" && fields[fieldMeta] != "{}" {
		if err := json.Unmarshal([]byte(fields[fieldMeta]), &metadata); err != nil {
			return nil, fmt.Errorf("redis: entry %q: bad metadata: %w", rawKey, err)
		}
	}

	var expiresAt time.Time
	if expires > 0 {
		expiresAt = time.UnixMilli(expires).UTC()
	}
	return cache.RestoreEntry(
		key,
		fields[fieldValue],
		ttl,
		tags,
		metadata,
		hits,
		time.UnixMilli(created).UTC(),
		time.UnixMilli(updated).UTC(),
		expiresAt,
	), nil
}

func bulkString(v any) (string, bool) {
	switch s := v.(type) {
	case []byte:
		return string(s), true
	case string:
		return s, true
	default:
		return "", false
	}
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
